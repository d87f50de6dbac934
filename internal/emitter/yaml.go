package emitter

import (
	"io"

	"gopkg.in/yaml.v2"

	"dtree-rule-compiler/internal/model"
)

type YAMLEmitter struct{}

type yamlProgram struct {
	Tables []yamlTable `yaml:"tables"`
	Rules  []yamlRule  `yaml:"rules"`
}

type yamlTable struct {
	Field       string       `yaml:"field"`
	Max         uint64       `yaml:"max"`
	Breakpoints []uint64     `yaml:"breakpoints,flow"`
	Buckets     []yamlBucket `yaml:"buckets"`
}

type yamlBucket struct {
	Index int    `yaml:"index"`
	Low   uint64 `yaml:"low"`
	High  uint64 `yaml:"high"`
}

type yamlRule struct {
	Line      int         `yaml:"line"`
	Condition string      `yaml:"condition"`
	Class     int         `yaml:"class"`
	Action    int         `yaml:"action"`
	Ranges    []yamlRange `yaml:"ranges"`
	Drop      bool        `yaml:"drop,omitempty"`
	Host      string      `yaml:"host,omitempty"`
	Port      uint16      `yaml:"port,omitempty"`
	Priority  int         `yaml:"priority"`
}

type yamlRange struct {
	Field string `yaml:"field"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

func (e *YAMLEmitter) Emit(w io.Writer, prog *model.Program) error {
	out := yamlProgram{
		Tables: make([]yamlTable, 0, len(prog.Tables)),
		Rules:  make([]yamlRule, 0, len(prog.Rules)),
	}
	for _, t := range prog.Tables {
		yt := yamlTable{Field: t.Field.Name, Max: t.Field.Max, Breakpoints: t.Field.Breakpoints}
		for _, b := range t.Buckets {
			yt.Buckets = append(yt.Buckets, yamlBucket{Index: b.Index, Low: b.Low, High: b.High})
		}
		out.Tables = append(out.Tables, yt)
	}
	for _, r := range prog.Rules {
		yr := yamlRule{
			Line:      r.Leaf.Line,
			Condition: r.Leaf.Condition,
			Class:     r.Leaf.Class,
			Action:    r.Resolution.Action,
			Drop:      r.Resolution.Drop,
			Priority:  r.Priority,
		}
		for i, br := range r.Ranges {
			yr.Ranges = append(yr.Ranges, yamlRange{Field: prog.Tables[i].Field.Name, Start: br.Start, End: br.End})
		}
		if !r.Resolution.Drop {
			yr.Host = r.Resolution.Destination.Host.String()
			yr.Port = r.Resolution.Destination.Port
		}
		out.Rules = append(out.Rules, yr)
	}
	raw, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}
