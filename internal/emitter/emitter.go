// Package emitter serializes a compiled program into an installable rule
// program: BMv2 simple_switch_CLI commands, a P4Runtime write request, or
// YAML for other tooling.
package emitter

import (
	"fmt"
	"io"

	"dtree-rule-compiler/internal/config"
	"dtree-rule-compiler/internal/model"
)

const (
	FormatCLI       = "cli"
	FormatCommands  = "commands"
	FormatP4Runtime = "p4runtime"
	FormatYAML      = "yaml"
)

type Emitter interface {
	Emit(w io.Writer, prog *model.Program) error
}

func Formats() []string {
	return []string{FormatCLI, FormatCommands, FormatP4Runtime, FormatYAML}
}

// New returns the emitter for format. fields must be in the order the
// program's partition tables were built in.
func New(format string, pipeline config.Pipeline, fields []model.FieldSpec) (Emitter, error) {
	switch format {
	case FormatCLI:
		return &BMv2Emitter{Pipeline: pipeline, Fields: fields, Shell: true}, nil
	case FormatCommands:
		return &BMv2Emitter{Pipeline: pipeline, Fields: fields}, nil
	case FormatP4Runtime:
		return &P4RuntimeEmitter{Pipeline: pipeline, Fields: fields}, nil
	case FormatYAML:
		return &YAMLEmitter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

func checkFields(fields []model.FieldSpec, prog *model.Program) error {
	if len(fields) != len(prog.Tables) {
		return fmt.Errorf("program has %d partition tables but %d fields are configured", len(prog.Tables), len(fields))
	}
	for i, f := range fields {
		if f.Name != prog.Tables[i].Field.Name {
			return fmt.Errorf("partition table %d is for field %s, expected %s", i+1, prog.Tables[i].Field.Name, f.Name)
		}
	}
	return nil
}
