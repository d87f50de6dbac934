package config

import (
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
)

const sampleHeader = `# dtree-rule-compiler sample configuration.
#
# The field names below must match the names used in the policy file.
# Two conventions are in use (ip_proto/src_port/dst_port and
# proto/src/dst); pick the one your policies are written with.

`

// SampleConfig returns the configuration rendered by Sample.
func SampleConfig() *Config {
	cfg := &Config{
		Fields: []Field{
			{Name: "ip_proto", Kind: "protocol", Max: 0x20, TableID: 33554433, ActionID: 16777217},
			{Name: "src_port", Kind: "port", Max: 0xFFFF, TableID: 33554434, ActionID: 16777218},
			{Name: "dst_port", Kind: "port", Max: 0xFFFF, TableID: 33554435, ActionID: 16777219},
		},
		Classes: []ClassEntry{
			{Class: 0, Action: 2},
			{Class: 1, Action: 3},
			{Class: 2, Action: 2},
			{Class: 3, Action: 3},
			{Class: 4, Action: 4},
		},
		Actions: []ActionEntry{
			{ID: 0},
			{ID: 2, Host: "10.0.1.2", Port: 2},
			{ID: 3, Host: "10.0.1.3", Port: 3},
			{ID: 4, Host: "10.0.1.4", Port: 4},
		},
		Pipeline: Pipeline{
			ForwardTableID:  33554436,
			ForwardActionID: 16777220,
			DropActionID:    16777221,
		},
	}
	cfg.InitDefaults()
	return cfg
}

// Sample writes a commented sample configuration to w.
func Sample(w io.Writer) error {
	raw, err := toml.Marshal(SampleConfig())
	if err != nil {
		return fmt.Errorf("rendering sample config: %w", err)
	}
	if _, err := io.WriteString(w, sampleHeader); err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}
