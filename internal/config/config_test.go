package config

import (
	"bytes"
	"math"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtree-rule-compiler/internal/model"
)

const minimalConfig = `
[[fields]]
name = "proto"
max = 0x20

[[fields]]
name = "dst"
kind = "port"
max = 0xFFFF

[[classes]]
class = 1
action = 2

[[actions]]
id = 2
host = "10.0.1.2"
port = 2
`

func TestDecodeAppliesDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, Pipeline{
		ThriftPort:    DefaultThriftPort,
		ForwardTable:  DefaultForwardTable,
		ForwardAction: DefaultForwardAction,
		DropAction:    DefaultDropAction,
		Priority:      DefaultPriority,
	}, cfg.Pipeline)
	assert.Equal(t, ProviderFile, cfg.Mapping.Provider)

	want := []model.FieldSpec{
		{Name: "proto", Max: 0x20, Table: "MyIngress.feature1_exact", Action: "MyIngress.set_actionselect1"},
		{Name: "dst", Kind: model.KindPort, Max: 0xFFFF, Table: "MyIngress.feature2_exact", Action: "MyIngress.set_actionselect2"},
	}
	if diff := cmp.Diff(want, cfg.FieldSpecs()); diff != "" {
		t.Errorf("field specs mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(strings.NewReader(minimalConfig + "\n[pipeline]\nthrift = 9090\n"))
	assert.Error(t, err)
}

func TestSampleRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Sample(&buf))
	assert.True(t, strings.HasPrefix(buf.String(), "# dtree-rule-compiler sample configuration."))

	cfg, err := Decode(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(SampleConfig(), cfg); diff != "" {
		t.Errorf("sample does not round-trip (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]func(c *Config){
		"no fields":               func(c *Config) { c.Fields = nil },
		"bad field name":          func(c *Config) { c.Fields[0].Name = "ip-proto" },
		"duplicate field":         func(c *Config) { c.Fields[1].Name = c.Fields[0].Name },
		"zero max":                func(c *Config) { c.Fields[0].Max = 0 },
		"max at int64 limit":      func(c *Config) { c.Fields[0].Max = math.MaxInt64 },
		"max above int64":         func(c *Config) { c.Fields[0].Max = math.MaxUint64 },
		"unknown kind":            func(c *Config) { c.Fields[0].Kind = "address" },
		"negative priority":       func(c *Config) { c.Pipeline.Priority = -1 },
		"thrift port":             func(c *Config) { c.Pipeline.ThriftPort = 70000 },
		"duplicate class":         func(c *Config) { c.Classes = append(c.Classes, ClassEntry{Class: 0, Action: 3}) },
		"duplicate action":        func(c *Config) { c.Actions = append(c.Actions, ActionEntry{ID: 2}) },
		"ipv6 destination":        func(c *Config) { c.Actions[1].Host = "2001:db8::1" },
		"unknown provider":        func(c *Config) { c.Mapping.Provider = "redis" },
		"csv without files":       func(c *Config) { c.Mapping.Provider = ProviderCSV },
		"sqlite without dsn":      func(c *Config) { c.Mapping.Provider = ProviderSQLite },
		"mariadb without dsn":     func(c *Config) { c.Mapping.Provider = ProviderMariaDB },
		"drop action with a port": func(c *Config) { c.Actions[0].Port = 9 },
	}
	require.NoError(t, SampleConfig().Validate())
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := SampleConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestActionMapping(t *testing.T) {
	m, err := SampleConfig().ActionMapping()
	require.NoError(t, err)
	assert.Equal(t, 4, m.Classes[4])
	assert.Nil(t, m.Actions[0])
	assert.Equal(t, &model.Destination{Host: netip.MustParseAddr("10.0.1.4"), Port: 4}, m.Actions[4])
}

func TestParseDestination(t *testing.T) {
	dest, err := ParseDestination(" ::ffff:10.0.1.2 ", 2)
	require.NoError(t, err)
	assert.True(t, dest.Host.Is4())

	dest, err = ParseDestination("", 0)
	require.NoError(t, err)
	assert.Nil(t, dest)

	_, err = ParseDestination("10.0.1", 2)
	assert.Error(t, err)
}

func TestLoadWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dtc.toml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig+"\n[pipeline]\npriority = 5\n"), 0644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.Priority)
	assert.Len(t, cfg.Fields, 2)
	assert.Equal(t, uint64(0xFFFF), cfg.Fields[1].Max)
	assert.Equal(t, "MyIngress.feature2_exact", cfg.Fields[1].Table)

	t.Setenv("DTC_PIPELINE_THRIFT_PORT", "9191")
	v := viper.New()
	v.Set("mapping.provider", ProviderSQLite)
	v.Set("mapping.dsn", "/tmp/mapping.db")
	cfg, err = Load(path, v)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Pipeline.ThriftPort)
	assert.Equal(t, ProviderSQLite, cfg.Mapping.Provider)
	assert.Equal(t, "/tmp/mapping.db", cfg.Mapping.DSN)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.toml")
	require.NoError(t, os.WriteFile(path, []byte("[pipeline]\npriority = 1\n"), 0644))
	_, err = Load(path, nil)
	assert.ErrorContains(t, err, "no fields configured")
}
