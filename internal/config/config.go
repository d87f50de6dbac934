// Package config loads the compiler configuration: the pipeline naming,
// the field table and the class -> action -> destination mapping.
//
// A configuration is initialized with InitDefaults and checked with
// Validate. The field table has no default; policy authors disagree on
// field names, so every configuration lists its fields explicitly.
package config

import (
	"fmt"
	"io"
	"math"
	"net/netip"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"dtree-rule-compiler/internal/model"
)

const (
	ProviderFile    = "file"
	ProviderCSV     = "csv"
	ProviderMariaDB = "mariadb"
	ProviderSQLite  = "sqlite"

	DefaultThriftPort    = 9090
	DefaultForwardTable  = "MyIngress.ipv4_exact"
	DefaultForwardAction = "MyIngress.ipv4_forward"
	DefaultDropAction    = "MyIngress.drop"
	DefaultPriority      = 1

	EnvPrefix = "DTC"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	Pipeline Pipeline      `mapstructure:"pipeline" toml:"pipeline" comment:"Target P4 program names and P4Runtime ids"`
	Fields   []Field       `mapstructure:"fields" toml:"fields" comment:"Match fields in forwarding-rule order"`
	Classes  []ClassEntry  `mapstructure:"classes" toml:"classes,omitempty" comment:"Class to action mapping (provider = file)"`
	Actions  []ActionEntry `mapstructure:"actions" toml:"actions,omitempty" comment:"Action to destination mapping, an action without host drops (provider = file)"`
	Mapping  Mapping       `mapstructure:"mapping" toml:"mapping" comment:"Where the class/action mapping is loaded from"`
}

type Pipeline struct {
	ThriftPort      int    `mapstructure:"thrift_port" toml:"thrift_port"`
	ForwardTable    string `mapstructure:"forward_table" toml:"forward_table"`
	ForwardAction   string `mapstructure:"forward_action" toml:"forward_action"`
	DropAction      string `mapstructure:"drop_action" toml:"drop_action"`
	Priority        int    `mapstructure:"priority" toml:"priority"`
	DeviceID        uint64 `mapstructure:"device_id" toml:"device_id,omitempty"`
	ForwardTableID  uint32 `mapstructure:"forward_table_id" toml:"forward_table_id,omitempty"`
	ForwardActionID uint32 `mapstructure:"forward_action_id" toml:"forward_action_id,omitempty"`
	DropActionID    uint32 `mapstructure:"drop_action_id" toml:"drop_action_id,omitempty"`
}

type Field struct {
	Name     string `mapstructure:"name" toml:"name"`
	Kind     string `mapstructure:"kind" toml:"kind,omitempty" comment:"protocol or port, used for well-known names"`
	Max      uint64 `mapstructure:"max" toml:"max"`
	Table    string `mapstructure:"table" toml:"table,omitempty"`
	Action   string `mapstructure:"action" toml:"action,omitempty"`
	TableID  uint32 `mapstructure:"table_id" toml:"table_id,omitempty"`
	ActionID uint32 `mapstructure:"action_id" toml:"action_id,omitempty"`
}

type ClassEntry struct {
	Class  int `mapstructure:"class" toml:"class"`
	Action int `mapstructure:"action" toml:"action"`
}

type ActionEntry struct {
	ID   int    `mapstructure:"id" toml:"id"`
	Host string `mapstructure:"host" toml:"host,omitempty"`
	Port uint16 `mapstructure:"port" toml:"port,omitempty"`
}

type Mapping struct {
	Provider   string `mapstructure:"provider" toml:"provider" comment:"file, csv, mariadb or sqlite"`
	DSN        string `mapstructure:"dsn" toml:"dsn,omitempty"`
	ClassesCSV string `mapstructure:"classes_csv" toml:"classes_csv,omitempty"`
	ActionsCSV string `mapstructure:"actions_csv" toml:"actions_csv,omitempty"`
}

// Load reads the configuration file through v, so that flags bound to v
// and DTC_* environment variables override file values.
func Load(path string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetConfigFile(path)
	// Keys must be known to viper for environment overrides to apply.
	for key, value := range map[string]any{
		"pipeline.thrift_port":    DefaultThriftPort,
		"pipeline.forward_table":  DefaultForwardTable,
		"pipeline.forward_action": DefaultForwardAction,
		"pipeline.drop_action":    DefaultDropAction,
		"pipeline.priority":       DefaultPriority,
		"pipeline.device_id":      0,
		"mapping.provider":        ProviderFile,
		"mapping.dsn":             "",
		"mapping.classes_csv":     "",
		"mapping.actions_csv":     "",
	} {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Decode reads a TOML configuration without viper, rejecting unknown keys.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) InitDefaults() {
	c.Pipeline.InitDefaults()
	for i := range c.Fields {
		c.Fields[i].InitDefaults(i + 1)
	}
	if c.Mapping.Provider == "" {
		c.Mapping.Provider = ProviderFile
	}
}

func (p *Pipeline) InitDefaults() {
	if p.ThriftPort == 0 {
		p.ThriftPort = DefaultThriftPort
	}
	if p.ForwardTable == "" {
		p.ForwardTable = DefaultForwardTable
	}
	if p.ForwardAction == "" {
		p.ForwardAction = DefaultForwardAction
	}
	if p.DropAction == "" {
		p.DropAction = DefaultDropAction
	}
	if p.Priority == 0 {
		p.Priority = DefaultPriority
	}
}

// InitDefaults names the field's partition table after its 1-based position.
func (f *Field) InitDefaults(position int) {
	if f.Table == "" {
		f.Table = fmt.Sprintf("MyIngress.feature%d_exact", position)
	}
	if f.Action == "" {
		f.Action = fmt.Sprintf("MyIngress.set_actionselect%d", position)
	}
}

func (c *Config) Validate() error {
	if c.Pipeline.Priority < 1 {
		return fmt.Errorf("pipeline.priority must be at least 1, got %d", c.Pipeline.Priority)
	}
	if c.Pipeline.ThriftPort < 1 || c.Pipeline.ThriftPort > 65535 {
		return fmt.Errorf("pipeline.thrift_port out of range: %d", c.Pipeline.ThriftPort)
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("no fields configured")
	}
	names := make(map[string]bool)
	for i, f := range c.Fields {
		if !identPattern.MatchString(f.Name) {
			return fmt.Errorf("fields[%d]: invalid name %q", i, f.Name)
		}
		if names[f.Name] {
			return fmt.Errorf("fields[%d]: duplicate name %q", i, f.Name)
		}
		names[f.Name] = true
		if f.Max == 0 {
			return fmt.Errorf("field %s: max must be positive", f.Name)
		}
		if f.Max >= math.MaxInt64 {
			return fmt.Errorf("field %s: max %d too large, must be below %d", f.Name, f.Max, uint64(math.MaxInt64))
		}
		switch model.FieldKind(f.Kind) {
		case "", model.KindProtocol, model.KindPort:
		default:
			return fmt.Errorf("field %s: unknown kind %q", f.Name, f.Kind)
		}
	}

	switch c.Mapping.Provider {
	case ProviderFile:
		if _, err := c.ActionMapping(); err != nil {
			return err
		}
	case ProviderCSV:
		if c.Mapping.ClassesCSV == "" || c.Mapping.ActionsCSV == "" {
			return fmt.Errorf("mapping.classes_csv and mapping.actions_csv are required for the csv provider")
		}
	case ProviderMariaDB, ProviderSQLite:
		if c.Mapping.DSN == "" {
			return fmt.Errorf("mapping.dsn is required for the %s provider", c.Mapping.Provider)
		}
	default:
		return fmt.Errorf("unknown mapping provider: %s", c.Mapping.Provider)
	}
	return nil
}

func (c *Config) FieldSpecs() []model.FieldSpec {
	specs := make([]model.FieldSpec, 0, len(c.Fields))
	for _, f := range c.Fields {
		specs = append(specs, model.FieldSpec{
			Name:     f.Name,
			Kind:     model.FieldKind(f.Kind),
			Max:      f.Max,
			Table:    f.Table,
			Action:   f.Action,
			TableID:  f.TableID,
			ActionID: f.ActionID,
		})
	}
	return specs
}

// ActionMapping converts the [[classes]] and [[actions]] tables.
func (c *Config) ActionMapping() (model.ActionMapping, error) {
	m := model.ActionMapping{
		Classes: make(map[int]int, len(c.Classes)),
		Actions: make(map[int]*model.Destination, len(c.Actions)),
	}
	for _, e := range c.Classes {
		if _, dup := m.Classes[e.Class]; dup {
			return model.ActionMapping{}, fmt.Errorf("class %d mapped twice", e.Class)
		}
		m.Classes[e.Class] = e.Action
	}
	for _, e := range c.Actions {
		if _, dup := m.Actions[e.ID]; dup {
			return model.ActionMapping{}, fmt.Errorf("action %d defined twice", e.ID)
		}
		dest, err := ParseDestination(e.Host, e.Port)
		if err != nil {
			return model.ActionMapping{}, fmt.Errorf("action %d: %w", e.ID, err)
		}
		m.Actions[e.ID] = dest
	}
	return m, nil
}

// ParseDestination returns nil (drop) for an empty host.
func ParseDestination(host string, port uint16) (*model.Destination, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		if port != 0 {
			return nil, fmt.Errorf("port %d given without host", port)
		}
		return nil, nil
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil, fmt.Errorf("invalid host: %w", err)
	}
	if !addr.Unmap().Is4() {
		return nil, fmt.Errorf("host %s is not an IPv4 address", host)
	}
	return &model.Destination{Host: addr.Unmap(), Port: port}, nil
}
