package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dtree-rule-compiler/internal/config"
	"dtree-rule-compiler/internal/engine"
	"dtree-rule-compiler/internal/model"
	"dtree-rule-compiler/internal/parser"
)

const version = "0.4.0"

var (
	configFile      string
	logLevel        string
	logFile         string
	mappingProvider string
	mappingDSN      string

	policyFile  string
	outFile     string
	format      string
	strict      bool
	metricsFile string
	againstFile string
	packetsFile string
	resultsFile string
	noColor     bool
	targetStore string
	targetDSN   string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dtree-rule-compiler",
		Short: "Compile decision-tree policies into P4 match-action table entries",
		Long: `dtree-rule-compiler reads a decision-tree policy and produces range-partitioned
	match-action table entries for a programmable packet-processing pipeline.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(setupLogger(logLevel, logFile))
		},
	}

	// Set up flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Compiler configuration file (required)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")
	rootCmd.PersistentFlags().StringVar(&mappingProvider, "mapping-provider", "", "Override mapping.provider: 'file', 'csv', 'mariadb' or 'sqlite'")
	rootCmd.PersistentFlags().StringVar(&mappingDSN, "db", "", "Override mapping.dsn (for 'mariadb' and 'sqlite' providers)")

	rootCmd.AddCommand(
		newCompileCmd(),
		newInspectCmd(),
		newVerifyCmd(),
		newSimulateCmd(),
		newPushMappingCmd(),
		newSampleConfigCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger(level, logFilePath string) *slog.Logger {
	var logWriter io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logWriter = f
		}
		// The logger is not set up yet, so a failure falls back to stderr silently.
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: lvl}))
}

// loadConfig reads --config, letting --mapping-provider, --db and DTC_*
// environment variables override the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("a configuration file must be provided with --config")
	}
	v := viper.New()
	flags := cmd.Root().PersistentFlags()
	if f := flags.Lookup("mapping-provider"); f != nil && f.Changed {
		if err := v.BindPFlag("mapping.provider", f); err != nil {
			return nil, err
		}
	}
	if f := flags.Lookup("db"); f != nil && f.Changed {
		if err := v.BindPFlag("mapping.dsn", f); err != nil {
			return nil, err
		}
	}
	return config.Load(configFile, v)
}

func loadMapping(cfg *config.Config) (model.ActionMapping, error) {
	switch cfg.Mapping.Provider {
	case config.ProviderFile:
		return cfg.ActionMapping()
	case config.ProviderCSV:
		classesF, err := os.Open(cfg.Mapping.ClassesCSV)
		if err != nil {
			return model.ActionMapping{}, err
		}
		defer classesF.Close()
		actionsF, err := os.Open(cfg.Mapping.ActionsCSV)
		if err != nil {
			return model.ActionMapping{}, err
		}
		defer actionsF.Close()
		return parser.ParseMappingCSV(classesF, actionsF)
	case config.ProviderMariaDB, config.ProviderSQLite:
		store, err := parser.NewMappingStore(cfg.Mapping.Provider, cfg.Mapping.DSN)
		if err != nil {
			return model.ActionMapping{}, err
		}
		defer store.Close()
		return store.Load()
	default:
		return model.ActionMapping{}, fmt.Errorf("unknown mapping provider: %s", cfg.Mapping.Provider)
	}
}

// compilePolicy loads configuration and mapping, then compiles --policy.
func compilePolicy(cmd *cobra.Command) (*config.Config, *model.Program, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load configuration", "path", configFile, "error", err)
		return nil, nil, err
	}

	slog.Info("Loading class mapping...", "provider", cfg.Mapping.Provider)
	mapping, err := loadMapping(cfg)
	if err != nil {
		slog.Error("Failed to load class mapping", "provider", cfg.Mapping.Provider, "error", err)
		return nil, nil, err
	}
	slog.Info("Successfully loaded class mapping", "classes", len(mapping.Classes), "actions", len(mapping.Actions))

	if policyFile == "" {
		return nil, nil, fmt.Errorf("a policy file must be provided with --policy")
	}
	f, err := os.Open(policyFile)
	if err != nil {
		slog.Error("Failed to open policy file", "path", policyFile, "error", err)
		return nil, nil, err
	}
	defer f.Close()

	prog, err := engine.CompilePolicy(f, cfg.FieldSpecs(), mapping, engine.Options{
		Strict:   strict,
		Priority: cfg.Pipeline.Priority,
	})
	if err != nil {
		slog.Error("Failed to compile policy", "path", policyFile, "error", err)
		return cfg, nil, err
	}
	return cfg, prog, nil
}

// writeFileAtomic writes through a temporary file in the target directory
// and renames it into place, so a failed write leaves no partial output.
func writeFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dtree-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
