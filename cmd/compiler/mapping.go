package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"dtree-rule-compiler/internal/config"
	"dtree-rule-compiler/internal/parser"
)

func newPushMappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push-mapping",
		Short: "Store the configured class mapping in a database",
		Long: `push-mapping loads the class/action mapping from the configured provider
	and replaces the contents of the mapping tables in the target database,
	creating them if needed.`,
		RunE: runPushMapping,
	}
	cmd.Flags().StringVar(&targetStore, "to", config.ProviderSQLite, "Target database: 'mariadb' or 'sqlite'")
	cmd.Flags().StringVar(&targetDSN, "dsn", "", "Target database connection string (required)")
	cmd.MarkFlagRequired("dsn")
	return cmd
}

func runPushMapping(cmd *cobra.Command, args []string) error {
	if targetStore != config.ProviderMariaDB && targetStore != config.ProviderSQLite {
		return fmt.Errorf("unsupported target database: %s", targetStore)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load configuration", "path", configFile, "error", err)
		return err
	}
	mapping, err := loadMapping(cfg)
	if err != nil {
		slog.Error("Failed to load class mapping", "provider", cfg.Mapping.Provider, "error", err)
		return err
	}

	store, err := parser.NewMappingStore(targetStore, targetDSN)
	if err != nil {
		slog.Error("Failed to connect to target database", "provider", targetStore, "error", err)
		return err
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		return fmt.Errorf("creating mapping tables: %w", err)
	}
	if err := store.Save(mapping); err != nil {
		return fmt.Errorf("storing mapping: %w", err)
	}
	slog.Info("Class mapping stored", "provider", targetStore, "classes", len(mapping.Classes), "actions", len(mapping.Actions))
	return nil
}

func newSampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sample-config",
		Short: "Print a sample configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Sample(cmd.OutOrStdout())
		},
	}
}
