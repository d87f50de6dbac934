package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dtree-rule-compiler/internal/emitter"
	"dtree-rule-compiler/internal/metrics"
)

func newCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a policy into table entries",
		RunE:  runCompile,
	}
	cmd.Flags().StringVarP(&policyFile, "policy", "p", "", "Decision-tree policy file (required)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "rules-dt.sh", "Output file, '-' for stdout")
	cmd.Flags().StringVarP(&format, "format", "f", emitter.FormatCLI, "Output format: "+strings.Join(emitter.Formats(), ", "))
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when any policy line is skipped")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write compile metrics in Prometheus text format to this file")
	cmd.MarkFlagRequired("policy")
	return cmd
}

func runCompile(cmd *cobra.Command, args []string) error {
	slog.Info("Starting dtree-rule-compiler", "version", version, "policy", policyFile, "format", format)
	startTime := time.Now()

	stats := metrics.NewCompile()
	defer func() {
		if metricsFile == "" {
			return
		}
		if err := stats.WriteTextfile(metricsFile); err != nil {
			slog.Error("Failed to write metrics", "path", metricsFile, "error", err)
		}
	}()

	cfg, prog, err := compilePolicy(cmd)
	if err != nil {
		stats.Observe(nil, time.Since(startTime), time.Now())
		return err
	}

	emit, err := emitter.New(format, cfg.Pipeline, cfg.FieldSpecs())
	if err != nil {
		stats.Observe(nil, time.Since(startTime), time.Now())
		return err
	}
	write := func(w io.Writer) error { return emit.Emit(w, prog) }

	if outFile == "-" {
		err = write(cmd.OutOrStdout())
	} else {
		perm := os.FileMode(0644)
		if format == emitter.FormatCLI {
			perm = 0755
		}
		err = writeFileAtomic(outFile, perm, write)
	}
	if err != nil {
		slog.Error("Failed to write rules", "path", outFile, "error", err)
		stats.Observe(nil, time.Since(startTime), time.Now())
		return fmt.Errorf("writing rules: %w", err)
	}

	stats.Observe(prog, time.Since(startTime), time.Now())
	slog.Info("Compile complete",
		"tables", len(prog.Tables),
		"rules", len(prog.Rules),
		"skipped_lines", len(prog.Diagnostics),
		"output", outFile,
		"duration", time.Since(startTime))
	return nil
}
