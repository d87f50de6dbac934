package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"dtree-rule-compiler/internal/emitter"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that a rules file matches what the policy compiles to",
		RunE:  runVerify,
	}
	cmd.Flags().StringVarP(&policyFile, "policy", "p", "", "Decision-tree policy file (required)")
	cmd.Flags().StringVar(&againstFile, "against", "", "Previously generated rules file (required)")
	cmd.Flags().StringVarP(&format, "format", "f", emitter.FormatCLI, "Format the rules file was generated in")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when any policy line is skipped")
	cmd.MarkFlagRequired("policy")
	cmd.MarkFlagRequired("against")
	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, prog, err := compilePolicy(cmd)
	if err != nil {
		return err
	}
	emit, err := emitter.New(format, cfg.Pipeline, cfg.FieldSpecs())
	if err != nil {
		return err
	}
	var want bytes.Buffer
	if err := emit.Emit(&want, prog); err != nil {
		return err
	}
	got, err := os.ReadFile(againstFile)
	if err != nil {
		slog.Error("Failed to read rules file", "path", againstFile, "error", err)
		return err
	}

	added, removed := writeLineDiff(cmd.OutOrStdout(), string(got), want.String())
	if added == 0 && removed == 0 {
		slog.Info("Rules file is up to date", "path", againstFile)
		return nil
	}
	slog.Warn("Rules file has drifted from the policy", "path", againstFile, "missing", added, "stale", removed)
	return fmt.Errorf("%s differs from compiled policy: %d missing line(s), %d stale line(s)", againstFile, added, removed)
}

// writeLineDiff prints a unified-style line diff from got to want and
// returns the number of added and removed lines.
func writeLineDiff(w io.Writer, got, want string) (added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(got, want)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			fmt.Fprint(w, prefix, line)
			if !strings.HasSuffix(line, "\n") {
				fmt.Fprintln(w)
			}
			if prefix == "+" {
				added++
			} else {
				removed++
			}
		}
	}
	return added, removed
}
