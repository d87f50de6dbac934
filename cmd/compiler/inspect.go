package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"dtree-rule-compiler/internal/model"
	"dtree-rule-compiler/internal/utils"
	"dtree-rule-compiler/pkg/wellknown"
)

// maxAnnotations caps the well-known names listed per bucket.
const maxAnnotations = 4

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show partition tables and forwarding rules of a compiled policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			cfg, prog, err := compilePolicy(cmd)
			if err != nil {
				return err
			}
			renderProgram(cmd.OutOrStdout(), prog, cfg.FieldSpecs(), !noColor)
			return nil
		},
	}
	cmd.Flags().StringVarP(&policyFile, "policy", "p", "", "Decision-tree policy file (required)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when any policy line is skipped")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.MarkFlagRequired("policy")
	return cmd
}

func renderProgram(w io.Writer, prog *model.Program, fields []model.FieldSpec, colored bool) {
	plain := color.New()
	plain.DisableColor()
	header := plain
	forward := plain
	drop := plain
	warn := plain
	if colored {
		header = color.New(color.FgHiCyan, color.Bold)
		forward = color.New(color.FgGreen)
		drop = color.New(color.FgRed)
		warn = color.New(color.FgYellow)
	}

	for i, t := range prog.Tables {
		var kind model.FieldKind
		if i < len(fields) {
			kind = fields[i].Kind
		}
		header.Fprintf(w, "Field %s: %d bucket(s), max %#x\n", t.Field.Name, len(t.Buckets), t.Field.Max)
		width := utils.HexWidth(t.Field.Max)
		rows := make([][]string, 0, len(t.Buckets))
		for _, b := range t.Buckets {
			rows = append(rows, []string{
				strconv.Itoa(b.Index),
				utils.FormatHex(b.Low, width),
				utils.FormatHex(b.High, width),
				annotate(kind, b.Low, b.High),
			})
		}
		newTable(w, []string{"BUCKET", "LOW", "HIGH", "WELL-KNOWN"}, rows)
		fmt.Fprintln(w)
	}

	header.Fprintf(w, "Forwarding rules: %d\n", len(prog.Rules))
	rows := make([][]string, 0, len(prog.Rules))
	for _, r := range prog.Rules {
		ranges := make([]string, 0, len(r.Ranges))
		for i, br := range r.Ranges {
			ranges = append(ranges, fmt.Sprintf("%s:%d->%d", prog.Tables[i].Field.Name, br.Start, br.End))
		}
		outcome := drop.Sprint("drop")
		if !r.Resolution.Drop {
			outcome = forward.Sprintf("%s:%d", r.Resolution.Destination.Host, r.Resolution.Destination.Port)
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Leaf.Line),
			strconv.Itoa(r.Leaf.Class),
			strconv.Itoa(r.Resolution.Action),
			strings.Join(ranges, " "),
			outcome,
		})
	}
	newTable(w, []string{"LINE", "CLASS", "ACTION", "BUCKETS", "OUTCOME"}, rows)

	if len(prog.Diagnostics) > 0 {
		fmt.Fprintln(w)
		warn.Fprintf(w, "Skipped lines: %d\n", len(prog.Diagnostics))
		for _, d := range prog.Diagnostics {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}
}

func newTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}

func annotate(kind model.FieldKind, low, high uint64) string {
	if kind == "" {
		return ""
	}
	names := wellknown.Within(kind, low, high)
	if len(names) > maxAnnotations {
		return fmt.Sprintf("%s +%d more", strings.Join(names[:maxAnnotations], ","), len(names)-maxAnnotations)
	}
	return strings.Join(names, ",")
}
