package emitter

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"dtree-rule-compiler/internal/config"
	"dtree-rule-compiler/internal/model"
	"dtree-rule-compiler/internal/utils"
)

// BMv2Emitter writes table_add commands for simple_switch_CLI. With Shell
// set, every command is wrapped into a here-string invocation and field
// groups are separated by blank lines, producing a runnable script.
type BMv2Emitter struct {
	Pipeline config.Pipeline
	Fields   []model.FieldSpec
	Shell    bool
}

// Commands returns one group of commands per partition table followed by
// the group of forwarding rules.
func (e *BMv2Emitter) Commands(prog *model.Program) ([][]string, error) {
	if err := checkFields(e.Fields, prog); err != nil {
		return nil, err
	}
	prio := e.Pipeline.Priority
	if prio < 1 {
		prio = config.DefaultPriority
	}

	groups := make([][]string, 0, len(prog.Tables)+1)
	for i, table := range prog.Tables {
		field := e.Fields[i]
		width := utils.HexWidth(table.Field.Max)
		cmds := make([]string, 0, len(table.Buckets))
		for _, b := range table.Buckets {
			cmds = append(cmds, fmt.Sprintf("table_add %s %s %s->%s => %d %d",
				field.Table, field.Action, utils.FormatHex(b.Low, width), utils.FormatHex(b.High, width), b.Index, prio))
		}
		groups = append(groups, cmds)
	}

	rules := make([]string, 0, len(prog.Rules))
	for _, rule := range prog.Rules {
		ranges := make([]string, 0, len(rule.Ranges))
		for _, r := range rule.Ranges {
			ranges = append(ranges, fmt.Sprintf("%d->%d", r.Start, r.End))
		}
		match := strings.Join(ranges, " ")
		rulePrio := rule.Priority
		if rulePrio < 1 {
			rulePrio = prio
		}
		if rule.Resolution.Drop {
			rules = append(rules, fmt.Sprintf("table_add %s %s %s => %d",
				e.Pipeline.ForwardTable, e.Pipeline.DropAction, match, rulePrio))
			continue
		}
		host, err := utils.IPv4Hex(rule.Resolution.Destination.Host)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", rule.Leaf.Line, err)
		}
		rules = append(rules, fmt.Sprintf("table_add %s %s %s => %s %d %d",
			e.Pipeline.ForwardTable, e.Pipeline.ForwardAction, match, host, rule.Resolution.Destination.Port, rulePrio))
	}
	return append(groups, rules), nil
}

func (e *BMv2Emitter) Emit(w io.Writer, prog *model.Program) error {
	groups, err := e.Commands(prog)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for i, cmds := range groups {
		for _, cmd := range cmds {
			if e.Shell {
				fmt.Fprintf(bw, "simple_switch_CLI --thrift-port %d <<< \"%s\";\n", e.Pipeline.ThriftPort, cmd)
			} else {
				fmt.Fprintln(bw, cmd)
			}
		}
		if e.Shell && len(cmds) > 0 && i < len(groups)-1 && len(groups[i+1]) > 0 {
			fmt.Fprintln(bw)
		}
	}
	return bw.Flush()
}
