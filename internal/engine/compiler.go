package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"dtree-rule-compiler/internal/model"
	"dtree-rule-compiler/internal/parser"
)

type Options struct {
	// Strict turns skipped policy lines into a compile failure.
	Strict bool
	// Priority is attached to every emitted entry.
	Priority int
}

// Input is the result of parsing a policy: field domains in field-table
// order, the leaves in source order and any skipped lines.
type Input struct {
	Domains     []model.FieldDomain
	Leaves      []model.LeafRule
	Diagnostics []*model.ParseError
}

// CompilePolicy parses policy text and compiles it in one pass.
func CompilePolicy(r io.Reader, fields []model.FieldSpec, mapping model.ActionMapping, opts Options) (*model.Program, error) {
	p := parser.NewPolicyParser(r, fields)
	if err := p.Parse(); err != nil {
		return nil, err
	}
	return Compile(Input{Domains: p.DomainList(), Leaves: p.Leaves, Diagnostics: p.Diagnostics}, mapping, opts)
}

// Compile builds the partition tables and one forwarding rule per leaf.
// Every fatal problem is reported; no program is returned if there is any.
func Compile(in Input, mapping model.ActionMapping, opts Options) (*model.Program, error) {
	if opts.Priority <= 0 {
		opts.Priority = 1
	}

	var errs []error
	if opts.Strict {
		for _, d := range in.Diagnostics {
			errs = append(errs, d)
		}
	}

	tables := make([]model.PartitionTable, 0, len(in.Domains))
	for _, d := range in.Domains {
		tables = append(tables, BuildPartitionTable(d))
	}

	resolver := NewActionResolver(mapping)
	rules := make([]model.ForwardingRule, 0, len(in.Leaves))
	for _, leaf := range in.Leaves {
		rule, err := compileLeaf(leaf, tables, resolver)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rule.Priority = opts.Priority
		rules = append(rules, rule)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("compile failed with %d error(s): %w", len(errs), errors.Join(errs...))
	}
	slog.Debug("Policy compiled", "tables", len(tables), "rules", len(rules), "diagnostics", len(in.Diagnostics))
	return &model.Program{Tables: tables, Rules: rules, Diagnostics: in.Diagnostics}, nil
}

func compileLeaf(leaf model.LeafRule, tables []model.PartitionTable, resolver *ActionResolver) (model.ForwardingRule, error) {
	var errs []error
	ranges := make([]model.BucketRange, 0, len(tables))
	for _, table := range tables {
		vr := FoldRange(leaf.Terms, table.Field)
		br, err := MapToBuckets(table, vr)
		if err != nil {
			var degenerate *model.DegenerateRangeError
			if errors.As(err, &degenerate) {
				degenerate.Line = leaf.Line
			}
			errs = append(errs, err)
			continue
		}
		if low, high := table.Buckets[br.Start-1].Low, table.Buckets[br.End-1].High; int64(low) != vr.Min || int64(high) != vr.Max {
			slog.Warn("Leaf range does not fall on bucket boundaries, match is widened",
				"line", leaf.Line, "field", table.Field.Name, "min", vr.Min, "max", vr.Max, "bucket_low", low, "bucket_high", high)
		}
		ranges = append(ranges, br)
	}

	res, err := resolver.Resolve(leaf.Class)
	if err != nil {
		var unknown *model.UnknownClassError
		var undefined *model.UndefinedDestinationError
		switch {
		case errors.As(err, &unknown):
			unknown.Line = leaf.Line
		case errors.As(err, &undefined):
			undefined.Line = leaf.Line
		}
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return model.ForwardingRule{}, errors.Join(errs...)
	}
	return model.ForwardingRule{Leaf: leaf, Ranges: ranges, Resolution: res}, nil
}
