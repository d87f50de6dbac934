package parser

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"dtree-rule-compiler/internal/model"
)

var (
	leafPattern        = regexp.MustCompile(`^when\b(.*)\bthen\s+(\S+?)\s*;?\s*$`)
	declarationPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*\[(.*)\]\s*;?$`)
)

// PolicyParser reads a decision-tree policy: breakpoint declarations
// ("field = [1, 2, 3]") and leaf rules ("when a<=1 b>2 then 3;").
// Malformed lines are recorded in Diagnostics and skipped.
type PolicyParser struct {
	scanner *bufio.Scanner
	fields  []model.FieldSpec
	known   map[string]bool
	seen    map[string]int
	line    int

	Domains     map[string]*model.FieldDomain
	Leaves      []model.LeafRule
	Diagnostics []*model.ParseError
}

func NewPolicyParser(reader io.Reader, fields []model.FieldSpec) *PolicyParser {
	p := &PolicyParser{
		scanner: bufio.NewScanner(reader),
		fields:  fields,
		known:   make(map[string]bool),
		seen:    make(map[string]int),
		Domains: make(map[string]*model.FieldDomain),
	}
	for _, f := range fields {
		p.known[f.Name] = true
		p.Domains[f.Name] = &model.FieldDomain{Name: f.Name, Max: f.Max}
	}
	return p
}

func (p *PolicyParser) Parse() error {
	for p.scanner.Scan() {
		p.line++
		line := strings.TrimSpace(p.scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case firstWord(line) == "when":
			p.parseLeaf(line)
		case strings.Contains(line, "="):
			p.parseDeclaration(line)
		default:
			p.skip(line, "unrecognized line")
		}
	}
	if err := p.scanner.Err(); err != nil {
		return fmt.Errorf("error reading policy: %w", err)
	}
	slog.Debug("Policy parsed", "lines", p.line, "leaves", len(p.Leaves), "diagnostics", len(p.Diagnostics))
	return nil
}

// DomainList returns the field domains in field-table order.
func (p *PolicyParser) DomainList() []model.FieldDomain {
	domains := make([]model.FieldDomain, 0, len(p.fields))
	for _, f := range p.fields {
		domains = append(domains, *p.Domains[f.Name])
	}
	return domains
}

func (p *PolicyParser) parseLeaf(line string) {
	m := leafPattern.FindStringSubmatch(line)
	if m == nil {
		p.skip(line, "malformed leaf, expected 'when <conditions> then <class>;'")
		return
	}
	condition := strings.TrimSpace(m[1])
	class, err := parseInteger(m[2])
	if err != nil {
		p.skip(line, fmt.Sprintf("invalid class: %v", err))
		return
	}
	if class > math.MaxInt {
		p.skip(line, fmt.Sprintf("class %d out of range", class))
		return
	}
	terms, err := ParseCondition(condition, p.known)
	if err != nil {
		p.skip(line, fmt.Sprintf("invalid condition: %v", err))
		return
	}
	p.Leaves = append(p.Leaves, model.LeafRule{
		Line:      p.line,
		Condition: condition,
		Terms:     terms,
		Class:     int(class),
	})
}

func (p *PolicyParser) parseDeclaration(line string) {
	m := declarationPattern.FindStringSubmatch(line)
	if m == nil {
		p.skip(line, "malformed declaration, expected '<field> = [<int>, ...]'")
		return
	}
	name := m[1]
	domain, ok := p.Domains[name]
	if !ok {
		p.skip(line, fmt.Sprintf("unknown field %q", name))
		return
	}
	if first, dup := p.seen[name]; dup {
		p.skip(line, fmt.Sprintf("field %q already declared on line %d", name, first))
		return
	}

	values, err := parseIntegerList(m[2])
	if err != nil {
		p.skip(line, err.Error())
		return
	}
	present := make(map[uint64]bool, len(values))
	for _, v := range values {
		if v >= domain.Max {
			p.skip(line, fmt.Sprintf("breakpoint %d outside domain of %s [0, %#x)", v, name, domain.Max))
			return
		}
		if present[v] {
			p.skip(line, fmt.Sprintf("duplicate breakpoint %d", v))
			return
		}
		present[v] = true
	}
	p.seen[name] = p.line
	domain.Breakpoints = values
}

// parseIntegerList parses the inside of "[...]" as comma-separated integers.
func parseIntegerList(body string) ([]uint64, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	values := make([]uint64, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty element at position %d", i+1)
		}
		v, err := parseInteger(part)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (p *PolicyParser) skip(line, reason string) {
	slog.Warn("Skipping policy line", "line", p.line, "reason", reason)
	p.Diagnostics = append(p.Diagnostics, &model.ParseError{Line: p.line, Text: line, Reason: reason})
}

func firstWord(line string) string {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}
