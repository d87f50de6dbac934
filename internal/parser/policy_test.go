package parser

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtree-rule-compiler/internal/model"
)

var policyFields = []model.FieldSpec{
	{Name: "proto", Max: 0x20},
	{Name: "src", Max: 0xFFFF},
	{Name: "dst", Max: 0xFFFF},
}

func TestPolicyParser(t *testing.T) {
	input := `# exported tree
when proto<=6 dst<=80 then 2;

dst = [80, 53, 0x1BB]
proto = [6, 17];
when proto>6 then 0
   when src>1024 and dst<=53 then 1;
`
	p := NewPolicyParser(strings.NewReader(input), policyFields)
	require.NoError(t, p.Parse())
	assert.Empty(t, p.Diagnostics)

	wantDomains := []model.FieldDomain{
		{Name: "proto", Max: 0x20, Breakpoints: []uint64{6, 17}},
		{Name: "src", Max: 0xFFFF},
		{Name: "dst", Max: 0xFFFF, Breakpoints: []uint64{80, 53, 443}},
	}
	if diff := cmp.Diff(wantDomains, p.DomainList()); diff != "" {
		t.Errorf("domains mismatch (-want +got):\n%s", diff)
	}

	wantLeaves := []model.LeafRule{
		{Line: 2, Condition: "proto<=6 dst<=80", Class: 2, Terms: []model.Term{
			{Field: "proto", Op: model.OpLE, Value: 6},
			{Field: "dst", Op: model.OpLE, Value: 80},
		}},
		{Line: 6, Condition: "proto>6", Class: 0, Terms: []model.Term{
			{Field: "proto", Op: model.OpGT, Value: 6},
		}},
		{Line: 7, Condition: "src>1024 and dst<=53", Class: 1, Terms: []model.Term{
			{Field: "src", Op: model.OpGT, Value: 1024},
			{Field: "dst", Op: model.OpLE, Value: 53},
		}},
	}
	if diff := cmp.Diff(wantLeaves, p.Leaves); diff != "" {
		t.Errorf("leaves mismatch (-want +got):\n%s", diff)
	}
}

func TestPolicyParserEmptyConditionAndDeclaration(t *testing.T) {
	input := "src = []\nwhen then 3;\n"
	p := NewPolicyParser(strings.NewReader(input), policyFields)
	require.NoError(t, p.Parse())
	assert.Empty(t, p.Diagnostics)
	assert.Empty(t, p.Domains["src"].Breakpoints)
	require.Len(t, p.Leaves, 1)
	assert.Empty(t, p.Leaves[0].Terms)
	assert.Equal(t, 3, p.Leaves[0].Class)
}

func TestPolicyParserSkipsMalformedLines(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		reason string
	}{
		{"unknown field declaration", "tos = [1, 2]", "unknown field"},
		{"breakpoint at domain max", "proto = [6, 32]", "outside domain"},
		{"duplicate breakpoint", "proto = [6, 6]", "duplicate breakpoint"},
		{"empty element", "proto = [6,,17]", "empty element"},
		{"expression in list", "proto = [__import__(1)]", "invalid integer"},
		{"missing brackets", "proto = 6, 17", "malformed declaration"},
		{"missing then", "when proto<=6 2;", "malformed leaf"},
		{"non-integer class", "when proto<=6 then drop;", "invalid class"},
		{"class beyond int range", "when proto<=6 then 9223372036854775810;", "class 9223372036854775810 out of range"},
		{"unknown field in leaf", "when tos<=6 then 2;", "invalid condition"},
		{"fractional value", "when proto<=6.5 then 2;", "invalid condition"},
		{"free text", "return 3", "unrecognized line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "when proto<=6 then 1;\n" + tt.line + "\nwhen proto>6 then 2;\n"
			p := NewPolicyParser(strings.NewReader(input), policyFields)
			require.NoError(t, p.Parse())
			require.Len(t, p.Diagnostics, 1)
			d := p.Diagnostics[0]
			assert.Equal(t, 2, d.Line)
			assert.Equal(t, tt.line, d.Text)
			assert.Contains(t, d.Reason, tt.reason)
			assert.Len(t, p.Leaves, 2, "parsing continues after a bad line")
		})
	}
}

func TestPolicyParserDuplicateDeclaration(t *testing.T) {
	input := "proto = [6]\nproto = [17]\n"
	p := NewPolicyParser(strings.NewReader(input), policyFields)
	require.NoError(t, p.Parse())
	require.Len(t, p.Diagnostics, 1)
	assert.Contains(t, p.Diagnostics[0].Reason, "already declared on line 1")
	assert.Equal(t, []uint64{6}, p.Domains["proto"].Breakpoints)
}

func TestParseErrorMessage(t *testing.T) {
	err := &model.ParseError{Line: 4, Text: "proto = [x]", Reason: "invalid integer"}
	assert.Equal(t, `line 4: invalid integer: "proto = [x]"`, err.Error())
}
