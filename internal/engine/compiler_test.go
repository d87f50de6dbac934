package engine

import (
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtree-rule-compiler/internal/model"
)

var testFields = []model.FieldSpec{
	{Name: "ip_proto", Kind: model.KindProtocol, Max: 0x20},
	{Name: "src_port", Kind: model.KindPort, Max: 0xFFFF},
	{Name: "dst_port", Kind: model.KindPort, Max: 0xFFFF},
}

const testPolicy = `# demo
dst_port = [53, 80, 443]
ip_proto = [6, 17]

when ip_proto<=6 dst_port<=80 then 2;
when ip_proto<=6 dst_port>80 then 3;
when ip_proto>6 ip_proto<=17 dst_port<=53 then 0;
`

func TestCompilePolicy(t *testing.T) {
	prog, err := CompilePolicy(strings.NewReader(testPolicy), testFields, testMapping(), Options{})
	require.NoError(t, err)
	require.Len(t, prog.Tables, 3)
	assert.Empty(t, prog.Diagnostics)

	assert.Equal(t, "ip_proto", prog.Tables[0].Field.Name)
	assert.Len(t, prog.Tables[0].Buckets, 3)
	assert.Len(t, prog.Tables[1].Buckets, 1, "src_port has no declaration")
	assert.Len(t, prog.Tables[2].Buckets, 4)

	ranges := make([][]model.BucketRange, 0, len(prog.Rules))
	for _, r := range prog.Rules {
		assert.Equal(t, 1, r.Priority)
		ranges = append(ranges, r.Ranges)
	}
	want := [][]model.BucketRange{
		{{Start: 1, End: 1}, {Start: 1, End: 1}, {Start: 1, End: 2}},
		{{Start: 1, End: 1}, {Start: 1, End: 1}, {Start: 3, End: 4}},
		{{Start: 2, End: 2}, {Start: 1, End: 1}, {Start: 1, End: 1}},
	}
	if diff := cmp.Diff(want, ranges); diff != "" {
		t.Errorf("bucket ranges mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []int{5, 6, 7}, []int{prog.Rules[0].Leaf.Line, prog.Rules[1].Leaf.Line, prog.Rules[2].Leaf.Line})
	assert.Equal(t, 2, prog.Rules[0].Resolution.Action)
	assert.True(t, prog.Rules[2].Resolution.Drop)
}

func TestCompileIsDeterministic(t *testing.T) {
	first, err := CompilePolicy(strings.NewReader(testPolicy), testFields, testMapping(), Options{Priority: 3})
	require.NoError(t, err)
	second, err := CompilePolicy(strings.NewReader(testPolicy), testFields, testMapping(), Options{Priority: 3})
	require.NoError(t, err)
	if diff := cmp.Diff(first, second, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Errorf("compiles differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, 3, first.Rules[0].Priority)
}

func TestCompileReportsEveryFatalError(t *testing.T) {
	policy := `dst_port = [10, 20, 30]
when dst_port>10 dst_port<5 then 2;
when dst_port<=10 then 4;
when dst_port>30 then 5;
when dst_port<=20 then 3;
`
	prog, err := CompilePolicy(strings.NewReader(policy), testFields, testMapping(), Options{})
	require.Error(t, err)
	assert.Nil(t, prog)

	var degenerate *model.DegenerateRangeError
	require.True(t, errors.As(err, &degenerate))
	assert.Equal(t, 2, degenerate.Line)

	var unknown *model.UnknownClassError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, 3, unknown.Line)
	assert.Equal(t, 4, unknown.Class)

	var undefined *model.UndefinedDestinationError
	require.True(t, errors.As(err, &undefined))
	assert.Equal(t, 4, undefined.Line)
	assert.Contains(t, err.Error(), "3 error(s)")
}

func TestCompileSkipsMalformedLines(t *testing.T) {
	policy := `ip_proto = [6, 17]
ip_proto = [1]
dst_port = [80, 70000]
src_port = [1, 2 + 3]
when ip_proto<=6 then 2;
when ip_proto=>6 then 3;
when tos<=6 then 3;
garbage
`
	prog, err := CompilePolicy(strings.NewReader(policy), testFields, testMapping(), Options{})
	require.NoError(t, err)
	require.Len(t, prog.Rules, 1)
	assert.Equal(t, 5, prog.Rules[0].Leaf.Line)

	lines := make([]int, 0, len(prog.Diagnostics))
	for _, d := range prog.Diagnostics {
		lines = append(lines, d.Line)
	}
	assert.Equal(t, []int{2, 3, 4, 6, 7, 8}, lines)
	assert.Equal(t, []uint64{6, 17}, prog.Tables[0].Field.Breakpoints, "first declaration wins")
	assert.Len(t, prog.Tables[2].Buckets, 1, "rejected declaration leaves the field undivided")
}

func TestCompileStrictFailsOnSkippedLines(t *testing.T) {
	policy := "ip_proto = [6]\nwhen ip_proto<=6 then 2;\nwhen ip_proto<= then 2;\n"
	_, err := CompilePolicy(strings.NewReader(policy), testFields, testMapping(), Options{Strict: true})
	var parseErr *model.ParseError
	require.True(t, errors.As(err, &parseErr), "expected ParseError, got %v", err)
	assert.Equal(t, 3, parseErr.Line)
}

func TestCompileEmptyPolicy(t *testing.T) {
	prog, err := CompilePolicy(strings.NewReader("# nothing here\n"), testFields, testMapping(), Options{})
	require.NoError(t, err)
	assert.Empty(t, prog.Rules)
	assert.Len(t, prog.Tables, 3)
}

func TestCompileWidenedRangeStillCoversLeaf(t *testing.T) {
	// 15 is inside bucket (10, 20], so the rule matches the whole bucket.
	policy := "dst_port = [10, 20, 30]\nwhen dst_port>15 then 2;\n"
	prog, err := CompilePolicy(strings.NewReader(policy), testFields, testMapping(), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.BucketRange{Start: 2, End: 4}, prog.Rules[0].Ranges[2])
}
