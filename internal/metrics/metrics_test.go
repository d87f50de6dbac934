package metrics

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtree-rule-compiler/internal/model"
)

func TestObserveRecordsProgramShape(t *testing.T) {
	prog := &model.Program{
		Tables: []model.PartitionTable{
			{Field: model.FieldDomain{Name: "proto", Max: 0x20}, Buckets: make([]model.Bucket, 3)},
		},
		Rules: []model.ForwardingRule{
			{Resolution: model.Resolution{Drop: true}},
			{Resolution: model.Resolution{Destination: model.Destination{Host: netip.MustParseAddr("10.0.1.2"), Port: 2}}},
			{Resolution: model.Resolution{Destination: model.Destination{Host: netip.MustParseAddr("10.0.1.3"), Port: 3}}},
		},
		Diagnostics: []*model.ParseError{{Line: 4}},
	}

	m := NewCompile()
	m.Observe(prog, 250*time.Millisecond, time.Unix(1700000000, 0))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.leaves))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rules.WithLabelValues("drop")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rules.WithLabelValues("forward")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.buckets.WithLabelValues("proto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.diagnostics))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.duration))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.lastSuccess))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.failures))
}

func TestObserveCountsFailures(t *testing.T) {
	m := NewCompile()
	m.Observe(nil, time.Second, time.Now())
	m.Observe(nil, time.Second, time.Now())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.failures))
}

func TestWriteTextfile(t *testing.T) {
	m := NewCompile()
	m.Observe(&model.Program{}, time.Millisecond, time.Unix(1, 0))

	path := filepath.Join(t.TempDir(), "dtree.prom")
	require.NoError(t, m.WriteTextfile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "dtree_compile_last_success_timestamp_seconds 1"))
}
