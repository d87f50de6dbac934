package parser

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtree-rule-compiler/internal/model"
)

func sampleMapping() model.ActionMapping {
	return model.ActionMapping{
		Classes: map[int]int{0: 0, 1: 3, 2: 2},
		Actions: map[int]*model.Destination{
			0: nil,
			2: {Host: netip.MustParseAddr("10.0.1.2"), Port: 2},
			3: {Host: netip.MustParseAddr("10.0.1.3"), Port: 3},
		},
	}
}

func TestMappingStoreSQLite(t *testing.T) {
	store, err := NewMappingStore("sqlite", filepath.Join(t.TempDir(), "mapping.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.InitSchema())
	require.NoError(t, store.InitSchema(), "schema creation is idempotent")

	empty, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, empty.Classes)

	require.NoError(t, store.Save(sampleMapping()))
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, sampleMapping(), got)

	// Save replaces, never merges.
	replacement := model.ActionMapping{
		Classes: map[int]int{7: 0},
		Actions: map[int]*model.Destination{0: nil},
	}
	require.NoError(t, store.Save(replacement))
	got, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, replacement, got)
}

func TestMappingStoreRejectsBadRows(t *testing.T) {
	store, err := NewMappingStore("sqlite", filepath.Join(t.TempDir(), "mapping.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.InitSchema())

	_, err = store.db.Exec("INSERT INTO cfg_action_destination (action_id, host, port) VALUES (1, 'not-an-ip', 5)")
	require.NoError(t, err)
	_, err = store.Load()
	assert.Error(t, err)
}

func TestNewMappingStoreErrors(t *testing.T) {
	_, err := NewMappingStore("postgres", "dsn")
	assert.Error(t, err)

	// Test mariadb with invalid DSN (should fail on connection/parsing)
	_, err = NewMappingStore("mariadb", "invalid-dsn")
	assert.Error(t, err)
}

// TestMappingStoreMariaDB runs against a live server named by DTC_TEST_MARIADB_DSN.
func TestMappingStoreMariaDB(t *testing.T) {
	dsn := os.Getenv("DTC_TEST_MARIADB_DSN")
	if dsn == "" {
		t.Skip("DTC_TEST_MARIADB_DSN not set")
	}
	store, err := NewMappingStore("mariadb", dsn)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.InitSchema())
	require.NoError(t, store.Save(sampleMapping()))
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, sampleMapping(), got)
}

func TestSplitStatements(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, splitStatements(" A;\n;B ; "))
	assert.Len(t, splitStatements(schema), 2)
}
