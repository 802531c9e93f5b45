package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/strata-db/strata/lib/catalog"
	"github.com/strata-db/strata/lib/txn"
	"github.com/strata-db/strata/lib/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	eng, err := Open(Config{DataDir: dir}, nil)
	require.NoError(t, err)
	return eng
}

func createUsers(t *testing.T, eng *Engine) {
	t.Helper()
	require.NoError(t, eng.CreateTable(catalog.TableSchema{
		Name: "users",
		Columns: []catalog.ColumnMetadata{
			{Name: "id", Type: catalog.TypeInteger},
			{Name: "name", Type: catalog.TypeText},
		},
		PrimaryKey: []string{"id"},
	}))
}

func insertUser(t *testing.T, eng *Engine, id int64, name string) {
	t.Helper()
	tx := eng.Begin(txn.RepeatableRead)
	require.NoError(t, eng.Insert(tx, "users", catalog.Row{
		"id": catalog.NewInt(id), "name": catalog.NewText(name),
	}))
	require.NoError(t, eng.Commit(tx.ID))
}

func getUser(t *testing.T, eng *Engine, id int64) (catalog.Row, bool) {
	t.Helper()
	tx := eng.Begin(txn.RepeatableRead)
	defer eng.Commit(tx.ID)
	row, found, err := eng.Get(tx, "users", catalog.Row{"id": catalog.NewInt(id)})
	require.NoError(t, err)
	return row, found
}

func TestEngineRoundTrip(t *testing.T) {
	eng := openEngine(t, t.TempDir())
	defer eng.Close()
	createUsers(t, eng)

	insertUser(t, eng, 1, "ada")

	row, found := getUser(t, eng, 1)
	require.True(t, found)
	assert.Equal(t, "ada", row["name"].Text)

	_, found = getUser(t, eng, 2)
	assert.False(t, found)
}

func TestCreateTableValidation(t *testing.T) {
	eng := openEngine(t, t.TempDir())
	defer eng.Close()
	createUsers(t, eng)

	err := eng.CreateTable(catalog.TableSchema{
		Name:       "users",
		Columns:    []catalog.ColumnMetadata{{Name: "id", Type: catalog.TypeInteger}},
		PrimaryKey: []string{"id"},
	})
	assert.ErrorIs(t, err, catalog.ErrTableExists)

	err = eng.CreateTable(catalog.TableSchema{Name: "empty"})
	assert.ErrorIs(t, err, catalog.ErrInvalidSchema)

	// A backend rejection rolls the catalog entry back.
	err = eng.CreateTable(catalog.TableSchema{
		Name:       "weird",
		Columns:    []catalog.ColumnMetadata{{Name: "id", Type: catalog.TypeInteger}},
		PrimaryKey: []string{"id"},
		Strategy:   "holographic",
	})
	require.Error(t, err)
	assert.Len(t, eng.Tables(), 1)
}

func TestAbortedWritesStayInvisible(t *testing.T) {
	eng := openEngine(t, t.TempDir())
	defer eng.Close()
	createUsers(t, eng)

	tx := eng.Begin(txn.RepeatableRead)
	require.NoError(t, eng.Insert(tx, "users", catalog.Row{
		"id": catalog.NewInt(1), "name": catalog.NewText("ghost"),
	}))
	require.NoError(t, eng.Abort(tx.ID))

	_, found := getUser(t, eng, 1)
	assert.False(t, found)
}

func TestSnapshotIsolationAcrossTransactions(t *testing.T) {
	eng := openEngine(t, t.TempDir())
	defer eng.Close()
	createUsers(t, eng)

	txA := eng.Begin(txn.RepeatableRead)
	txB := eng.Begin(txn.RepeatableRead)

	require.NoError(t, eng.Insert(txA, "users", catalog.Row{
		"id": catalog.NewInt(1), "name": catalog.NewText("ada"),
	}))

	it, err := eng.Scan(txB, "users")
	require.NoError(t, err)
	_, ok := it.Next()
	assert.False(t, ok, "txB's snapshot predates txA")

	require.NoError(t, eng.Commit(txA.ID))

	it, err = eng.Scan(txB, "users")
	require.NoError(t, err)
	_, ok = it.Next()
	assert.False(t, ok, "repeatable read pins the begin-time view")
	require.NoError(t, eng.Commit(txB.ID))

	txC := eng.Begin(txn.RepeatableRead)
	it, err = eng.Scan(txC, "users")
	require.NoError(t, err)
	row, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, "ada", row["name"].Text)
	require.NoError(t, it.Err())
}

func TestReopenRecoversFromWAL(t *testing.T) {
	dir := t.TempDir()

	eng := openEngine(t, dir)
	createUsers(t, eng)
	insertUser(t, eng, 1, "ada")
	insertUser(t, eng, 2, "bob")

	tx := eng.Begin(txn.RepeatableRead)
	_, err := eng.Update(tx, "users",
		catalog.Row{"id": catalog.NewInt(2)},
		catalog.Row{"name": catalog.NewText("bea")})
	require.NoError(t, err)
	require.NoError(t, eng.Commit(tx.ID))
	require.NoError(t, eng.Close())

	// The backends were in memory; everything must come back from the log.
	eng2 := openEngine(t, dir)
	defer eng2.Close()

	require.Len(t, eng2.Tables(), 1)
	row, found := getUser(t, eng2, 1)
	require.True(t, found)
	assert.Equal(t, "ada", row["name"].Text)
	row, found = getUser(t, eng2, 2)
	require.True(t, found)
	assert.Equal(t, "bea", row["name"].Text)
}

func TestCheckpointCompactsLog(t *testing.T) {
	dir := t.TempDir()

	eng := openEngine(t, dir)
	createUsers(t, eng)
	insertUser(t, eng, 1, "ada")
	for i := 0; i < 20; i++ {
		tx := eng.Begin(txn.RepeatableRead)
		_, err := eng.Update(tx, "users",
			catalog.Row{"id": catalog.NewInt(1)},
			catalog.Row{"name": catalog.NewText("ada")})
		require.NoError(t, err)
		require.NoError(t, eng.Commit(tx.ID))
	}

	require.NoError(t, eng.Checkpoint())
	// One chain plus the checkpoint marker.
	var records int
	require.NoError(t, eng.wal.Replay(0, func(wal.Record) error {
		records++
		return nil
	}))
	assert.Equal(t, 2, records)
	require.NoError(t, eng.Close())

	eng2 := openEngine(t, dir)
	defer eng2.Close()
	row, found := getUser(t, eng2, 1)
	require.True(t, found)
	assert.Equal(t, "ada", row["name"].Text)
}

func TestDropTableSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	eng := openEngine(t, dir)
	createUsers(t, eng)
	insertUser(t, eng, 1, "ada")

	n, err := eng.DropTable("users")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, eng.Close())

	eng2 := openEngine(t, dir)
	defer eng2.Close()
	assert.Empty(t, eng2.Tables())
}

func TestMaintenanceAndStats(t *testing.T) {
	eng := openEngine(t, t.TempDir())
	defer eng.Close()
	createUsers(t, eng)

	for i := int64(0); i < 10; i++ {
		insertUser(t, eng, i, "user")
		getUser(t, eng, i)
	}

	require.NoError(t, eng.PerformMaintenance())
	assert.NotPanics(t, func() { eng.AnalyzeEfficiency() })
	require.NoError(t, eng.AdaptStrategies())

	stats := eng.GetStorageStats()
	assert.Equal(t, uint64(10), stats.Writes)
	assert.GreaterOrEqual(t, stats.Reads, uint64(10))
	assert.Contains(t, stats.Tables, "users")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/strata-test
wal:
  segment_size: 1048576
  sync_on_append: false
storage:
  write_buffer_size: 65536
  cache_size: 1048576
  max_runs: 8
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/strata-test", cfg.DataDir)
	assert.Equal(t, int64(1048576), cfg.WAL.SegmentSize)
	require.NotNil(t, cfg.WAL.SyncOnAppend)
	assert.False(t, *cfg.WAL.SyncOnAppend)
	assert.Equal(t, 8, cfg.Storage.MaxRuns)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	defaults := Config{}.withDefaults()
	assert.Equal(t, "data", defaults.DataDir)
	assert.True(t, *defaults.WAL.SyncOnAppend)
}
