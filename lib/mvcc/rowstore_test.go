package mvcc

import (
	"sort"
	"testing"

	"github.com/strata-db/strata/lib/catalog"
	"github.com/strata-db/strata/lib/storage"
	"github.com/strata-db/strata/lib/txn"
	"github.com/strata-db/strata/lib/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv wires a RowStore to real collaborators: a catalog, a storage
// manager and a WAL in temp directories.
type testEnv struct {
	cat   *catalog.Catalog
	mgr   *storage.Manager
	wal   *wal.WAL
	txns  *txn.Manager
	store *RowStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cat, err := catalog.Open(t.TempDir())
	require.NoError(t, err)

	mgr := storage.NewManager(storage.Options{})
	t.Cleanup(func() { mgr.Close() })

	w, err := wal.Open(wal.Options{Dir: t.TempDir(), SyncOnAppend: true})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	env := &testEnv{
		cat:   cat,
		mgr:   mgr,
		wal:   w,
		txns:  txn.NewManager(),
		store: NewRowStore(cat, mgr, w, nil),
	}
	env.createUsers(t)
	return env
}

func (e *testEnv) createUsers(t *testing.T) {
	t.Helper()
	require.NoError(t, e.cat.CreateTable(catalog.TableSchema{
		Name: "users",
		Columns: []catalog.ColumnMetadata{
			{Name: "id", Type: catalog.TypeInteger},
			{Name: "name", Type: catalog.TypeText},
			{Name: "city", Type: catalog.TypeText, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}))
	require.NoError(t, e.mgr.CreateTable("users", storage.TableConfig{Strategy: storage.TreeOrdered}))
}

func (e *testEnv) begin() (*txn.Transaction, Snapshot) {
	tx := e.txns.Begin(txn.RepeatableRead)
	return tx, tx.Snapshot()
}

func userRow(id int64, name string) catalog.Row {
	return catalog.Row{"id": catalog.NewInt(id), "name": catalog.NewText(name)}
}

func pkOf(id int64) catalog.Row {
	return catalog.Row{"id": catalog.NewInt(id)}
}

func TestInsertAndGet(t *testing.T) {
	env := newTestEnv(t)
	tx, snap := env.begin()

	require.NoError(t, env.store.InsertRow(snap, "users", userRow(1, "ada")))

	row, found, err := env.store.GetRow(snap, "users", pkOf(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ada", row["name"].Text)

	require.NoError(t, env.txns.Commit(tx.ID))
}

func TestInsertValidation(t *testing.T) {
	env := newTestEnv(t)
	_, snap := env.begin()

	err := env.store.InsertRow(snap, "ghost", userRow(1, "x"))
	assert.ErrorIs(t, err, catalog.ErrTableNotFound)

	err = env.store.InsertRow(snap, "users", catalog.Row{
		"id": catalog.NewInt(1), "name": catalog.NewText("x"), "age": catalog.NewInt(3),
	})
	assert.ErrorIs(t, err, catalog.ErrUnknownColumn)

	err = env.store.InsertRow(snap, "users", catalog.Row{
		"id": catalog.NewText("one"), "name": catalog.NewText("x"),
	})
	assert.ErrorIs(t, err, catalog.ErrTypeMismatch)

	err = env.store.InsertRow(snap, "users", catalog.Row{"id": catalog.NewInt(1)})
	assert.ErrorIs(t, err, catalog.ErrNullViolation)

	// Failed inserts leave no trace.
	_, found, err := env.store.GetRow(snap, "users", pkOf(1))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDuplicatePrimaryKey(t *testing.T) {
	env := newTestEnv(t)
	tx, snap := env.begin()

	require.NoError(t, env.store.InsertRow(snap, "users", userRow(1, "ada")))
	err := env.store.InsertRow(snap, "users", userRow(1, "eva"))
	assert.ErrorIs(t, err, ErrConstraintViolation)

	// The original row is unchanged.
	row, found, err := env.store.GetRow(snap, "users", pkOf(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ada", row["name"].Text)

	require.NoError(t, env.txns.Commit(tx.ID))

	// After a visible delete the key is insertable again.
	tx2, snap2 := env.begin()
	deleted, err := env.store.DeleteRow(snap2, "users", pkOf(1))
	require.NoError(t, err)
	require.True(t, deleted)
	require.NoError(t, env.store.InsertRow(snap2, "users", userRow(1, "eva")))
	require.NoError(t, env.txns.Commit(tx2.ID))
}

func TestUpdateRow(t *testing.T) {
	env := newTestEnv(t)
	tx, snap := env.begin()
	require.NoError(t, env.store.InsertRow(snap, "users", userRow(1, "ada")))
	require.NoError(t, env.txns.Commit(tx.ID))

	tx2, snap2 := env.begin()

	ok, err := env.store.UpdateRow(snap2, "users", pkOf(99), catalog.Row{"name": catalog.NewText("x")})
	require.NoError(t, err)
	assert.False(t, ok, "updating an absent key reports false")

	ok, err = env.store.UpdateRow(snap2, "users", pkOf(1), catalog.Row{"city": catalog.NewText("rome")})
	require.NoError(t, err)
	require.True(t, ok)

	row, found, err := env.store.GetRow(snap2, "users", pkOf(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ada", row["name"].Text, "untouched columns survive the merge")
	assert.Equal(t, "rome", row["city"].Text)

	// Patch validation still applies.
	_, err = env.store.UpdateRow(snap2, "users", pkOf(1), catalog.Row{"name": catalog.NewInt(7)})
	assert.ErrorIs(t, err, catalog.ErrTypeMismatch)
	_, err = env.store.UpdateRow(snap2, "users", pkOf(1), catalog.Row{"age": catalog.NewInt(7)})
	assert.ErrorIs(t, err, catalog.ErrUnknownColumn)

	require.NoError(t, env.txns.Commit(tx2.ID))
}

func TestDeleteIsTombstone(t *testing.T) {
	env := newTestEnv(t)
	tx, snap := env.begin()
	require.NoError(t, env.store.InsertRow(snap, "users", userRow(1, "ada")))
	require.NoError(t, env.txns.Commit(tx.ID))

	// A snapshot from before the delete keeps seeing the row.
	_, before := env.begin()

	tx2, snap2 := env.begin()
	deleted, err := env.store.DeleteRow(snap2, "users", pkOf(1))
	require.NoError(t, err)
	require.True(t, deleted)
	require.NoError(t, env.txns.Commit(tx2.ID))

	_, found, err := env.store.GetRow(before, "users", pkOf(1))
	require.NoError(t, err)
	assert.True(t, found)

	_, after := env.begin()
	_, found, err = env.store.GetRow(after, "users", pkOf(1))
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting again finds nothing.
	deleted, err = env.store.DeleteRow(after, "users", pkOf(1))
	require.NoError(t, err)
	assert.False(t, deleted)
}

func scanNames(t *testing.T, it *RowIterator) []string {
	t.Helper()
	var names []string
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		names = append(names, row["name"].Text)
	}
	require.NoError(t, it.Err())
	sort.Strings(names)
	return names
}

func TestScanSnapshotIsolation(t *testing.T) {
	env := newTestEnv(t)

	// A inserts pk=1; B's snapshot predates A's commit; C begins after.
	txA, snapA := env.begin()
	_, snapB := env.begin()

	require.NoError(t, env.store.InsertRow(snapA, "users", userRow(1, "ada")))

	it, err := env.store.ScanTable(snapB, "users")
	require.NoError(t, err)
	assert.Empty(t, scanNames(t, it), "uncommitted insert is invisible")

	require.NoError(t, env.txns.Commit(txA.ID))

	it, err = env.store.ScanTable(snapB, "users")
	require.NoError(t, err)
	assert.Empty(t, scanNames(t, it), "repeatable read keeps the begin-time view")

	_, snapC := env.begin()
	it, err = env.store.ScanTable(snapC, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"ada"}, scanNames(t, it))
}

func TestScanSkipsOtherTables(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.cat.CreateTable(catalog.TableSchema{
		Name:       "orders",
		Columns:    []catalog.ColumnMetadata{{Name: "id", Type: catalog.TypeInteger}},
		PrimaryKey: []string{"id"},
	}))
	require.NoError(t, env.mgr.CreateTable("orders", storage.TableConfig{Strategy: storage.TreeOrdered}))

	tx, snap := env.begin()
	require.NoError(t, env.store.InsertRow(snap, "users", userRow(1, "ada")))
	require.NoError(t, env.store.InsertRow(snap, "users", userRow(2, "bob")))
	require.NoError(t, env.store.InsertRow(snap, "orders", catalog.Row{"id": catalog.NewInt(7)}))
	require.NoError(t, env.txns.Commit(tx.ID))

	_, snap2 := env.begin()
	it, err := env.store.ScanTable(snap2, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"ada", "bob"}, scanNames(t, it))
}

func TestDropTable(t *testing.T) {
	env := newTestEnv(t)
	tx, snap := env.begin()
	require.NoError(t, env.store.InsertRow(snap, "users", userRow(1, "ada")))
	require.NoError(t, env.store.InsertRow(snap, "users", userRow(2, "bob")))
	require.NoError(t, env.txns.Commit(tx.ID))

	n, err := env.store.DropTable("users")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = env.store.ScanTable(snap, "users")
	assert.ErrorIs(t, err, catalog.ErrTableNotFound)
}

// --------------------------------------------------------------------------
// WAL-before-data crash simulation
// --------------------------------------------------------------------------

// droppingKV forwards reads but silently drops data writes, simulating a
// crash between the WAL append and the backend write.
type droppingKV struct {
	KV
	dropWrites bool
}

func (d *droppingKV) Write(table, key string, value []byte) error {
	if d.dropWrites {
		return nil
	}
	return d.KV.Write(table, key, value)
}

func TestWALBeforeDataRedo(t *testing.T) {
	env := newTestEnv(t)

	flaky := &droppingKV{KV: env.mgr}
	store := NewRowStore(env.cat, flaky, env.wal, nil)

	tx, snap := env.begin()
	require.NoError(t, store.InsertRow(snap, "users", userRow(1, "ada")))
	require.NoError(t, env.txns.Commit(tx.ID))

	// Crash window: the WAL holds the record but the data write is lost.
	flaky.dropWrites = true
	tx2, snap2 := env.begin()
	require.NoError(t, store.InsertRow(snap2, "users", userRow(2, "bob")))
	require.NoError(t, env.txns.Commit(tx2.ID))

	_, found, err := env.store.GetRow(snap2, "users", pkOf(2))
	require.NoError(t, err)
	require.False(t, found, "data write was dropped")

	// Redo: blind replay of post-images into a fresh backend.
	recovered := storage.NewManager(storage.Options{})
	defer recovered.Close()
	require.NoError(t, recovered.CreateTable("users", storage.TableConfig{Strategy: storage.TreeOrdered}))
	require.NoError(t, env.wal.Replay(0, func(rec wal.Record) error {
		switch rec.Op {
		case wal.OpSet:
			return recovered.Write(rec.Table, rec.Key, rec.Value)
		case wal.OpDelete:
			return recovered.Delete(rec.Table, rec.Key)
		}
		return nil
	}))

	redone := NewRowStore(env.cat, recovered, env.wal, nil)
	_, snap3 := env.begin()

	row, found, err := redone.GetRow(snap3, "users", pkOf(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ada", row["name"].Text)

	row, found, err = redone.GetRow(snap3, "users", pkOf(2))
	require.NoError(t, err)
	require.True(t, found, "lost write restored from the log")
	assert.Equal(t, "bob", row["name"].Text)
}

func TestChainCodecRoundTrip(t *testing.T) {
	chain := Chain{
		{CreatedBy: 1, Data: userRow(1, "ada")},
		{CreatedBy: 1, DeletedBy: 3, Data: userRow(1, "eva")},
	}
	encoded, err := encodeChain(chain)
	require.NoError(t, err)

	decoded, err := decodeChain(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, txn.ID(3), decoded[1].DeletedBy)
	assert.Equal(t, "eva", decoded[1].Data["name"].Text)

	_, err = decodeChain([]byte{9, 0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = decodeChain(encoded[:10])
	assert.ErrorIs(t, err, ErrCorrupt)
}
