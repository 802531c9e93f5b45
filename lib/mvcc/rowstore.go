package mvcc

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/strata-db/strata/lib/catalog"
	"github.com/strata-db/strata/lib/storage"
	"github.com/strata-db/strata/lib/txn"
	"github.com/strata-db/strata/lib/wal"
)

var (
	// ErrConstraintViolation is returned on a duplicate primary key.
	ErrConstraintViolation = errors.New("mvcc: constraint violation")
	// ErrStorageUnavailable wraps WAL, codec and backend I/O failures.
	// The failed operation left no durable trace.
	ErrStorageUnavailable = errors.New("mvcc: storage unavailable")
	// ErrCorrupt is returned when a stored chain does not decode.
	ErrCorrupt = errors.New("mvcc: corrupt version chain")
)

// Snapshot is the externally supplied visibility oracle. txn.Snapshot
// satisfies it; tests may substitute their own.
type Snapshot interface {
	// Self returns the observing transaction's id.
	Self() txn.ID
	// Visible reports whether a tuple created by created and deleted by
	// deleted is visible. Must be a pure function of its inputs.
	Visible(created, deleted txn.ID) bool
}

// KV is the key/value surface the row layer needs from the storage manager.
type KV interface {
	Read(table, key string) (value []byte, loaded bool, err error)
	Write(table, key string, value []byte) error
	Delete(table, key string) error
	ScanPrefix(table, prefix string) ([]storage.Entry, error)
}

// WALSink receives the durable pre-write record for every mutation. Append
// must return only after the record is durable.
type WALSink interface {
	Append(rec wal.Record) (uint64, error)
}

// RowStore translates schema-validated row operations into version chain
// rewrites, enforcing WAL-before-data ordering on every mutation.
type RowStore struct {
	catalog *catalog.Catalog
	kv      KV
	log     WALSink
	latches *latchTable
	logger  *slog.Logger
}

// NewRowStore wires the row layer to its collaborators.
func NewRowStore(cat *catalog.Catalog, kv KV, log WALSink, logger *slog.Logger) *RowStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RowStore{
		catalog: cat,
		kv:      kv,
		log:     log,
		latches: newLatchTable(),
		logger:  logger.With("component", "mvcc"),
	}
}

// StorageKey renders the chain key for a table and encoded primary key.
func StorageKey(table, pk string) string {
	return fmt.Sprintf("table:%s:pk:%s", table, pk)
}

// TablePrefix renders the scan prefix covering all chains of a table.
func TablePrefix(table string) string {
	return fmt.Sprintf("table:%s:pk:", table)
}

// --------------------------------------------------------------------------
// Row operations
// --------------------------------------------------------------------------

// InsertRow validates row against the table schema and appends a new
// version chain entry. Fails with ErrConstraintViolation when a version for
// the same primary key is already visible to the snapshot.
func (s *RowStore) InsertRow(snap Snapshot, table string, row catalog.Row) error {
	schema, err := s.catalog.Table(table)
	if err != nil {
		return err
	}
	validated, err := schema.ValidateRow(row)
	if err != nil {
		return err
	}
	pk, err := schema.PrimaryKeyOf(validated)
	if err != nil {
		return err
	}
	key := StorageKey(table, pk)

	// The visibility check and the chain write form one exclusive section
	// per key, otherwise two concurrent inserts could both pass the check.
	unlock := s.latches.lock(key)
	defer unlock()

	chain, err := s.loadChain(table, key)
	if err != nil {
		return err
	}
	if _, visible := chain.visibleVersion(snap); visible {
		return fmt.Errorf("%w: duplicate primary key %q in table %q", ErrConstraintViolation, pk, table)
	}

	chain = append(chain, VersionedTuple{CreatedBy: snap.Self(), Data: validated})
	return s.persistChain(snap.Self(), table, key, chain)
}

// UpdateRow replaces the version visible to the snapshot with a new one
// merging newData over its column values. Returns false when no version is
// visible.
func (s *RowStore) UpdateRow(snap Snapshot, table string, pk catalog.Row, newData catalog.Row) (bool, error) {
	schema, err := s.catalog.Table(table)
	if err != nil {
		return false, err
	}
	for name, v := range newData {
		col, ok := schema.Column(name)
		if !ok {
			return false, fmt.Errorf("%w: %q in table %q", catalog.ErrUnknownColumn, name, table)
		}
		if v.Null() {
			if !col.Nullable {
				return false, fmt.Errorf("%w: %q", catalog.ErrNullViolation, name)
			}
			continue
		}
		if v.Kind != col.Type {
			return false, fmt.Errorf("%w: column %q expects %s, got %s",
				catalog.ErrTypeMismatch, name, col.Type, v.Kind)
		}
	}

	pkKey, err := schema.PrimaryKeyOf(pk)
	if err != nil {
		return false, err
	}
	key := StorageKey(table, pkKey)

	unlock := s.latches.lock(key)
	defer unlock()

	chain, err := s.loadChain(table, key)
	if err != nil || chain == nil {
		return false, err
	}
	idx, visible := visibleIndex(chain, snap)
	if !visible {
		return false, nil
	}

	merged := make(catalog.Row, len(chain[idx].Data)+len(newData))
	for k, v := range chain[idx].Data {
		merged[k] = v
	}
	for k, v := range newData {
		merged[k] = v
	}

	chain[idx].DeletedBy = snap.Self()
	chain = append(chain, VersionedTuple{CreatedBy: snap.Self(), Data: merged})
	if err := s.persistChain(snap.Self(), table, key, chain); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteRow tombstones the version visible to the snapshot. Returns false
// when no version is visible.
func (s *RowStore) DeleteRow(snap Snapshot, table string, pk catalog.Row) (bool, error) {
	schema, err := s.catalog.Table(table)
	if err != nil {
		return false, err
	}
	pkKey, err := schema.PrimaryKeyOf(pk)
	if err != nil {
		return false, err
	}
	key := StorageKey(table, pkKey)

	unlock := s.latches.lock(key)
	defer unlock()

	chain, err := s.loadChain(table, key)
	if err != nil || chain == nil {
		return false, err
	}
	idx, visible := visibleIndex(chain, snap)
	if !visible {
		return false, nil
	}

	chain[idx].DeletedBy = snap.Self()
	if err := s.persistChain(snap.Self(), table, key, chain); err != nil {
		return false, err
	}
	return true, nil
}

// GetRow returns the row version visible to the snapshot, if any.
func (s *RowStore) GetRow(snap Snapshot, table string, pk catalog.Row) (catalog.Row, bool, error) {
	schema, err := s.catalog.Table(table)
	if err != nil {
		return nil, false, err
	}
	pkKey, err := schema.PrimaryKeyOf(pk)
	if err != nil {
		return nil, false, err
	}
	chain, err := s.loadChain(table, StorageKey(table, pkKey))
	if err != nil || chain == nil {
		return nil, false, err
	}
	t, visible := chain.visibleVersion(snap)
	if !visible {
		return nil, false, nil
	}
	return t.Data, true, nil
}

// ScanTable returns an iterator over all rows of the table visible to the
// snapshot, in physical key order. The chain bytes are fetched eagerly
// here; decoding and visibility resolution happen per Next call. The
// iterator is finite and non-restartable.
func (s *RowStore) ScanTable(snap Snapshot, table string) (*RowIterator, error) {
	if _, err := s.catalog.Table(table); err != nil {
		return nil, err
	}
	entries, err := s.kv.ScanPrefix(table, TablePrefix(table))
	if err != nil {
		return nil, fmt.Errorf("%w: scan %q: %v", ErrStorageUnavailable, table, err)
	}
	return &RowIterator{snap: snap, entries: entries}, nil
}

// DropTable removes every chain under the table prefix and the catalog
// entry. Returns the number of removed chains.
func (s *RowStore) DropTable(table string) (int, error) {
	if _, err := s.catalog.Table(table); err != nil {
		return 0, err
	}
	entries, err := s.kv.ScanPrefix(table, TablePrefix(table))
	if err != nil {
		return 0, fmt.Errorf("%w: scan %q: %v", ErrStorageUnavailable, table, err)
	}
	for i, e := range entries {
		if err := s.kv.Delete(table, e.Key); err != nil {
			return i, fmt.Errorf("%w: delete %q: %v", ErrStorageUnavailable, e.Key, err)
		}
	}
	if err := s.catalog.DropTable(table); err != nil {
		return len(entries), err
	}
	s.logger.Info("table dropped", "table", table, "chains", len(entries))
	return len(entries), nil
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

func (s *RowStore) loadChain(table, key string) (Chain, error) {
	raw, loaded, err := s.kv.Read(table, key)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", ErrStorageUnavailable, key, err)
	}
	if !loaded {
		return nil, nil
	}
	return decodeChain(raw)
}

// persistChain enforces the durability order: serialize, append the full
// post-image to the WAL, and only then issue the data write. A WAL failure
// aborts before the backend is touched, so a failed operation leaves no
// durable trace.
func (s *RowStore) persistChain(id txn.ID, table, key string, chain Chain) error {
	encoded, err := encodeChain(chain)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if _, err := s.log.Append(wal.Record{
		Txn:   uint64(id),
		Op:    wal.OpSet,
		Table: table,
		Key:   key,
		Value: encoded,
	}); err != nil {
		return fmt.Errorf("%w: wal append: %v", ErrStorageUnavailable, err)
	}
	if err := s.kv.Write(table, key, encoded); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}

func visibleIndex(c Chain, snap Snapshot) (int, bool) {
	for i := len(c) - 1; i >= 0; i-- {
		if snap.Visible(c[i].CreatedBy, c[i].DeletedBy) {
			return i, true
		}
	}
	return 0, false
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// RowIterator yields the visible version of each chain. The backing chain
// bytes were fetched when the iterator was created; decoding is deferred
// to Next. Chains with no visible version are skipped.
type RowIterator struct {
	snap    Snapshot
	entries []storage.Entry
	pos     int
	err     error
}

// Next returns the next visible row. The second return value is false once
// the iterator is exhausted or failed; check Err afterwards.
func (it *RowIterator) Next() (catalog.Row, bool) {
	for it.pos < len(it.entries) {
		e := it.entries[it.pos]
		it.pos++

		chain, err := decodeChain(e.Value)
		if err != nil {
			it.err = err
			return nil, false
		}
		if t, visible := chain.visibleVersion(it.snap); visible {
			return t.Data, true
		}
	}
	return nil, false
}

// Err returns the decoding error that stopped the iterator, if any.
func (it *RowIterator) Err() error { return it.err }
