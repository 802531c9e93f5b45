package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/strata-db/strata/lib/catalog"
	"github.com/strata-db/strata/lib/codec"
	"github.com/strata-db/strata/lib/mvcc"
	"github.com/strata-db/strata/lib/storage"
	"github.com/strata-db/strata/lib/txn"
	"github.com/strata-db/strata/lib/wal"
)

// Engine is the assembled database core.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	catalog *catalog.Catalog
	txns    *txn.Manager
	store   *storage.Manager
	wal     *wal.WAL
	rows    *mvcc.RowStore
}

// Open assembles an engine from cfg and replays the WAL into the storage
// backends. A nil logger falls back to slog.Default().
func Open(cfg Config, logger *slog.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	cat, err := catalog.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	store := storage.NewManager(storage.Options{
		WriteBufferSize: cfg.Storage.WriteBufferSize,
		CacheSize:       cfg.Storage.CacheSize,
		MaxRuns:         cfg.Storage.MaxRuns,
		Logger:          logger,
	})
	for _, schema := range cat.Tables() {
		err := store.CreateTable(schema.Name, storage.TableConfig{
			Strategy: storage.Strategy(schema.Strategy),
			Codec:    codec.Type(schema.Codec),
		})
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	w, err := wal.Open(wal.Options{
		Dir:          filepath.Join(cfg.DataDir, "wal"),
		SegmentSize:  cfg.WAL.SegmentSize,
		SyncOnAppend: *cfg.WAL.SyncOnAppend,
		Logger:       logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	eng := &Engine{
		cfg:     cfg,
		logger:  logger,
		catalog: cat,
		txns:    txn.NewManager(),
		store:   store,
		wal:     w,
		rows:    mvcc.NewRowStore(cat, store, w, logger),
	}
	if err := eng.replay(); err != nil {
		eng.Close()
		return nil, err
	}
	logger.Info("engine opened",
		"dir", cfg.DataDir, "tables", len(cat.Tables()), "last_lsn", w.LastLSN())
	return eng, nil
}

// replay redoes every logged post-image. Records are idempotent full-chain
// writes, so applying them blindly reproduces the pre-crash state.
func (e *Engine) replay() error {
	var applied int
	err := e.wal.Replay(0, func(rec wal.Record) error {
		var err error
		switch rec.Op {
		case wal.OpSet:
			err = e.store.Write(rec.Table, rec.Key, rec.Value)
		case wal.OpDelete:
			err = e.store.Delete(rec.Table, rec.Key)
		case wal.OpCheckpoint:
			return nil
		default:
			return fmt.Errorf("engine: replay: unknown op %d at lsn %d", rec.Op, rec.LSN)
		}
		// Records may outlive their table when it was dropped later on.
		if storage.CodeOf(err) == storage.RetCTableNotFound {
			return nil
		}
		if err == nil {
			applied++
		}
		return err
	})
	if err != nil {
		return err
	}
	if applied > 0 {
		e.logger.Info("wal replay complete", "records", applied)
	}
	return nil
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// Begin starts a transaction at the given isolation level.
func (e *Engine) Begin(level txn.IsolationLevel) *txn.Transaction {
	return e.txns.Begin(level)
}

// Commit makes the transaction's writes visible to later snapshots. The
// WAL was synced on every write, so commit itself is a bookkeeping step.
func (e *Engine) Commit(id txn.ID) error { return e.txns.Commit(id) }

// Abort marks the transaction aborted; its versions stay invisible.
func (e *Engine) Abort(id txn.ID) error { return e.txns.Abort(id) }

// --------------------------------------------------------------------------
// Table lifecycle
// --------------------------------------------------------------------------

// CreateTable registers the schema and provisions a storage backend for it.
func (e *Engine) CreateTable(schema catalog.TableSchema) error {
	if err := e.catalog.CreateTable(schema); err != nil {
		return err
	}
	err := e.store.CreateTable(schema.Name, storage.TableConfig{
		Strategy: storage.Strategy(schema.Strategy),
		Codec:    codec.Type(schema.Codec),
	})
	if err != nil {
		// Keep catalog and backends in step.
		if rbErr := e.catalog.DropTable(schema.Name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return nil
}

// DropTable removes the table's rows, its schema and its backend. Returns
// the number of removed row chains.
func (e *Engine) DropTable(table string) (int, error) {
	n, err := e.rows.DropTable(table)
	if err != nil {
		return n, err
	}
	return n, e.store.DropTable(table)
}

// Tables lists the registered table schemas.
func (e *Engine) Tables() []catalog.TableSchema { return e.catalog.Tables() }

// --------------------------------------------------------------------------
// Row operations
// --------------------------------------------------------------------------

// Insert adds a row under tx. Fails on schema violations and on a primary
// key already visible to tx.
func (e *Engine) Insert(tx *txn.Transaction, table string, row catalog.Row) error {
	return e.rows.InsertRow(tx.Snapshot(), table, row)
}

// Update merges patch over the row version visible to tx. Returns false
// when no version is visible.
func (e *Engine) Update(tx *txn.Transaction, table string, pk, patch catalog.Row) (bool, error) {
	return e.rows.UpdateRow(tx.Snapshot(), table, pk, patch)
}

// Delete tombstones the row version visible to tx. Returns false when no
// version is visible.
func (e *Engine) Delete(tx *txn.Transaction, table string, pk catalog.Row) (bool, error) {
	return e.rows.DeleteRow(tx.Snapshot(), table, pk)
}

// Get returns the row version visible to tx, if any.
func (e *Engine) Get(tx *txn.Transaction, table string, pk catalog.Row) (catalog.Row, bool, error) {
	return e.rows.GetRow(tx.Snapshot(), table, pk)
}

// Scan iterates the table's rows visible to tx in primary key order.
func (e *Engine) Scan(tx *txn.Transaction, table string) (*mvcc.RowIterator, error) {
	return e.rows.ScanTable(tx.Snapshot(), table)
}

// --------------------------------------------------------------------------
// Maintenance and introspection
// --------------------------------------------------------------------------

// Checkpoint compacts the WAL down to the live state: every stored chain
// is re-logged once and the update history is dropped, so replay cost
// stops growing. The snapshot must be durable before any history segment
// is removed; the log is the only durable artifact.
func (e *Engine) Checkpoint() error {
	if err := e.store.PerformMaintenance(); err != nil {
		return err
	}
	var recs []wal.Record
	for _, table := range e.store.Tables() {
		entries, err := e.store.ScanPrefix(table, "")
		if err != nil {
			return err
		}
		for _, ent := range entries {
			recs = append(recs, wal.Record{Op: wal.OpSet, Table: table, Key: ent.Key, Value: ent.Value})
		}
	}
	recs = append(recs, wal.Record{Op: wal.OpCheckpoint})
	if err := e.wal.Rewrite(recs); err != nil {
		return err
	}
	e.logger.Info("checkpoint complete", "chains", len(recs)-1)
	return nil
}

// PerformMaintenance flushes buffers and compacts run-heavy tables.
func (e *Engine) PerformMaintenance() error { return e.store.PerformMaintenance() }

// AnalyzeEfficiency reports per-table strategy recommendations from the
// observed workload.
func (e *Engine) AnalyzeEfficiency() []storage.Recommendation {
	return e.store.AnalyzeEfficiency()
}

// AdaptStrategies migrates tables whose recommended strategy differs from
// the current one.
func (e *Engine) AdaptStrategies() error { return e.store.AdaptStrategies() }

// GetStorageStats aggregates the storage-level statistics.
func (e *Engine) GetStorageStats() storage.StorageStats { return e.store.GetStorageStats() }

// Close releases the storage backends and the WAL.
func (e *Engine) Close() error {
	return errors.Join(e.store.Close(), e.wal.Close())
}
