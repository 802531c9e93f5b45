// Package engine assembles the full database core behind a single facade.
//
// An Engine wires together the table catalog, the transaction manager, the
// write-ahead log, the storage manager and the MVCC row layer. Open runs
// crash recovery before returning: every WAL record is replayed into the
// storage backends, so the engine always starts from the last durable
// state.
//
// Key Components:
//   - Config: engine settings, loadable from a YAML file
//   - Engine: table lifecycle, transactional row operations, maintenance
//
// Thread Safety: an Engine is safe for concurrent use; all locking lives in
// the layers below.
//
// Usage:
//
//	eng, err := engine.Open(engine.Config{DataDir: "data"}, nil)
//	if err != nil { ... }
//	defer eng.Close()
//
//	tx := eng.Begin(txn.RepeatableRead)
//	err = eng.Insert(tx, "users", row)
//	err = eng.Commit(tx.ID)
package engine
