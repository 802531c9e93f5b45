// Package txn provides transaction lifecycle management and the visibility
// oracle consumed by the versioned row layer.
//
// The Manager hands out monotonically increasing transaction ids and a
// commit sequence. A Snapshot taken at transaction begin captures the commit
// watermark and the set of transactions active at that instant; tuple
// visibility is then a pure function of the creating and deleting
// transaction ids against that snapshot, so the row layer never needs to
// know about transaction state itself.
//
// Supported isolation levels:
//
//   - ReadCommitted: visibility is evaluated against a fresh watermark on
//     every read, so each statement sees the latest committed state.
//
//   - RepeatableRead: visibility is evaluated against the snapshot taken at
//     transaction begin, yielding snapshot isolation.
//
// Thread-safety: the Manager is safe for concurrent use. Snapshots are
// immutable after creation and may be shared freely.
package txn
