// Package mvcc implements the versioned row layer. Every row is stored as a
// version chain: the ordered set of all tuples ever written for one primary
// key, each tagged with the transaction that created it and, once superseded
// or deleted, the transaction that ended it. Chains are immutable per
// version; writes rewrite the serialized chain wholesale under the storage
// key `table:<name>:pk:<primary_key>`.
//
// Visibility is delegated to an externally supplied Snapshot oracle: the row
// layer never inspects transaction state, it only asks "is the tuple created
// by X and deleted by Y visible to you". Deletes are tombstones (the tuple
// stays, tagged deleted-by); physical reclamation is a vacuum concern
// outside this layer.
//
// Durability contract: for every mutating operation the WAL record, carrying
// the full post-image of the chain, is durably appended before the data
// write is issued. Replaying the log in order therefore reproduces the exact
// chain state, and redo is idempotent.
//
// Concurrency: the duplicate-key check in InsertRow and the subsequent chain
// write are guarded by a per-key latch, so two concurrent inserts of the
// same primary key cannot both pass the check. The layer takes no other
// locks of its own.
package mvcc
