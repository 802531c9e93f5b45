// Package index implements an ordered, balanced B-tree keyed by composite
// string keys. The tree is generic over its leaf payload: with V = uint64 it
// serves as a secondary index mapping keys to row-identifier lists (multiple
// ids per key for non-unique indexes), and with V = []byte it is the ordered
// backing structure used by the storage backends.
//
// Design:
//
//   - Arena allocation: all nodes live in one growable slice owned by the
//     tree. Parent, child and sibling references are plain integer indices
//     into the arena, never pointers, so the structure contains no ownership
//     cycles. A reference to a missing arena slot denotes corruption and is
//     reported as ErrCorrupt, never retried.
//
//   - Split semantics: a node overflows the moment an insert pushes it past
//     maxKeys (order-1) and splits immediately. Leaf splits keep the lower
//     half in place and move the upper half (midpoint included) into a new
//     sibling; the midpoint key is copied up to the parent as separator.
//     Internal splits remove the midpoint from the lower half and promote
//     it. Root splits grow the tree height by exactly one.
//
//   - Range scans walk the leaf sibling chain rather than re-descending per
//     child, so results are complete across leaf boundaries regardless of
//     how many splits occurred.
//
// Concurrency: the whole arena is guarded by a single readers-writer lock.
// Reads proceed in parallel; every insert, delete and split takes an
// exclusive section. Finer-grained latching is a known follow-up, not a
// correctness requirement.
package index
