// Package wal implements the write-ahead log that makes row mutations
// durable before any storage structure is touched.
//
// Layout:
//
//	Segment File (wal_<id>.log, append-only)
//	────────────────────────────────────
//	| Record | Record | Record | ...   |
//	────────────────────────────────────
//
//	Each Record:
//	────────────────────────────────────────────
//	| LSN (8) | LEN (4) | CRC (4) | DATA (LEN) |
//	────────────────────────────────────────────
//
// Records carry the full post-image of the mutated storage entry, so replay
// is a blind, idempotent re-write: applying the same record twice yields the
// same state. Segments rotate at a configurable size; recovery scans all
// segments in id order, validates checksums and resumes the LSN counter.
//
// A torn final record (incomplete header or payload after a crash) ends
// replay cleanly. A complete record with a checksum mismatch is corruption
// and fails recovery.
//
// Thread-safety: all exported methods are safe for concurrent use.
package wal
