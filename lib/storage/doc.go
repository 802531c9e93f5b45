// Package storage implements the per-table storage manager and its backend
// engines. It routes raw key/value operations to one of three strategies:
//
//   - TreeOrdered: a single ordered index with a read-through block cache.
//     Best for read-heavy and range-scan workloads.
//
//   - LogStructured: an in-memory write buffer flushed into sorted runs,
//     merged by compaction. Best for write-heavy workloads.
//
//   - Hybrid: writes go to both backends; point reads prefer the
//     log-structured side (it holds the freshest data), range scans the
//     tree-ordered side. Implements read-your-writes without cross-backend
//     reconciliation.
//
// The Manager owns one engine per table plus a workload profile feeding
// strategy recommendations. PerformMaintenance flushes and compacts,
// AdaptStrategies migrates tables whose observed workload no longer matches
// their configured strategy, and AnalyzeEfficiency reports on both.
//
// All write operations return only an error (nil on success) while read
// operations return the requested data along with an error. Errors carry a
// RetCode so callers can distinguish an absent table from corruption or an
// unavailable backend.
//
// Thread-safety: the Manager and all engines are safe for concurrent use.
// The table map's lock is never held across backend I/O.
package storage
