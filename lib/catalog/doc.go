// Package catalog holds table metadata: column definitions, primary keys and
// per-table storage settings. Schemas are persisted as JSON in a single
// catalog file under the data directory and loaded on startup.
//
// The package also owns row validation: before a row reaches storage it is
// checked against its table schema (unknown columns, type mismatches, NOT
// NULL violations) and missing defaultable columns are filled in.
//
// Thread-safety: the Catalog is safe for concurrent use; schema lookups take
// a read lock, DDL operations a write lock.
package catalog
