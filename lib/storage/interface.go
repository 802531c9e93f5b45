package storage

import (
	"errors"
	"fmt"

	"github.com/strata-db/strata/lib/codec"
)

// --------------------------------------------------------------------------
// Strategy
// --------------------------------------------------------------------------

// Strategy selects the backend representation for one table. The set is
// closed: every Engine implementation corresponds to exactly one strategy.
type Strategy string

const (
	TreeOrdered   Strategy = "tree"
	LogStructured Strategy = "log"
	Hybrid        Strategy = "hybrid"
)

func (s Strategy) valid() bool {
	switch s {
	case TreeOrdered, LogStructured, Hybrid:
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Entry is one key/value pair yielded by a scan.
type Entry struct {
	Key   string
	Value []byte
}

// EngineInfo reports backend state for statistics and maintenance decisions.
// It is not guaranteed that all fields apply to every strategy.
type EngineInfo struct {
	Strategy     Strategy
	Entries      uint64
	Runs         int
	BufferBytes  int
	BytesStored  int64
	BytesLogical int64
	CacheHitRate float64
	AvgValueSize int
}

// CompressionRatio returns logical over stored bytes (1.0 when nothing is
// stored or the codec is the identity).
func (i EngineInfo) CompressionRatio() float64 {
	if i.BytesStored <= 0 || i.BytesLogical <= 0 {
		return 1.0
	}
	return float64(i.BytesLogical) / float64(i.BytesStored)
}

// Engine is the interface all storage backends implement. Write operations
// must not return before the backend mutation completes.
type Engine interface {
	// Set inserts or updates a key/value pair.
	Set(key string, value []byte) error
	// Get returns the value for a key. The boolean return value indicates
	// whether a value for the key was found.
	Get(key string) (value []byte, loaded bool, err error)
	// Delete removes a key/value pair.
	Delete(key string) error
	// Scan returns all entries with start <= key <= end in ascending key
	// order.
	Scan(start, end string) ([]Entry, error)
	// Ascend walks all entries in ascending key order until fn returns
	// false.
	Ascend(fn func(key string, value []byte) bool) error
	// Flush persists the write buffer into the backend's durable
	// structure. A no-op for engines without a buffer.
	Flush() error
	// Compact merges and rewrites backend structures. Must be safe to run
	// concurrently with reads and writes, and cheap when there is nothing
	// to do.
	Compact() error
	// Info returns backend statistics.
	Info() EngineInfo
	// Close releases backend resources.
	Close() error
}

// EngineOptions configures a single backend instance.
type EngineOptions struct {
	// Codec compresses values at rest (default raw).
	Codec codec.Codec
	// WriteBufferSize is the log-structured flush threshold in bytes.
	WriteBufferSize int
	// MaxRuns is the run count above which Compact merges (default 4).
	MaxRuns int
	// CacheSize is the tree-ordered read cache budget in bytes.
	CacheSize int64
}

const (
	defaultWriteBufferSize = 4 * 1024 * 1024
	defaultMaxRuns         = 4
	defaultCacheSize       = 64 * 1024 * 1024
)

func (o EngineOptions) withDefaults() EngineOptions {
	if o.Codec == nil {
		o.Codec = codec.NewRawCodec()
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = defaultWriteBufferSize
	}
	if o.MaxRuns <= 0 {
		o.MaxRuns = defaultMaxRuns
	}
	if o.CacheSize <= 0 {
		o.CacheSize = defaultCacheSize
	}
	return o
}

// NewEngine creates a backend for the given strategy.
func NewEngine(s Strategy, opts EngineOptions) (Engine, error) {
	opts = opts.withDefaults()
	switch s {
	case TreeOrdered:
		return newTreeEngine(opts)
	case LogStructured:
		return newLogEngine(opts)
	case Hybrid:
		return newHybridEngine(opts)
	default:
		return nil, NewError(RetCInvalidOperation, fmt.Sprintf("unknown strategy %q", s))
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StorageError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// CodeOf extracts the return code from an error, RetCInternalError when the
// error is not a storage Error, RetCSuccess for nil.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the backend.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCTableNotFound                       // 4: No configuration for the requested table.
	RetCCorruption                          // 5: Structural corruption, never retried.
	RetCUnavailable                         // 6: Backend or codec I/O failure.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCTableNotFound:
		return "TableNotFound"
	case RetCCorruption:
		return "Corruption"
	case RetCUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}
