package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/strata-db/strata/lib/codec"
	"github.com/strata-db/strata/lib/index"
	"github.com/strata-db/strata/lib/storage/util"
)

// logEntry is one buffered or run-resident value. Data holds the compressed
// value and origLen its uncompressed size; a tombstone shadows older
// versions of the key.
type logEntry struct {
	data      []byte
	origLen   int
	tombstone bool
}

// sortedRun is one immutable flushed buffer, ordered by its own index.
type sortedRun struct {
	id   uuid.UUID
	tree *index.BTree[logEntry]
}

// logStoreImpl implements the Engine interface as a log-structured store:
// writes land in an in-memory buffer, the buffer flushes into sorted runs,
// compaction merges all runs into one. Within the store, newer always
// shadows older: buffer over runs, earlier runs over later ones.
type logStoreImpl struct {
	cdc   codec.Codec
	sizes *util.SizeHistogram

	mu        sync.RWMutex
	mem       map[string]logEntry
	memBytes  int
	flushSize int
	maxRuns   int
	runs      []*sortedRun // newest first
	entries   uint64
	logical   int64
	stored    int64
}

func newLogEngine(opts EngineOptions) (Engine, error) {
	return &logStoreImpl{
		cdc:       opts.Codec,
		sizes:     util.NewSizeHistogram(),
		mem:       make(map[string]logEntry),
		flushSize: opts.WriteBufferSize,
		maxRuns:   opts.MaxRuns,
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see storage.Engine)
// --------------------------------------------------------------------------

func (s *logStoreImpl) Set(key string, value []byte) error {
	encoded, err := s.cdc.Encode(value)
	if err != nil {
		return NewError(RetCUnavailable, fmt.Sprintf("encode %q: %v", key, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.mem[key]; ok {
		s.memBytes -= len(key) + len(old.data)
		s.logical -= int64(old.origLen)
		s.stored -= int64(len(old.data))
	}
	s.mem[key] = logEntry{data: encoded, origLen: len(value)}
	s.memBytes += len(key) + len(encoded)
	s.logical += int64(len(value))
	s.stored += int64(len(encoded))
	s.sizes.AddSample(len(value))

	if s.memBytes >= s.flushSize {
		return s.flushLocked()
	}
	return nil
}

func (s *logStoreImpl) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok, err := s.lookupLocked(key)
	s.mu.RUnlock()
	if err != nil || !ok || entry.tombstone {
		return nil, false, err
	}
	value, err := s.cdc.Decode(entry.data)
	if err != nil {
		return nil, false, NewError(RetCUnavailable, fmt.Sprintf("decode %q: %v", key, err))
	}
	return value, true, nil
}

// lookupLocked finds the newest entry for key: buffer first, then runs in
// newest-first order. Callers must hold at least the read lock.
func (s *logStoreImpl) lookupLocked(key string) (logEntry, bool, error) {
	if e, ok := s.mem[key]; ok {
		return e, true, nil
	}
	for _, run := range s.runs {
		e, ok, err := run.tree.Get(key)
		if err != nil {
			return logEntry{}, false, NewError(RetCCorruption, err.Error())
		}
		if ok {
			return e, true, nil
		}
	}
	return logEntry{}, false, nil
}

func (s *logStoreImpl) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.mem[key]; ok {
		s.memBytes -= len(key) + len(old.data)
		s.logical -= int64(old.origLen)
		s.stored -= int64(len(old.data))
	}
	// Tombstone, not removal: the key may live in an older run.
	s.mem[key] = logEntry{tombstone: true}
	s.memBytes += len(key)
	return nil
}

func (s *logStoreImpl) Scan(start, end string) ([]Entry, error) {
	s.mu.RLock()
	merged, err := s.mergedViewLocked(func(k string) bool { return k >= start && k <= end })
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		e := merged[k]
		if e.tombstone {
			continue
		}
		value, err := s.cdc.Decode(e.data)
		if err != nil {
			return nil, NewError(RetCUnavailable, fmt.Sprintf("decode %q: %v", k, err))
		}
		out = append(out, Entry{Key: k, Value: value})
	}
	return out, nil
}

func (s *logStoreImpl) Ascend(fn func(key string, value []byte) bool) error {
	s.mu.RLock()
	merged, err := s.mergedViewLocked(func(string) bool { return true })
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		e := merged[k]
		if e.tombstone {
			continue
		}
		value, err := s.cdc.Decode(e.data)
		if err != nil {
			return NewError(RetCUnavailable, fmt.Sprintf("decode %q: %v", k, err))
		}
		if !fn(k, value) {
			return nil
		}
	}
	return nil
}

// mergedViewLocked collects the newest entry per key across buffer and runs,
// restricted to keys accepted by keep. Callers must hold at least the read
// lock.
func (s *logStoreImpl) mergedViewLocked(keep func(string) bool) (map[string]logEntry, error) {
	merged := make(map[string]logEntry)
	for k, e := range s.mem {
		if keep(k) {
			merged[k] = e
		}
	}
	for _, run := range s.runs {
		err := run.tree.Ascend(func(key string, vals []logEntry) bool {
			if !keep(key) || len(vals) == 0 {
				return true
			}
			if _, seen := merged[key]; !seen {
				merged[key] = vals[0]
			}
			return true
		})
		if err != nil {
			return nil, NewError(RetCCorruption, err.Error())
		}
	}
	return merged, nil
}

// Flush turns the write buffer into a new sorted run.
func (s *logStoreImpl) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *logStoreImpl) flushLocked() error {
	if len(s.mem) == 0 {
		return nil
	}
	tree, err := index.New[logEntry](index.Config{Name: "run"})
	if err != nil {
		return NewError(RetCInternalError, err.Error())
	}
	for k, e := range s.mem {
		if err := tree.Put(k, e); err != nil {
			return NewError(RetCInternalError, err.Error())
		}
	}
	run := &sortedRun{id: uuid.New(), tree: tree}
	s.runs = append([]*sortedRun{run}, s.runs...)
	s.mem = make(map[string]logEntry)
	s.memBytes = 0
	return nil
}

// Compact performs a full merge: all runs collapse into one, and tombstones
// are dropped since nothing older can remain beneath them. A no-op below
// two runs.
func (s *logStoreImpl) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.runs) < 2 {
		return nil
	}

	merged := make(map[string]logEntry)
	for _, run := range s.runs {
		err := run.tree.Ascend(func(key string, vals []logEntry) bool {
			if len(vals) == 0 {
				return true
			}
			if _, seen := merged[key]; !seen {
				merged[key] = vals[0]
			}
			return true
		})
		if err != nil {
			return NewError(RetCCorruption, err.Error())
		}
	}

	tree, err := index.New[logEntry](index.Config{Name: "run"})
	if err != nil {
		return NewError(RetCInternalError, err.Error())
	}
	// Byte counters are recomputed from the surviving entries; entries
	// shadowed in older runs stop counting here.
	var stored, logical int64
	for k, e := range merged {
		if e.tombstone {
			continue
		}
		if err := tree.Put(k, e); err != nil {
			return NewError(RetCInternalError, err.Error())
		}
		stored += int64(len(e.data))
		logical += int64(e.origLen)
	}
	for _, e := range s.mem {
		if e.tombstone {
			continue
		}
		stored += int64(len(e.data))
		logical += int64(e.origLen)
	}
	s.runs = []*sortedRun{{id: uuid.New(), tree: tree}}
	s.stored = stored
	s.logical = logical
	return nil
}

func (s *logStoreImpl) Info() EngineInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries uint64
	for _, run := range s.runs {
		entries += run.tree.Stats().TotalEntries
	}
	entries += uint64(len(s.mem))

	return EngineInfo{
		Strategy:     LogStructured,
		Entries:      entries,
		Runs:         len(s.runs),
		BufferBytes:  s.memBytes,
		BytesStored:  s.stored,
		BytesLogical: s.logical,
		AvgValueSize: s.sizes.Average(),
	}
}

func (s *logStoreImpl) Close() error { return nil }
