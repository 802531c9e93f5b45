package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/strata-db/strata/lib/codec"
)

// --------------------------------------------------------------------------
// Latency tracking
// --------------------------------------------------------------------------

// latencyTracker keeps a running average and feeds the process-wide
// histogram for external exposition.
type latencyTracker struct {
	count   atomic.Uint64
	totalNs atomic.Uint64
	hist    *metrics.Histogram
}

func newLatencyTracker(table, op string) *latencyTracker {
	return &latencyTracker{
		hist: metrics.GetOrCreateHistogram(
			fmt.Sprintf(`storage_op_duration_seconds{table=%q,op=%q}`, table, op)),
	}
}

func (l *latencyTracker) observe(d time.Duration) {
	l.count.Add(1)
	l.totalNs.Add(uint64(d.Nanoseconds()))
	l.hist.Update(d.Seconds())
}

func (l *latencyTracker) average() time.Duration {
	n := l.count.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(l.totalNs.Load() / n)
}

// --------------------------------------------------------------------------
// Table configuration
// --------------------------------------------------------------------------

// TableConfig is the persisted storage configuration for one table.
type TableConfig struct {
	// Strategy selects the backend; empty means "analyze and choose".
	Strategy Strategy
	// Codec names the compression applied to values at rest.
	Codec codec.Type
	// WriteBufferSize overrides the log-structured flush threshold.
	WriteBufferSize int
	// CacheSize overrides the tree-ordered cache budget.
	CacheSize int64
}

// tableState pairs a live engine with its configuration and workload
// profile. The engine pointer swaps atomically during strategy migration.
type tableState struct {
	name    string
	profile *Profile

	readLat  *latencyTracker
	writeLat *latencyTracker

	mu     sync.RWMutex
	cfg    TableConfig
	engine Engine
}

func (t *tableState) currentEngine() Engine {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.engine
}

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

// Options configures a Manager.
type Options struct {
	// Defaults applied to tables that do not override them.
	WriteBufferSize int
	CacheSize       int64
	MaxRuns         int
	Logger          *slog.Logger
}

// Manager owns the per-table configuration map and routes key/value
// operations to each table's backend.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	tables map[string]*tableState
}

// NewManager creates an empty storage manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:   opts,
		logger: logger.With("component", "storage"),
		tables: make(map[string]*tableState),
	}
}

// analyzeStrategy picks an initial strategy for a fresh table. With no
// workload history yet, the table name is the only signal: append-style
// names get the log-structured backend, everything else the tree.
func analyzeStrategy(name string) Strategy {
	lower := strings.ToLower(name)
	for _, hint := range []string{"log", "event", "audit", "metric", "history"} {
		if strings.Contains(lower, hint) {
			return LogStructured
		}
	}
	return TreeOrdered
}

func (m *Manager) engineOptions(cfg TableConfig) (EngineOptions, error) {
	cdc, err := codec.New(cfg.Codec)
	if err != nil {
		return EngineOptions{}, NewError(RetCInvalidOperation, err.Error())
	}
	opts := EngineOptions{
		Codec:           cdc,
		WriteBufferSize: cfg.WriteBufferSize,
		CacheSize:       cfg.CacheSize,
		MaxRuns:         m.opts.MaxRuns,
	}
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = m.opts.WriteBufferSize
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = m.opts.CacheSize
	}
	return opts, nil
}

// CreateTable registers a table and initializes its backend(s). An empty
// cfg.Strategy runs workload analysis to choose one.
func (m *Manager) CreateTable(name string, cfg TableConfig) error {
	if name == "" {
		return NewError(RetCInvalidOperation, "empty table name")
	}
	if cfg.Strategy == "" {
		cfg.Strategy = analyzeStrategy(name)
	}
	if !cfg.Strategy.valid() {
		return NewError(RetCInvalidOperation, fmt.Sprintf("unknown strategy %q", cfg.Strategy))
	}

	opts, err := m.engineOptions(cfg)
	if err != nil {
		return err
	}
	engine, err := NewEngine(cfg.Strategy, opts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[name]; ok {
		engine.Close()
		return NewError(RetCInvalidOperation, fmt.Sprintf("table %q already exists", name))
	}
	m.tables[name] = &tableState{
		name:     name,
		cfg:      cfg,
		engine:   engine,
		profile:  NewProfile(),
		readLat:  newLatencyTracker(name, "read"),
		writeLat: newLatencyTracker(name, "write"),
	}
	m.logger.Info("table created", "table", name, "strategy", cfg.Strategy, "codec", cfg.Codec)
	return nil
}

// DropTable removes a table and closes its backend.
func (m *Manager) DropTable(name string) error {
	m.mu.Lock()
	t, ok := m.tables[name]
	delete(m.tables, name)
	m.mu.Unlock()

	if !ok {
		return NewError(RetCTableNotFound, name)
	}
	t.profile.Stop()
	m.logger.Info("table dropped", "table", name)
	return t.currentEngine().Close()
}

// table resolves the table state. The manager lock is released before the
// caller performs any backend I/O.
func (m *Manager) table(name string) (*tableState, error) {
	m.mu.RLock()
	t, ok := m.tables[name]
	m.mu.RUnlock()
	if !ok {
		return nil, NewError(RetCTableNotFound, name)
	}
	return t, nil
}

// Read returns the value stored under key in the given table.
func (m *Manager) Read(table, key string) ([]byte, bool, error) {
	t, err := m.table(table)
	if err != nil {
		return nil, false, err
	}
	start := time.Now()
	value, loaded, err := t.currentEngine().Get(key)
	t.readLat.observe(time.Since(start))
	t.profile.MarkRead()
	return value, loaded, err
}

// Write stores value under key in the given table. The call returns only
// after the backend write completed.
func (m *Manager) Write(table, key string, value []byte) error {
	t, err := m.table(table)
	if err != nil {
		return err
	}
	start := time.Now()
	err = t.currentEngine().Set(key, value)
	t.writeLat.observe(time.Since(start))
	t.profile.MarkWrite(key)
	return err
}

// Delete removes key from the given table.
func (m *Manager) Delete(table, key string) error {
	t, err := m.table(table)
	if err != nil {
		return err
	}
	start := time.Now()
	err = t.currentEngine().Delete(key)
	t.writeLat.observe(time.Since(start))
	t.profile.MarkWrite(key)
	return err
}

// Scan returns all entries of the table with start <= key <= end.
func (m *Manager) Scan(table, start, end string) ([]Entry, error) {
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	t.profile.MarkScan()
	return t.currentEngine().Scan(start, end)
}

// prefixSuccessor returns the smallest string greater than every string
// with the given prefix. The second return is false when no such bound
// exists (empty or all-0xff prefix).
func prefixSuccessor(prefix string) (string, bool) {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] < 0xff {
			return prefix[:i] + string(prefix[i]+1), true
		}
	}
	return "", false
}

// ScanPrefix returns all entries of the table whose key starts with prefix.
func (m *Manager) ScanPrefix(table, prefix string) ([]Entry, error) {
	end, bounded := prefixSuccessor(prefix)
	if !bounded {
		// No upper bound exists; walk everything.
		t, err := m.table(table)
		if err != nil {
			return nil, err
		}
		t.profile.MarkScan()
		var out []Entry
		err = t.currentEngine().Ascend(func(key string, value []byte) bool {
			if strings.HasPrefix(key, prefix) {
				out = append(out, Entry{Key: key, Value: value})
			}
			return true
		})
		return out, err
	}

	entries, err := m.Scan(table, prefix, end)
	if err != nil {
		return nil, err
	}
	// The successor itself is within the scan bound but not the prefix.
	out := entries[:0]
	for _, e := range entries {
		if strings.HasPrefix(e.Key, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

// DropPrefix deletes every entry of the table whose key starts with prefix
// and returns the number of deleted entries.
func (m *Manager) DropPrefix(table, prefix string) (int, error) {
	entries, err := m.ScanPrefix(table, prefix)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := m.Delete(table, e.Key); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

// --------------------------------------------------------------------------
// Maintenance and adaptation
// --------------------------------------------------------------------------

func (m *Manager) snapshotTables() []*tableState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*tableState, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t)
	}
	return out
}

// PerformMaintenance flushes write buffers, merges runs that grew past the
// configured limit and refreshes backend statistics. It never takes an
// exclusive table lock, so reads and writes proceed concurrently.
func (m *Manager) PerformMaintenance() error {
	maxRuns := m.opts.MaxRuns
	if maxRuns <= 0 {
		maxRuns = defaultMaxRuns
	}

	var firstErr error
	for _, t := range m.snapshotTables() {
		engine := t.currentEngine()
		if err := engine.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if engine.Info().Runs >= maxRuns {
			if err := engine.Compact(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		m.logger.Debug("maintenance pass", "table", t.name, "runs", engine.Info().Runs)
	}
	return firstErr
}

// Recommendation is one AnalyzeEfficiency finding.
type Recommendation struct {
	Table       string
	Current     Strategy
	Recommended Strategy
	Pattern     AccessPattern
	ReadRatio   float64
	Reason      string
}

// AnalyzeEfficiency re-evaluates every table's workload profile and reports
// where the configured strategy no longer fits.
func (m *Manager) AnalyzeEfficiency() []Recommendation {
	var out []Recommendation
	for _, t := range m.snapshotTables() {
		t.mu.RLock()
		current := t.cfg.Strategy
		t.mu.RUnlock()

		s := t.profile.Summarize()
		rec := t.profile.Recommend(current)
		if rec == current {
			continue
		}
		out = append(out, Recommendation{
			Table:       t.name,
			Current:     current,
			Recommended: rec,
			Pattern:     s.Pattern,
			ReadRatio:   s.ReadRatio,
			Reason: fmt.Sprintf("%s workload (read ratio %.2f) fits %s better than %s",
				s.Pattern, s.ReadRatio, rec, current),
		})
	}
	return out
}

// AdaptStrategies migrates every table whose recommended strategy differs
// from its configured one: the data is copied into a fresh backend, then
// the engine reference and configuration swap atomically.
func (m *Manager) AdaptStrategies() error {
	for _, rec := range m.AnalyzeEfficiency() {
		if err := m.migrate(rec.Table, rec.Recommended); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) migrate(table string, target Strategy) error {
	t, err := m.table(table)
	if err != nil {
		return err
	}

	t.mu.RLock()
	cfg := t.cfg
	t.mu.RUnlock()
	cfg.Strategy = target

	opts, err := m.engineOptions(cfg)
	if err != nil {
		return err
	}
	next, err := NewEngine(target, opts)
	if err != nil {
		return err
	}

	// Copy phase runs against the live engine; writes racing the copy land
	// in the old backend and are caught by the locked delta pass below.
	old := t.currentEngine()
	if err := copyEngine(old, next); err != nil {
		next.Close()
		return err
	}

	t.mu.Lock()
	// Delta pass under the exclusive section; the first copy made it small.
	if err := copyEngine(t.engine, next); err != nil {
		t.mu.Unlock()
		next.Close()
		return err
	}
	prev := t.engine
	t.engine = next
	t.cfg = cfg
	t.mu.Unlock()

	m.logger.Info("strategy migrated", "table", table, "to", target)
	return prev.Close()
}

func copyEngine(from, to Engine) error {
	var copyErr error
	err := from.Ascend(func(key string, value []byte) bool {
		copyErr = to.Set(key, value)
		return copyErr == nil
	})
	if copyErr != nil {
		return copyErr
	}
	return err
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// TableStats reports one table's storage state.
type TableStats struct {
	Strategy         Strategy
	Entries          uint64
	Runs             int
	BytesUsed        int64
	CompressionRatio float64
	CacheHitRate     float64
	AvgReadLatency   time.Duration
	AvgWriteLatency  time.Duration
	Workload         Summary
}

// StorageStats aggregates over all tables.
type StorageStats struct {
	Reads            uint64
	Writes           uint64
	BytesUsed        int64
	CacheHitRate     float64
	CompressionRatio float64
	AvgReadLatency   time.Duration
	AvgWriteLatency  time.Duration
	Tables           map[string]TableStats
}

// GetStorageStats returns aggregate and per-table statistics.
func (m *Manager) GetStorageStats() StorageStats {
	out := StorageStats{Tables: make(map[string]TableStats)}

	var readNs, writeNs, readCount, writeCount, hitSum uint64
	var logical, stored int64
	var hitTables int

	for _, t := range m.snapshotTables() {
		info := t.currentEngine().Info()
		ts := TableStats{
			Strategy:         info.Strategy,
			Entries:          info.Entries,
			Runs:             info.Runs,
			BytesUsed:        info.BytesStored,
			CompressionRatio: info.CompressionRatio(),
			CacheHitRate:     info.CacheHitRate,
			AvgReadLatency:   t.readLat.average(),
			AvgWriteLatency:  t.writeLat.average(),
			Workload:         t.profile.Summarize(),
		}
		out.Tables[t.name] = ts

		out.Reads += uint64(ts.Workload.Reads)
		out.Writes += uint64(ts.Workload.Writes)
		out.BytesUsed += info.BytesStored
		logical += info.BytesLogical
		stored += info.BytesStored
		readNs += t.readLat.totalNs.Load()
		writeNs += t.writeLat.totalNs.Load()
		readCount += t.readLat.count.Load()
		writeCount += t.writeLat.count.Load()
		if info.Strategy != LogStructured {
			hitSum += uint64(info.CacheHitRate * 1e6)
			hitTables++
		}
	}

	if readCount > 0 {
		out.AvgReadLatency = time.Duration(readNs / readCount)
	}
	if writeCount > 0 {
		out.AvgWriteLatency = time.Duration(writeNs / writeCount)
	}
	if hitTables > 0 {
		out.CacheHitRate = float64(hitSum) / 1e6 / float64(hitTables)
	}
	if stored > 0 && logical > 0 {
		out.CompressionRatio = float64(logical) / float64(stored)
	} else {
		out.CompressionRatio = 1.0
	}
	return out
}

// Tables returns the names of all registered tables.
func (m *Manager) Tables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tables))
	for name := range m.tables {
		out = append(out, name)
	}
	return out
}

// HasTable reports whether a table is registered.
func (m *Manager) HasTable(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tables[name]
	return ok
}

// Close shuts down every table backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, t := range m.tables {
		t.profile.Stop()
		if err := t.currentEngine().Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.tables, name)
	}
	return firstErr
}
