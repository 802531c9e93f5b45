package storage

import (
	"sync"

	gometrics "github.com/rcrowley/go-metrics"
)

// AccessPattern classifies the observed shape of a table's workload.
type AccessPattern string

const (
	PatternReadHeavy  AccessPattern = "read-heavy"
	PatternWriteHeavy AccessPattern = "write-heavy"
	PatternBalanced   AccessPattern = "balanced"
	PatternSequential AccessPattern = "sequential"
	PatternRandom     AccessPattern = "random"
)

// Thresholds for strategy recommendation. A workload counts as read- or
// write-heavy once that side exceeds 70% of point operations, matching the
// usual OLTP (90/10) and ingest (10/90) shapes.
const (
	heavyRatio        = 0.7
	scanHeavyFraction = 0.2
	minSamples        = 100
)

// Profile accumulates workload signals for one table: moving-average rates
// for reads, writes and range scans, plus a sequentiality estimate from the
// order of written keys.
type Profile struct {
	reads  gometrics.Meter
	writes gometrics.Meter
	scans  gometrics.Meter

	mu         sync.Mutex
	lastKey    string
	sequential int64
	random     int64
}

// NewProfile creates an empty workload profile.
func NewProfile() *Profile {
	return &Profile{
		reads:  gometrics.NewMeter(),
		writes: gometrics.NewMeter(),
		scans:  gometrics.NewMeter(),
	}
}

// MarkRead records one point read.
func (p *Profile) MarkRead() { p.reads.Mark(1) }

// MarkScan records one range scan.
func (p *Profile) MarkScan() { p.scans.Mark(1) }

// MarkWrite records one write or delete and updates the sequentiality
// estimate from the key order.
func (p *Profile) MarkWrite(key string) {
	p.writes.Mark(1)

	p.mu.Lock()
	if p.lastKey != "" {
		if key >= p.lastKey {
			p.sequential++
		} else {
			p.random++
		}
	}
	p.lastKey = key
	p.mu.Unlock()
}

// Stop releases the meters' background workers.
func (p *Profile) Stop() {
	p.reads.Stop()
	p.writes.Stop()
	p.scans.Stop()
}

// Summary is a point-in-time view of the profile.
type Summary struct {
	Reads       int64
	Writes      int64
	Scans       int64
	ReadRate1m  float64
	WriteRate1m float64
	ReadRatio   float64
	Pattern     AccessPattern
	Sequential  bool
}

// Summarize classifies the workload seen so far.
func (p *Profile) Summarize() Summary {
	reads := p.reads.Count()
	writes := p.writes.Count()
	scans := p.scans.Count()

	s := Summary{
		Reads:       reads,
		Writes:      writes,
		Scans:       scans,
		ReadRate1m:  p.reads.Rate1(),
		WriteRate1m: p.writes.Rate1(),
	}
	total := reads + writes
	if total > 0 {
		s.ReadRatio = float64(reads) / float64(total)
	}

	p.mu.Lock()
	ordered := p.sequential
	unordered := p.random
	p.mu.Unlock()
	s.Sequential = ordered > unordered*2

	switch {
	case total == 0:
		s.Pattern = PatternBalanced
	case s.ReadRatio >= heavyRatio:
		s.Pattern = PatternReadHeavy
	case s.ReadRatio <= 1-heavyRatio:
		s.Pattern = PatternWriteHeavy
	case s.Sequential:
		s.Pattern = PatternSequential
	case unordered > ordered*2:
		s.Pattern = PatternRandom
	default:
		s.Pattern = PatternBalanced
	}
	return s
}

// Recommend maps the observed workload to a storage strategy. With fewer
// than minSamples point operations it returns current unchanged, so fresh
// tables are not migrated on noise.
func (p *Profile) Recommend(current Strategy) Strategy {
	s := p.Summarize()
	if s.Reads+s.Writes < minSamples {
		return current
	}

	// Scans need the ordered backend regardless of the point-op mix.
	if s.Reads > 0 && float64(s.Scans) >= scanHeavyFraction*float64(s.Reads) {
		return TreeOrdered
	}

	switch s.Pattern {
	case PatternReadHeavy:
		return TreeOrdered
	case PatternWriteHeavy, PatternSequential:
		return LogStructured
	default:
		return Hybrid
	}
}
