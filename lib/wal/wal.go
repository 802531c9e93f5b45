package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// ErrCorruptRecord is returned when a fully written record fails its
// checksum. This is data corruption, not a torn tail, and recovery must not
// proceed past it.
var ErrCorruptRecord = errors.New("wal: corrupt record")

var (
	appendedRecords = metrics.GetOrCreateCounter("wal_records_appended_total")
	appendedBytes   = metrics.GetOrCreateCounter("wal_bytes_appended_total")
	syncCalls       = metrics.GetOrCreateCounter("wal_sync_total")
)

const defaultSegmentSize = 16 * 1024 * 1024

// Options configures the log.
type Options struct {
	// Dir is the directory holding segment files.
	Dir string
	// SegmentSize is the rotation threshold in bytes (default 16 MiB).
	SegmentSize int64
	// SyncOnAppend fsyncs after every append. Required for the
	// durability guarantee; tests may disable it for speed.
	SyncOnAppend bool
	// Logger for recovery reporting (default slog.Default).
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SegmentSize <= 0 {
		o.SegmentSize = defaultSegmentSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// WAL is the write-ahead log.
type WAL struct {
	opts Options

	mu       sync.Mutex
	segments map[uint64]*segment
	curr     *segment
	lsn      uint64
}

// Open opens the log in opts.Dir, recovering existing segments and resuming
// the LSN counter after the highest valid record.
func Open(opts Options) (*WAL, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	w := &WAL{opts: opts, segments: make(map[uint64]*segment)}
	if err := w.recoverSegments(); err != nil {
		return nil, err
	}
	if w.curr == nil {
		if err := w.rotateLocked(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *WAL) recoverSegments() error {
	files, err := filepath.Glob(filepath.Join(w.opts.Dir, "wal_*.log"))
	if err != nil {
		return err
	}

	var ids []uint64
	for _, file := range files {
		name := filepath.Base(file)
		hexPart := strings.TrimSuffix(strings.TrimPrefix(name, "wal_"), ".log")
		id, err := strconv.ParseUint(hexPart, 16, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	slices.Sort(ids)

	maxLSN := uint64(0)
	for _, id := range ids {
		seg := newSegment(id, w.opts.Dir)
		if err := seg.open(); err != nil {
			return err
		}
		w.segments[id] = seg

		lsn, err := scanLargestLSN(seg.path)
		if err != nil {
			return err
		}
		if lsn > maxLSN {
			maxLSN = lsn
		}
	}

	w.curr = w.segments[ids[len(ids)-1]]
	w.lsn = maxLSN
	w.opts.Logger.Info("wal recovered",
		"segments", len(ids), "last_lsn", maxLSN, "dir", w.opts.Dir)
	return nil
}

func (w *WAL) rotateLocked() error {
	id := uint64(0)
	if w.curr != nil {
		id = w.curr.id + 1
	}
	seg := newSegment(id, w.opts.Dir)
	if err := seg.open(); err != nil {
		return err
	}
	w.segments[id] = seg
	w.curr = seg
	return nil
}

// Append assigns the next LSN to rec, writes it to the current segment and,
// with SyncOnAppend, fsyncs before returning. The assigned LSN is returned.
func (w *WAL) Append(rec Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lsn++
	rec.LSN = w.lsn
	data := frame(rec.LSN, rec.encodePayload())

	if w.curr.full(w.opts.SegmentSize) {
		if err := w.curr.sync(); err != nil {
			return 0, err
		}
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	if err := w.curr.append(data); err != nil {
		return 0, err
	}
	appendedRecords.Inc()
	appendedBytes.Add(len(data))

	if w.opts.SyncOnAppend {
		syncCalls.Inc()
		if err := w.curr.sync(); err != nil {
			return 0, err
		}
	}
	return rec.LSN, nil
}

// Sync fsyncs the current segment.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	syncCalls.Inc()
	return w.curr.sync()
}

// LastLSN returns the LSN of the most recently appended record.
func (w *WAL) LastLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lsn
}

// Replay invokes apply for every record with LSN > afterLSN, in LSN order
// across all segments. A torn tail ends replay; a checksum mismatch on a
// complete record returns ErrCorruptRecord.
func (w *WAL) Replay(afterLSN uint64, apply func(Record) error) error {
	w.mu.Lock()
	ids := make([]uint64, 0, len(w.segments))
	for id := range w.segments {
		ids = append(ids, id)
	}
	paths := make(map[uint64]string, len(ids))
	for id, seg := range w.segments {
		paths[id] = seg.path
	}
	w.mu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		done, err := replaySegment(paths[id], afterLSN, apply)
		if err != nil {
			return fmt.Errorf("wal: replay segment %d: %w", id, err)
		}
		if done {
			// Torn tail: nothing after it can be valid.
			if id != ids[len(ids)-1] {
				w.opts.Logger.Warn("wal: torn record in non-final segment, stopping replay",
					"segment", id)
			}
			return nil
		}
	}
	return nil
}

// replaySegment reads one segment file. It returns done=true when it hit a
// torn tail (replay must stop entirely).
func replaySegment(path string, afterLSN uint64, apply func(Record) error) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF {
				return false, nil
			}
			if err == io.ErrUnexpectedEOF {
				return true, nil
			}
			return false, err
		}

		lsn := binary.BigEndian.Uint64(header[0:8])
		dataLen := binary.BigEndian.Uint32(header[8:12])
		crc := binary.BigEndian.Uint32(header[12:16])

		data := make([]byte, dataLen)
		if _, err := io.ReadFull(f, data); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return true, nil
			}
			return false, err
		}

		if checksum(lsn, data) != crc {
			return false, fmt.Errorf("%w: LSN %d", ErrCorruptRecord, lsn)
		}
		if lsn <= afterLSN {
			continue
		}

		rec, err := decodePayload(lsn, data)
		if err != nil {
			return false, err
		}
		if err := apply(rec); err != nil {
			return false, fmt.Errorf("apply LSN %d: %w", lsn, err)
		}
	}
}

// scanLargestLSN walks a segment's frame headers and returns the highest
// LSN of a fully written record.
func scanLargestLSN(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	maxLSN := uint64(0)
	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			// EOF and a torn header both end the scan.
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return maxLSN, nil
			}
			return 0, err
		}
		lsn := binary.BigEndian.Uint64(header[0:8])
		dataLen := binary.BigEndian.Uint32(header[8:12])

		if _, err := f.Seek(int64(dataLen), io.SeekCurrent); err != nil {
			return maxLSN, nil
		}
		// Confirm the payload is really there before trusting the LSN.
		if pos, err := f.Seek(0, io.SeekCurrent); err != nil {
			return maxLSN, nil
		} else if stat, err := f.Stat(); err != nil || pos > stat.Size() {
			return maxLSN, nil
		}
		if lsn > maxLSN {
			maxLSN = lsn
		}
	}
}

// Rewrite replaces the log contents with recs, typically a checkpoint's
// snapshot of the live state. The records land in fresh segments and are
// synced before any old segment is removed, so a crash at any point leaves
// a log whose replay converges on the same state: the snapshot records are
// idempotent post-images that sort after the history they replace. LSNs
// continue the existing sequence.
func (w *WAL) Rewrite(recs []Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.curr.sync(); err != nil {
		return err
	}
	if err := w.rotateLocked(); err != nil {
		return err
	}
	firstNew := w.curr.id

	for _, rec := range recs {
		w.lsn++
		rec.LSN = w.lsn
		data := frame(rec.LSN, rec.encodePayload())

		if w.curr.full(w.opts.SegmentSize) {
			if err := w.curr.sync(); err != nil {
				return err
			}
			if err := w.rotateLocked(); err != nil {
				return err
			}
		}
		if err := w.curr.append(data); err != nil {
			return err
		}
		appendedRecords.Inc()
		appendedBytes.Add(len(data))
	}
	if err := w.curr.sync(); err != nil {
		return err
	}

	for id, seg := range w.segments {
		if id >= firstNew {
			continue
		}
		if err := seg.close(); err != nil {
			return err
		}
		if err := os.Remove(seg.path); err != nil {
			return err
		}
		delete(w.segments, id)
	}
	return nil
}

// Close syncs and closes all segments.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for _, seg := range w.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
