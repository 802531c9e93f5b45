package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// OpType identifies the mutation a record describes.
type OpType uint8

const (
	// OpSet writes the record's value under its key.
	OpSet OpType = iota + 1
	// OpDelete removes the record's key.
	OpDelete
	// OpCheckpoint marks that all state up to this LSN is persisted in the
	// storage structures; replay may start after the newest checkpoint.
	OpCheckpoint
)

const recordHeaderSize = 16

// Record is one logged mutation. Value holds the full post-image of the
// storage entry (empty for OpDelete and OpCheckpoint).
type Record struct {
	LSN   uint64
	Txn   uint64
	Op    OpType
	Table string
	Key   string
	Value []byte
}

// encodePayload renders the record body (everything after the frame header).
func (r *Record) encodePayload() []byte {
	size := 8 + 1 + 4 + len(r.Table) + 4 + len(r.Key) + 4 + len(r.Value)
	buf := make([]byte, 0, size)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], r.Txn)
	buf = append(buf, u64[:]...)
	buf = append(buf, byte(r.Op))
	buf = appendLenPrefixed(buf, []byte(r.Table))
	buf = appendLenPrefixed(buf, []byte(r.Key))
	buf = appendLenPrefixed(buf, r.Value)
	return buf
}

func decodePayload(lsn uint64, data []byte) (Record, error) {
	r := Record{LSN: lsn}
	if len(data) < 9 {
		return r, fmt.Errorf("wal: record %d: truncated payload", lsn)
	}
	r.Txn = binary.BigEndian.Uint64(data[:8])
	r.Op = OpType(data[8])
	rest := data[9:]

	table, rest, err := readLenPrefixed(rest)
	if err != nil {
		return r, fmt.Errorf("wal: record %d: %w", lsn, err)
	}
	key, rest, err := readLenPrefixed(rest)
	if err != nil {
		return r, fmt.Errorf("wal: record %d: %w", lsn, err)
	}
	value, _, err := readLenPrefixed(rest)
	if err != nil {
		return r, fmt.Errorf("wal: record %d: %w", lsn, err)
	}
	r.Table = string(table)
	r.Key = string(key)
	if len(value) > 0 {
		r.Value = value
	}
	return r, nil
}

func appendLenPrefixed(buf, b []byte) []byte {
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(b)))
	buf = append(buf, u32[:]...)
	return append(buf, b...)
}

func readLenPrefixed(b []byte) (field, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("truncated field (%d of %d bytes)", len(b), n)
	}
	return b[:n], b[n:], nil
}

// frame renders the full on-disk frame: header plus payload.
func frame(lsn uint64, payload []byte) []byte {
	buf := make([]byte, recordHeaderSize+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], lsn)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[12:16], checksum(lsn, payload))
	copy(buf[recordHeaderSize:], payload)
	return buf
}

// checksum computes the CRC32 over LSN and payload.
func checksum(lsn uint64, data []byte) uint32 {
	h := crc32.NewIEEE()
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], lsn)
	h.Write(u64[:])
	h.Write(data)
	return h.Sum32()
}
