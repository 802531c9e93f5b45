package mvcc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/strata-db/strata/lib/catalog"
	"github.com/strata-db/strata/lib/txn"
)

// VersionedTuple is one immutable snapshot of a row's column values.
// DeletedBy is txn.None while the version is live; a tombstone or
// superseding update sets it.
type VersionedTuple struct {
	CreatedBy txn.ID
	DeletedBy txn.ID
	Data      catalog.Row
}

// Chain is the ordered set of all versions written for one primary key,
// oldest first.
type Chain []VersionedTuple

// visibleVersion returns the single version visible to the snapshot.
// Versions are scanned newest-first so the latest visible one wins.
func (c Chain) visibleVersion(snap Snapshot) (VersionedTuple, bool) {
	for i := len(c) - 1; i >= 0; i-- {
		if snap.Visible(c[i].CreatedBy, c[i].DeletedBy) {
			return c[i], true
		}
	}
	return VersionedTuple{}, false
}

// --------------------------------------------------------------------------
// Chain serialization
// --------------------------------------------------------------------------

// chainFormatVersion guards the on-disk layout: a version byte, a tuple
// count, then per tuple the two transaction ids and a length-prefixed JSON
// column image.
const chainFormatVersion = 1

func encodeChain(c Chain) ([]byte, error) {
	buf := make([]byte, 0, 64*len(c)+5)
	buf = append(buf, chainFormatVersion)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(c)))
	buf = append(buf, u32[:]...)

	var u64 [8]byte
	for _, t := range c {
		binary.BigEndian.PutUint64(u64[:], uint64(t.CreatedBy))
		buf = append(buf, u64[:]...)
		binary.BigEndian.PutUint64(u64[:], uint64(t.DeletedBy))
		buf = append(buf, u64[:]...)

		data, err := json.Marshal(t.Data)
		if err != nil {
			return nil, fmt.Errorf("mvcc: encode tuple: %w", err)
		}
		binary.BigEndian.PutUint32(u32[:], uint32(len(data)))
		buf = append(buf, u32[:]...)
		buf = append(buf, data...)
	}
	return buf, nil
}

func decodeChain(b []byte) (Chain, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("%w: chain too short", ErrCorrupt)
	}
	if b[0] != chainFormatVersion {
		return nil, fmt.Errorf("%w: unknown chain format %d", ErrCorrupt, b[0])
	}
	count := binary.BigEndian.Uint32(b[1:5])
	rest := b[5:]

	chain := make(Chain, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 20 {
			return nil, fmt.Errorf("%w: truncated tuple %d", ErrCorrupt, i)
		}
		t := VersionedTuple{
			CreatedBy: txn.ID(binary.BigEndian.Uint64(rest[0:8])),
			DeletedBy: txn.ID(binary.BigEndian.Uint64(rest[8:16])),
		}
		dataLen := binary.BigEndian.Uint32(rest[16:20])
		rest = rest[20:]
		if uint32(len(rest)) < dataLen {
			return nil, fmt.Errorf("%w: truncated tuple data %d", ErrCorrupt, i)
		}
		if err := json.Unmarshal(rest[:dataLen], &t.Data); err != nil {
			return nil, fmt.Errorf("%w: tuple %d: %v", ErrCorrupt, i, err)
		}
		rest = rest[dataLen:]
		chain = append(chain, t)
	}
	return chain, nil
}
