package mvcc

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// latchTable hands out one mutex per storage key. The duplicate-key check
// and the chain write of an insert must be a single exclusive section per
// key; a map of latches keeps writers to different keys fully concurrent.
//
// Latches are retained for the life of the table; a mutex is a few words,
// and reclaiming them safely would need reference counting that this layer
// does not otherwise require.
type latchTable struct {
	latches *xsync.MapOf[string, *sync.Mutex]
}

func newLatchTable() *latchTable {
	return &latchTable{latches: xsync.NewMapOf[string, *sync.Mutex]()}
}

// lock acquires the latch for key and returns the unlock func.
func (l *latchTable) lock(key string) func() {
	mu, _ := l.latches.LoadOrCompute(key, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}
