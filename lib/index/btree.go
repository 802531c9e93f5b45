package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrDuplicateKey is returned when an insert would violate a unique
	// constraint. The index is left unchanged.
	ErrDuplicateKey = errors.New("index: duplicate key")

	// ErrCorrupt is returned when a node holds an arena reference that does
	// not resolve. This denotes structural corruption and must be treated as
	// fatal by the caller, never retried.
	ErrCorrupt = errors.New("index: corrupt node reference")

	// ErrConfig is returned for invalid index configuration.
	ErrConfig = errors.New("index: invalid configuration")
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

const (
	defaultOrder      = 100
	defaultFillFactor = 90
	minOrder          = 3
)

// Config describes one index: the columns forming its composite key, whether
// keys must be unique, the target fill factor (percent) and the tree order
// (maximum children per internal node; maxKeys = order-1).
type Config struct {
	Name       string
	Columns    []string
	Unique     bool
	FillFactor int
	Order      int
}

func (c Config) withDefaults() (Config, error) {
	if c.Order == 0 {
		c.Order = defaultOrder
	}
	if c.FillFactor == 0 {
		c.FillFactor = defaultFillFactor
	}
	if c.Order < minOrder {
		return c, fmt.Errorf("%w: order must be >= %d, got %d", ErrConfig, minOrder, c.Order)
	}
	if c.FillFactor < 1 || c.FillFactor > 100 {
		return c, fmt.Errorf("%w: fill factor must be between 1 and 100, got %d", ErrConfig, c.FillFactor)
	}
	return c, nil
}

// --------------------------------------------------------------------------
// Tree
// --------------------------------------------------------------------------

// Entry is one (key, payload) pair produced by a range scan. Keys with
// multiple payloads yield one Entry per payload, in payload order.
type Entry[V any] struct {
	Key   string
	Value V
}

// Stats is a point-in-time summary of the tree shape.
type Stats struct {
	TotalNodes    int
	LeafNodes     int
	Height        int
	TotalEntries  uint64
	AvgFillFactor float64
	TargetFillPct int
}

// BTree is an arena-backed balanced tree. The zero value is not usable;
// construct with New.
type BTree[V any] struct {
	cfg     Config
	maxKeys int
	minKeys int

	mu      sync.RWMutex
	nodes   []node[V]
	root    int
	entries uint64
}

// New creates an empty tree. The root is allocated lazily on first insert.
func New[V any](cfg Config) (*BTree[V], error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &BTree[V]{
		cfg:     cfg,
		maxKeys: cfg.Order - 1,
		minKeys: (cfg.Order - 1) / 2,
		root:    noNode,
	}, nil
}

// Unique reports whether the index enforces key uniqueness.
func (t *BTree[V]) Unique() bool { return t.cfg.Unique }

// --------------------------------------------------------------------------
// Write operations
// --------------------------------------------------------------------------

// Insert adds a payload under key. On a non-unique index a repeated key
// appends to that key's payload list; on a unique index it fails with
// ErrDuplicateKey and leaves the tree unchanged.
//
// Thread-safety: takes the arena write lock.
func (t *BTree[V]) Insert(key string, v V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write(key, v, false)
}

// Put upserts a single payload under key: an existing payload list for the
// key is replaced wholesale. This is the key/value surface used by the
// storage backends; uniqueness is not checked.
//
// Thread-safety: takes the arena write lock.
func (t *BTree[V]) Put(key string, v V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write(key, v, true)
}

func (t *BTree[V]) write(key string, v V, upsert bool) error {
	if t.root == noNode {
		leaf := newNode[V](NodeLeaf)
		leaf.keys = []string{key}
		leaf.vals = [][]V{{v}}
		t.nodes = append(t.nodes, leaf)
		t.root = len(t.nodes) - 1
		t.entries++
		return nil
	}

	p, err := t.insertRec(t.root, key, v, upsert)
	if err != nil {
		return err
	}
	if p.split {
		// Root overflow: a new root holds one key and two children, and
		// the tree grows in height by exactly one.
		oldRoot := t.root
		root := newNode[V](NodeInternal)
		root.keys = []string{p.key}
		root.children = []int{oldRoot, p.right}
		t.nodes = append(t.nodes, root)
		rootIdx := len(t.nodes) - 1
		t.nodes[oldRoot].parent = rootIdx
		t.nodes[p.right].parent = rootIdx
		t.root = rootIdx
	}
	return nil
}

// promotion carries a separator key pending insertion into the parent after
// a child split.
type promotion struct {
	key   string
	right int
	split bool
}

func (t *BTree[V]) insertRec(idx int, key string, v V, upsert bool) (promotion, error) {
	if idx < 0 || idx >= len(t.nodes) {
		return promotion{}, fmt.Errorf("%w: node %d (arena size %d)", ErrCorrupt, idx, len(t.nodes))
	}
	if t.nodes[idx].kind == NodeLeaf {
		return t.insertLeaf(idx, key, v, upsert)
	}

	child := t.childFor(idx, key)
	if child < 0 || child >= len(t.nodes) {
		return promotion{}, fmt.Errorf("%w: node %d (arena size %d)", ErrCorrupt, child, len(t.nodes))
	}
	p, err := t.insertRec(child, key, v, upsert)
	if err != nil || !p.split {
		return promotion{}, err
	}
	return t.insertInternal(idx, p)
}

func (t *BTree[V]) insertLeaf(idx int, key string, v V, upsert bool) (promotion, error) {
	n := &t.nodes[idx]
	pos := sort.SearchStrings(n.keys, key)

	if pos < len(n.keys) && n.keys[pos] == key {
		if upsert {
			n.vals[pos] = []V{v}
			return promotion{}, nil
		}
		if t.cfg.Unique {
			return promotion{}, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}
		n.vals[pos] = append(n.vals[pos], v)
		t.entries++
		return promotion{}, nil
	}

	n.insertKeyAt(pos, key)
	n.insertValsAt(pos, v)
	t.entries++

	if len(n.keys) > t.maxKeys {
		return t.splitLeaf(idx), nil
	}
	return promotion{}, nil
}

// splitLeaf divides an overflowing leaf at its midpoint. The upper half,
// midpoint included, moves to a new sibling; the midpoint key is copied to
// the parent as separator (classic B+-tree leaf split).
func (t *BTree[V]) splitLeaf(idx int) promotion {
	mid := len(t.nodes[idx].keys) / 2
	sep := t.nodes[idx].keys[mid]

	sib := newNode[V](NodeLeaf)
	sib.keys = append([]string(nil), t.nodes[idx].keys[mid:]...)
	sib.vals = make([][]V, len(t.nodes[idx].vals[mid:]))
	copy(sib.vals, t.nodes[idx].vals[mid:])
	sib.parent = t.nodes[idx].parent
	sib.next = t.nodes[idx].next

	t.nodes = append(t.nodes, sib)
	sibIdx := len(t.nodes) - 1

	n := &t.nodes[idx]
	n.keys = n.keys[:mid]
	n.vals = n.vals[:mid]
	n.next = sibIdx

	return promotion{key: sep, right: sibIdx, split: true}
}

func (t *BTree[V]) insertInternal(idx int, p promotion) (promotion, error) {
	n := &t.nodes[idx]
	pos := sort.SearchStrings(n.keys, p.key)
	n.insertKeyAt(pos, p.key)
	n.insertChildAt(pos+1, p.right)
	t.nodes[p.right].parent = idx

	if len(t.nodes[idx].keys) > t.maxKeys {
		return t.splitInternal(idx), nil
	}
	return promotion{}, nil
}

// splitInternal divides an overflowing internal node. Unlike a leaf split
// the midpoint key is removed from the lower half and promoted, not copied.
func (t *BTree[V]) splitInternal(idx int) promotion {
	mid := len(t.nodes[idx].keys) / 2
	sep := t.nodes[idx].keys[mid]

	sib := newNode[V](NodeInternal)
	sib.keys = append([]string(nil), t.nodes[idx].keys[mid+1:]...)
	sib.children = append([]int(nil), t.nodes[idx].children[mid+1:]...)
	sib.parent = t.nodes[idx].parent

	t.nodes = append(t.nodes, sib)
	sibIdx := len(t.nodes) - 1

	n := &t.nodes[idx]
	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]

	for _, c := range t.nodes[sibIdx].children {
		if c >= 0 && c < len(t.nodes) {
			t.nodes[c].parent = sibIdx
		}
	}

	return promotion{key: sep, right: sibIdx, split: true}
}

// Delete removes the first payload under key matched by eq. When the key's
// payload list empties, the key is removed from its leaf. Underflowed nodes
// are not rebalanced; compaction is a maintenance concern.
//
// Thread-safety: takes the arena write lock.
func (t *BTree[V]) Delete(key string, eq func(V) bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	leaf, err := t.findLeaf(key)
	if err != nil || leaf == noNode {
		return false, err
	}
	n := &t.nodes[leaf]
	pos := sort.SearchStrings(n.keys, key)
	if pos >= len(n.keys) || n.keys[pos] != key {
		return false, nil
	}
	for i, v := range n.vals[pos] {
		if eq(v) {
			n.vals[pos] = append(n.vals[pos][:i], n.vals[pos][i+1:]...)
			t.entries--
			if len(n.vals[pos]) == 0 {
				n.removeKeyAt(pos)
			}
			return true, nil
		}
	}
	return false, nil
}

// DeleteKey removes key and its whole payload list.
//
// Thread-safety: takes the arena write lock.
func (t *BTree[V]) DeleteKey(key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	leaf, err := t.findLeaf(key)
	if err != nil || leaf == noNode {
		return false, err
	}
	n := &t.nodes[leaf]
	pos := sort.SearchStrings(n.keys, key)
	if pos >= len(n.keys) || n.keys[pos] != key {
		return false, nil
	}
	t.entries -= uint64(len(n.vals[pos]))
	n.removeKeyAt(pos)
	return true, nil
}

// --------------------------------------------------------------------------
// Read operations
// --------------------------------------------------------------------------

// Search returns the payload list stored under key, or an empty list if the
// key is absent.
//
// Thread-safety: takes the arena read lock; safe for concurrent use.
func (t *BTree[V]) Search(key string) ([]V, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaf, err := t.findLeaf(key)
	if err != nil || leaf == noNode {
		return nil, err
	}
	n := &t.nodes[leaf]
	pos := sort.SearchStrings(n.keys, key)
	if pos >= len(n.keys) || n.keys[pos] != key {
		return nil, nil
	}
	return append([]V(nil), n.vals[pos]...), nil
}

// Get returns the first payload under key. Convenience for the key/value
// surface where Put guarantees a single payload per key.
func (t *BTree[V]) Get(key string) (V, bool, error) {
	var zero V
	vals, err := t.Search(key)
	if err != nil || len(vals) == 0 {
		return zero, false, err
	}
	return vals[0], true, nil
}

// RangeSearch returns all entries with start <= key <= end, both bounds
// inclusive, in ascending key order. The scan descends once to the leaf
// containing start and then follows the leaf sibling chain, so it is
// complete across leaf boundaries.
//
// Thread-safety: takes the arena read lock; safe for concurrent use.
func (t *BTree[V]) RangeSearch(start, end string) ([]Entry[V], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaf, err := t.findLeaf(start)
	if err != nil || leaf == noNode {
		return nil, err
	}

	var out []Entry[V]
	for leaf != noNode {
		if leaf < 0 || leaf >= len(t.nodes) {
			return nil, fmt.Errorf("%w: node %d (arena size %d)", ErrCorrupt, leaf, len(t.nodes))
		}
		n := &t.nodes[leaf]
		for i, k := range n.keys {
			if k < start {
				continue
			}
			if k > end {
				return out, nil
			}
			for _, v := range n.vals[i] {
				out = append(out, Entry[V]{Key: k, Value: v})
			}
		}
		leaf = n.next
	}
	return out, nil
}

// Ascend walks every entry in ascending key order, invoking fn with each
// key and its full payload list until fn returns false.
//
// Thread-safety: takes the arena read lock for the whole walk; fn must not
// call back into the tree.
func (t *BTree[V]) Ascend(fn func(key string, vals []V) bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == noNode {
		return nil
	}

	// Leftmost leaf.
	idx := t.root
	for {
		if idx < 0 || idx >= len(t.nodes) {
			return fmt.Errorf("%w: node %d (arena size %d)", ErrCorrupt, idx, len(t.nodes))
		}
		if t.nodes[idx].kind == NodeLeaf {
			break
		}
		if len(t.nodes[idx].children) == 0 {
			return fmt.Errorf("%w: internal node %d has no children", ErrCorrupt, idx)
		}
		idx = t.nodes[idx].children[0]
	}

	for idx != noNode {
		if idx < 0 || idx >= len(t.nodes) {
			return fmt.Errorf("%w: node %d (arena size %d)", ErrCorrupt, idx, len(t.nodes))
		}
		n := &t.nodes[idx]
		for i, k := range n.keys {
			if !fn(k, n.vals[i]) {
				return nil
			}
		}
		idx = n.next
	}
	return nil
}

// --------------------------------------------------------------------------
// Descent helpers
// --------------------------------------------------------------------------

// childFor picks the child to descend into: the first key strictly greater
// than the probe determines the child index; absent such a key, the last
// child is chosen. Keys equal to a separator route right, matching the leaf
// split which keeps the separator in the new sibling.
func (t *BTree[V]) childFor(idx int, key string) int {
	n := &t.nodes[idx]
	i := sort.Search(len(n.keys), func(i int) bool { return n.keys[i] > key })
	if i >= len(n.children) {
		i = len(n.children) - 1
	}
	return n.children[i]
}

// findLeaf descends to the leaf owning key. Returns noNode on an empty tree.
// Callers must hold at least the read lock.
func (t *BTree[V]) findLeaf(key string) (int, error) {
	idx := t.root
	if idx == noNode {
		return noNode, nil
	}
	for {
		if idx < 0 || idx >= len(t.nodes) {
			return noNode, fmt.Errorf("%w: node %d (arena size %d)", ErrCorrupt, idx, len(t.nodes))
		}
		if t.nodes[idx].kind == NodeLeaf {
			return idx, nil
		}
		if len(t.nodes[idx].children) == 0 {
			return noNode, fmt.Errorf("%w: internal node %d has no children", ErrCorrupt, idx)
		}
		idx = t.childFor(idx, key)
	}
}

// --------------------------------------------------------------------------
// Statistics and maintenance
// --------------------------------------------------------------------------

// Stats computes a point-in-time summary of the tree shape.
//
// Thread-safety: takes the arena read lock; safe for concurrent use.
func (t *BTree[V]) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{
		TotalNodes:    len(t.nodes),
		TotalEntries:  t.entries,
		TargetFillPct: t.cfg.FillFactor,
	}

	var fillSum float64
	for i := range t.nodes {
		if t.nodes[i].kind == NodeLeaf {
			s.LeafNodes++
			fillSum += float64(len(t.nodes[i].keys)) / float64(t.maxKeys)
		}
	}
	if s.LeafNodes > 0 {
		s.AvgFillFactor = fillSum / float64(s.LeafNodes)
	}

	for idx := t.root; idx != noNode && idx < len(t.nodes); {
		s.Height++
		if t.nodes[idx].kind == NodeLeaf || len(t.nodes[idx].children) == 0 {
			break
		}
		idx = t.nodes[idx].children[0]
	}
	return s
}

// Maintain refreshes statistics and returns them. Deletion compacts node
// contents but never rebalances across siblings, so maintenance is where a
// caller decides whether a low-fill tree is worth rebuilding.
func (t *BTree[V]) Maintain() Stats {
	return t.Stats()
}
