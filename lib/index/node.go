package index

// --------------------------------------------------------------------------
// Node representation
// --------------------------------------------------------------------------

// NodeKind distinguishes internal from leaf nodes.
type NodeKind int

const (
	NodeInternal NodeKind = iota
	NodeLeaf
)

// noNode marks an absent arena reference (no parent, no sibling, empty tree).
const noNode = -1

// node is one page of the tree. Leaves hold a payload list per key (parallel
// to keys); internal nodes hold len(keys)+1 child arena indices. All links
// are arena indices, never live references.
type node[V any] struct {
	kind     NodeKind
	keys     []string
	vals     [][]V // leaf only
	children []int // internal only
	parent   int
	next     int // leaf sibling chain, ascending key order
}

func newNode[V any](kind NodeKind) node[V] {
	return node[V]{
		kind:   kind,
		parent: noNode,
		next:   noNode,
	}
}

// insertKeyAt inserts key at position i, shifting the tail right.
func (n *node[V]) insertKeyAt(i int, key string) {
	n.keys = append(n.keys, "")
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key
}

// insertValsAt inserts a fresh payload list at position i (leaf only).
func (n *node[V]) insertValsAt(i int, v V) {
	n.vals = append(n.vals, nil)
	copy(n.vals[i+1:], n.vals[i:])
	n.vals[i] = []V{v}
}

// insertChildAt inserts a child reference at position i (internal only).
func (n *node[V]) insertChildAt(i int, child int) {
	n.children = append(n.children, noNode)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = child
}

// removeKeyAt removes the key and, on leaves, its payload list.
func (n *node[V]) removeKeyAt(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	if n.kind == NodeLeaf {
		n.vals = append(n.vals[:i], n.vals[i+1:]...)
	}
}
