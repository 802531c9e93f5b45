package txn

import (
	"errors"
	"fmt"
	"sync"
)

// ID identifies one transaction. The zero ID is reserved and never handed
// out, so versioned tuples can use it as "no transaction".
type ID uint64

// None is the zero ID, used where no transaction applies.
const None ID = 0

// State enumerates the transaction lifecycle.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsolationLevel selects how a transaction's snapshot is evaluated.
type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota
	RepeatableRead
)

var (
	ErrNotFound  = errors.New("txn: unknown transaction")
	ErrNotActive = errors.New("txn: transaction not active")
)

// Transaction is one unit of work. Fields are immutable except state and
// commit sequence, which only the Manager mutates under its lock.
type Transaction struct {
	ID        ID
	Isolation IsolationLevel

	state     State
	beginSeq  uint64
	commitSeq uint64

	snapshot *Snapshot
}

// Snapshot returns the visibility oracle for this transaction. For
// RepeatableRead this is the snapshot taken at begin; for ReadCommitted a
// fresh snapshot is taken per call.
func (t *Transaction) Snapshot() *Snapshot {
	if t.Isolation == RepeatableRead {
		return t.snapshot
	}
	return t.snapshot.mgr.snapshotFor(t.ID)
}

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

// Manager hands out transaction ids, tracks lifecycle state and assigns
// commit sequence numbers.
type Manager struct {
	mu      sync.Mutex
	nextID  ID
	nextSeq uint64
	txns    map[ID]*Transaction
	active  map[ID]struct{}
}

// NewManager creates an empty transaction manager.
func NewManager() *Manager {
	return &Manager{
		nextID:  1,
		nextSeq: 1,
		txns:    make(map[ID]*Transaction),
		active:  make(map[ID]struct{}),
	}
}

// Begin starts a transaction and takes its snapshot.
func (m *Manager) Begin(level IsolationLevel) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &Transaction{
		ID:        m.nextID,
		Isolation: level,
		state:     StateActive,
		beginSeq:  m.nextSeq,
	}
	m.nextID++
	m.txns[t.ID] = t
	m.active[t.ID] = struct{}{}
	t.snapshot = m.snapshotLocked(t.ID)
	return t
}

// Commit marks the transaction committed and assigns its commit sequence.
// Every commit advances the sequence, so later snapshots order after it.
func (m *Manager) Commit(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txns[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if t.state != StateActive {
		return fmt.Errorf("%w: %d is %s", ErrNotActive, id, t.state)
	}
	t.commitSeq = m.nextSeq
	m.nextSeq++
	t.state = StateCommitted
	delete(m.active, id)
	return nil
}

// Abort marks the transaction aborted. Its writes stay in version chains but
// are invisible to every snapshot.
func (m *Manager) Abort(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txns[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if t.state != StateActive {
		return fmt.Errorf("%w: %d is %s", ErrNotActive, id, t.state)
	}
	t.state = StateAborted
	delete(m.active, id)
	return nil
}

// State returns the lifecycle state of a transaction.
func (m *Manager) State(id ID) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return t.state, nil
}

// ActiveCount returns the number of in-flight transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// OldestActive returns the begin watermark of the oldest in-flight
// transaction, or the current sequence when none is active. Version chain
// pruning uses this as its horizon.
func (m *Manager) OldestActive() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldest := m.nextSeq
	for id := range m.active {
		if s := m.txns[id].beginSeq; s < oldest {
			oldest = s
		}
	}
	return oldest
}

func (m *Manager) snapshotFor(self ID) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(self)
}

func (m *Manager) snapshotLocked(self ID) *Snapshot {
	active := make(map[ID]struct{}, len(m.active))
	for id := range m.active {
		active[id] = struct{}{}
	}
	return &Snapshot{
		mgr:       m,
		self:      self,
		watermark: m.nextSeq,
		active:    active,
	}
}

// --------------------------------------------------------------------------
// Snapshot
// --------------------------------------------------------------------------

// Snapshot captures the commit watermark and active set at one instant.
// It decides tuple visibility without consulting any storage state.
type Snapshot struct {
	mgr       *Manager
	self      ID
	watermark uint64
	active    map[ID]struct{}
}

// Self returns the transaction the snapshot belongs to.
func (s *Snapshot) Self() ID { return s.self }

// Visible reports whether a tuple created by created and deleted by deleted
// (None when not deleted) is visible to this snapshot.
func (s *Snapshot) Visible(created, deleted ID) bool {
	if !s.committedBefore(created) {
		return false
	}
	if deleted == None {
		return true
	}
	// A visible deletion hides the tuple.
	return !s.committedBefore(deleted)
}

// committedBefore reports whether id's effects are part of this snapshot's
// view: either the snapshot's own transaction, or a transaction that
// committed before the watermark and was not active when the snapshot was
// taken.
func (s *Snapshot) committedBefore(id ID) bool {
	if id == s.self {
		return true
	}
	if _, wasActive := s.active[id]; wasActive {
		return false
	}

	s.mgr.mu.Lock()
	t, ok := s.mgr.txns[id]
	s.mgr.mu.Unlock()
	if !ok {
		// Unknown ids come from recovered storage written before this
		// process started; recovery only replays committed work.
		return true
	}
	return t.state == StateCommitted && t.commitSeq < s.watermark
}
