package txn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/myuser/xctstore/internal/thread"
)

// IsolationLevel is the externally defined isolation enumeration. The lock
// core only ever runs serializable; the others exist because callers pass
// them through unchanged.
type IsolationLevel int

const (
	DirtyRead IsolationLevel = iota
	Snapshot
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case DirtyRead:
		return "dirty-read"
	case Snapshot:
		return "snapshot"
	case Serializable:
		return "serializable"
	default:
		return fmt.Sprintf("isolation(%d)", int(l))
	}
}

type State int

const (
	StateActive  State = 0
	StateAborted State = 1
)

var (
	ErrAlreadyActive = errors.New("transaction already active on this context")
	ErrNotActive     = errors.New("no active transaction on this context")
	ErrStopped       = errors.New("transaction manager stopped")
)

// Transaction is one logical scope on one worker context.
type Transaction struct {
	ID        string
	Isolation IsolationLevel
	State     State
	StartTime time.Time
}

// Manager tracks the transaction scope per worker context. Begin/Abort
// bracket record access but perform no locking themselves; the procedure
// acquires and releases record locks directly in between.
type Manager struct {
	mu      sync.RWMutex
	active  map[int]*Transaction // context id -> scope
	stopped bool
}

func NewManager() *Manager {
	return &Manager{active: make(map[int]*Transaction)}
}

// Begin opens a scope on the calling context at the given isolation level.
func (m *Manager) Begin(ctx *thread.Context, iso IsolationLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if _, ok := m.active[ctx.ID()]; ok {
		return ErrAlreadyActive
	}
	m.active[ctx.ID()] = &Transaction{
		ID:        uuid.NewString(),
		Isolation: iso,
		State:     StateActive,
		StartTime: time.Now(),
	}
	return nil
}

// Abort discards the context's scope without committing. The caller must
// already have released every lock it acquired inside the scope.
func (m *Manager) Abort(ctx *thread.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[ctx.ID()]
	if !ok {
		return ErrNotActive
	}
	t.State = StateAborted
	delete(m.active, ctx.ID())
	return nil
}

// Current returns the context's open transaction, if any.
func (m *Manager) Current(ctx *thread.Context) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.active[ctx.ID()]
	return t, ok
}

// Stop rejects further Begins. Outstanding scopes must still be aborted by
// their owners.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// ActiveCount reports open scopes, for shutdown leak checks.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}
