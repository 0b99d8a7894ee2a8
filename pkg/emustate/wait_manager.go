package emustate

import (
	"sync"

	"github.com/emusync/emusync/pkg/oneshot"
)

// Waiter is a registered interest in a target state.
type Waiter struct {
	target State
	tx     *oneshot.Sender[struct{}]
}

// Target returns the state this waiter is waiting for.
func (w Waiter) Target() State {
	return w.target
}

// WaitManager multiplexes state-change notifications onto registered waiters.
//
// # Thread Safety
//
// Register, Pending and Close are safe from any goroutine. Notify must only be
// called from the engine thread; it never waits on registrants beyond a short
// critical section to swap the registration queue.
type WaitManager struct {
	inbox inbox

	listMu  sync.Mutex // held by Notify and Close only
	waiters []Waiter
	closed  bool
}

// NewWaitManager creates an empty wait manager.
func NewWaitManager() *WaitManager {
	return &WaitManager{}
}

// Register enqueues a waiter for target and returns its receiving half.
// The receiver resolves with a value when Notify reports target, or with
// oneshot.ErrDisconnected when the manager is closed first.
func (m *WaitManager) Register(target State) *oneshot.Receiver[struct{}] {
	tx, rx := oneshot.New[struct{}]()
	if !m.inbox.push(Waiter{target: target, tx: tx}) {
		tx.Close()
	}
	return rx
}

// Watch registers a waiter for target and wraps it in a Future.
func (m *WaitManager) Watch(target State) *Future {
	return newFuture(m.Register(target))
}

// Notify reports that the engine is now in state value. It first moves every
// registration queued since the last call into the waiter list, then resolves
// and removes all waiters whose target equals value. Removal does not keep the
// order of the remaining waiters. Notify returns the number of waiters resolved.
func (m *WaitManager) Notify(value State) int {
	pending := m.inbox.drain()

	m.listMu.Lock()
	defer m.listMu.Unlock()

	if m.closed {
		for _, w := range pending {
			w.tx.Close()
		}
		return 0
	}
	m.waiters = append(m.waiters, pending...)

	resolved := 0
	for i := 0; i < len(m.waiters); {
		if m.waiters[i].target != value {
			i++
			continue
		}
		w := m.waiters[i]
		last := len(m.waiters) - 1
		m.waiters[i] = m.waiters[last]
		m.waiters[last] = Waiter{}
		m.waiters = m.waiters[:last]

		w.tx.Send(struct{}{})
		resolved++
	}
	return resolved
}

// Pending returns the number of unresolved registrations, queued or listed.
func (m *WaitManager) Pending() int {
	m.listMu.Lock()
	listed := len(m.waiters)
	m.listMu.Unlock()
	return listed + m.inbox.len()
}

// Close tears the manager down. Every unresolved waiter observes
// disconnection, and later registrations are disconnected immediately.
// Close is idempotent.
func (m *WaitManager) Close() {
	pending := m.inbox.close()

	m.listMu.Lock()
	defer m.listMu.Unlock()

	for _, w := range pending {
		w.tx.Close()
	}
	for _, w := range m.waiters {
		w.tx.Close()
	}
	m.waiters = nil
	m.closed = true
}

// inbox is the unbounded multi-producer queue between Register and Notify.
type inbox struct {
	mu     sync.Mutex
	queue  []Waiter
	closed bool
}

func (q *inbox) push(w Waiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.queue = append(q.queue, w)
	return true
}

// drain takes everything queued so far.
func (q *inbox) drain() []Waiter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.queue
	q.queue = nil
	return out
}

func (q *inbox) close() []Waiter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.queue
	q.queue = nil
	q.closed = true
	return out
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
