package jobs

import (
	"sync"
)

// rendezvous is the per-job meeting point between a dispatcher waiting for an
// outcome and whoever reports it. Only the first resolution counts.
type rendezvous struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newRendezvous() *rendezvous {
	return &rendezvous{done: make(chan struct{})}
}

func (r *rendezvous) resolve(err error) bool {
	won := false
	r.once.Do(func() {
		r.err = err
		close(r.done)
		won = true
	})
	return won
}

// result blocks until the rendezvous is resolved.
func (r *rendezvous) result() error {
	<-r.done
	return r.err
}

type rendezvousTable struct {
	mu      sync.Mutex
	pending map[string]*rendezvous
}

func newRendezvousTable() *rendezvousTable {
	return &rendezvousTable{pending: map[string]*rendezvous{}}
}

func (t *rendezvousTable) open(jobID string) *rendezvous {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.pending[jobID]; ok {
		existing.resolve(ErrInterrupted)
	}
	rv := newRendezvous()
	t.pending[jobID] = rv
	return rv
}

// resolve reports an outcome for jobID. It returns false when nothing is
// pending for jobID or the outcome was already decided.
func (t *rendezvousTable) resolve(jobID string, err error) bool {
	t.mu.Lock()
	rv, ok := t.pending[jobID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return rv.resolve(err)
}

func (t *rendezvousTable) has(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[jobID]
	return ok
}

// close removes rv if it is still the registered rendezvous for jobID.
func (t *rendezvousTable) close(jobID string, rv *rendezvous) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.pending[jobID]; ok && current == rv {
		delete(t.pending, jobID)
	}
}

func (t *rendezvousTable) rejectAll(err error) int {
	t.mu.Lock()
	pending := make([]*rendezvous, 0, len(t.pending))
	for _, rv := range t.pending {
		pending = append(pending, rv)
	}
	t.mu.Unlock()

	rejected := 0
	for _, rv := range pending {
		if rv.resolve(err) {
			rejected++
		}
	}
	return rejected
}
