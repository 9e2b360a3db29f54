package janitor

import "sync"

// inflightRegistry tracks issues with a remediation attempt running in this
// process. The persisted compare-and-swap guards across processes.
type inflightRegistry struct {
	mu  sync.Mutex
	ids map[uint64]struct{}
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{ids: make(map[uint64]struct{})}
}

func (r *inflightRegistry) tryAcquire(issueID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.ids[issueID]; busy {
		return false
	}
	r.ids[issueID] = struct{}{}
	return true
}

func (r *inflightRegistry) release(issueID uint64) {
	r.mu.Lock()
	delete(r.ids, issueID)
	r.mu.Unlock()
}

func (r *inflightRegistry) has(issueID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.ids[issueID]
	return busy
}
