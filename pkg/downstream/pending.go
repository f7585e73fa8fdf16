package downstream

import (
	"sync"
	"time"
)

type outcome struct {
	resp *Response
	err  error
}

// pendingRequest is an in-flight request awaiting its response. complete may
// be called from the reader, the sweep, teardown or the caller; only the first
// call delivers.
type pendingRequest struct {
	id      string
	method  string
	sentAt  time.Time
	timeout time.Duration

	done chan outcome
	once sync.Once
}

func newPendingRequest(id, method string, timeout time.Duration, now time.Time) *pendingRequest {
	return &pendingRequest{
		id:      id,
		method:  method,
		sentAt:  now,
		timeout: timeout,
		done:    make(chan outcome, 1),
	}
}

func (p *pendingRequest) complete(o outcome) bool {
	delivered := false
	p.once.Do(func() {
		p.done <- o
		delivered = true
	})
	return delivered
}

func (p *pendingRequest) expired(now time.Time) bool {
	return now.Sub(p.sentAt) >= p.timeout
}

// pendingTable maps correlation ids to in-flight requests. Once closed it
// rejects new entries so nothing registered after teardown can leak.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
	closed  bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingRequest)}
}

func (t *pendingTable) add(p *pendingRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.entries[p.id] = p
	return true
}

func (t *pendingTable) take(id string) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return p, ok
}

// expire removes and returns every entry whose deadline has passed.
func (t *pendingTable) expire(now time.Time) []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*pendingRequest
	for id, p := range t.entries {
		if p.expired(now) {
			delete(t.entries, id)
			out = append(out, p)
		}
	}
	return out
}

func (t *pendingTable) closeAll() []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	out := make([]*pendingRequest, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, p)
	}
	clear(t.entries)
	return out
}
