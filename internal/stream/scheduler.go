package stream

import (
	"container/heap"
	"sync"
	"time"

	"chunkstream.dev/internal/chunk"
)

type requestKind uint8

const (
	reqLoad requestKind = iota + 1
	reqSave
)

// ioRequest is one unit of background store work. Priority is fixed at
// enqueue time and deliberately not re-evaluated afterwards: a chunk that
// stops mattering while queued is still serviced once dequeued.
type ioRequest struct {
	kind        requestKind
	coord       chunk.Coord
	payload     chunk.Payload // save only
	writeSeq    uint64        // save only
	priority    int
	seq         uint64
	submittedAt time.Time
	onComplete  func(ok bool)
}

// ioScheduler is a thread-safe max-priority queue of ioRequests. Higher
// priority is serviced first; equal priorities drain FIFO by submission
// sequence so scheduling stays reproducible under test.
type ioScheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	heap requestHeap
	seq  uint64

	pendingLoads int
	pendingSaves int
	inFlight     int

	closed bool
}

func newIOScheduler() *ioScheduler {
	s := &ioScheduler{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// enqueue submits a request. Non-blocking; returns false once the scheduler
// has shut down.
func (s *ioScheduler) enqueue(r *ioRequest) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.seq++
	r.seq = s.seq
	heap.Push(&s.heap, r)
	switch r.kind {
	case reqLoad:
		s.pendingLoads++
	case reqSave:
		s.pendingSaves++
	}
	s.mu.Unlock()
	// Broadcast, not Signal: a goroutine blocked in wait shares the cond and
	// must not swallow the wakeup meant for a worker.
	s.cond.Broadcast()
	return true
}

// next blocks until a request is available or the scheduler closes. The
// second return is false only on shutdown. The popped request counts as in
// flight until the worker calls done.
func (s *ioScheduler) next() (*ioRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.heap) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.heap) == 0 {
		// closed and drained
		return nil, false
	}
	r := heap.Pop(&s.heap).(*ioRequest)
	switch r.kind {
	case reqLoad:
		s.pendingLoads--
	case reqSave:
		s.pendingSaves--
	}
	s.inFlight++
	return r, true
}

// done marks a popped request finished and wakes anyone in wait.
func (s *ioScheduler) done() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	s.cond.Broadcast()
}

// wait blocks until the queue is empty and no request is in flight.
func (s *ioScheduler) wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.heap) > 0 || s.inFlight > 0 {
		s.cond.Wait()
	}
}

// close stops accepting work and wakes all workers. Queued requests are
// still drained before workers exit.
func (s *ioScheduler) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *ioScheduler) pending() (loads, saves int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLoads, s.pendingSaves
}

// requestHeap orders by priority descending, then submission sequence
// ascending.
type requestHeap []*ioRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*ioRequest)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}
