// Package stream is the chunk streaming and caching engine: it keeps the
// working set of a much larger persistent world in memory, driven by viewer
// positions, with a priority-ordered background I/O pipeline, dirty tracking
// with auto-save, and LRU eviction under a cache capacity.
package stream

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"chunkstream.dev/internal/chunk"
	"chunkstream.dev/internal/store"
)

// Options configures a Streamer. Zero values fall back to defaults.
type Options struct {
	// Workers is the number of background I/O goroutines.
	Workers int
	// ViewDistance is the horizontal streaming radius in chunks, measured
	// euclidean on chunk centers.
	ViewDistance float64
	// VerticalBand keeps chunks within this many chunks above and below a
	// viewer loaded, independent of ViewDistance.
	VerticalBand int
	// MaxCachedChunks bounds the table; 0 disables eviction.
	MaxCachedChunks int
	// AutoSaveInterval is the dirty-flush period in seconds; 0 disables.
	AutoSaveInterval float64
	// DiffEveryTicks throttles desired-set recomputation.
	DiffEveryTicks int
	// EvictEveryTicks throttles eviction sweeps.
	EvictEveryTicks int
	// EventBuffer is the bounded event queue capacity.
	EventBuffer int

	Handlers Handlers
	Logger   *log.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (o *Options) normalize() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.ViewDistance <= 0 {
		o.ViewDistance = 8
	}
	if o.VerticalBand < 0 {
		o.VerticalBand = 0
	}
	if o.MaxCachedChunks < 0 {
		o.MaxCachedChunks = 0
	}
	if o.AutoSaveInterval < 0 {
		o.AutoSaveInterval = 0
	}
	if o.DiffEveryTicks <= 0 {
		o.DiffEveryTicks = 4
	}
	if o.EvictEveryTicks <= 0 {
		o.EvictEveryTicks = 20
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 4096
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Streamer owns the chunk table, the view registry and the I/O pipeline.
// All public mutators are non-blocking apart from SaveAllDirty(true),
// UnloadAll and Close, which flush.
type Streamer struct {
	store store.Store
	log   *log.Logger
	now   func() time.Time

	table *chunkTable
	views *viewRegistry
	sched *ioScheduler

	wg     sync.WaitGroup
	closed atomic.Bool

	events   chan Event
	handlers Handlers
	stats    statCounters

	// controller-tick state; touched only by the goroutine driving Tick.
	tickIndex     uint64
	autoSaveTimer float64

	// settings adjustable at runtime, guarded by setMu.
	setMu            sync.Mutex
	viewDistance     float64
	verticalBand     int
	maxCachedChunks  int
	autoSaveInterval float64
	diffEveryTicks   int
	evictEveryTicks  int
}

// New builds a Streamer over the given store and starts its worker pool.
// The store must be non-nil; failing that is a configuration defect, not an
// operating condition.
func New(st store.Store, opts Options) (*Streamer, error) {
	if st == nil {
		return nil, fmt.Errorf("stream: nil store")
	}
	opts.normalize()

	s := &Streamer{
		store:            st,
		log:              opts.Logger,
		now:              opts.Now,
		table:            newChunkTable(opts.Now),
		views:            newViewRegistry(),
		sched:            newIOScheduler(),
		events:           make(chan Event, opts.EventBuffer),
		handlers:         opts.Handlers,
		viewDistance:     opts.ViewDistance,
		verticalBand:     opts.VerticalBand,
		maxCachedChunks:  opts.MaxCachedChunks,
		autoSaveInterval: opts.AutoSaveInterval,
		diffEveryTicks:   opts.DiffEveryTicks,
		evictEveryTicks:  opts.EvictEveryTicks,
	}

	s.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go s.worker()
	}
	s.log.Printf("streamer up: workers=%d view_distance=%.1f max_cached=%d", opts.Workers, opts.ViewDistance, opts.MaxCachedChunks)
	return s, nil
}

// Close flushes every dirty chunk to the store, stops the worker pool and
// waits for it. Safe to call once; the streamer is unusable afterwards.
func (s *Streamer) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Flush before stopping: shutdown trades latency for durability.
	s.flushDirty(true)
	s.sched.close()
	s.wg.Wait()
	s.DrainEvents()
	s.log.Printf("streamer down: flushed and joined")
	return nil
}

// SetView registers or moves a viewer. Non-blocking.
func (s *Streamer) SetView(viewerID string, p Pos) {
	s.views.set(viewerID, p)
}

// RemoveView drops a viewer; other viewers' desired chunks are unaffected.
func (s *Streamer) RemoveView(viewerID string) {
	s.views.remove(viewerID)
}

func (s *Streamer) SetViewDistance(d float64) {
	s.setMu.Lock()
	if d > 0 {
		s.viewDistance = d
	}
	s.setMu.Unlock()
}

func (s *Streamer) SetAutoSave(enabled bool, intervalSeconds float64) {
	s.setMu.Lock()
	if !enabled {
		s.autoSaveInterval = 0
	} else if intervalSeconds > 0 {
		s.autoSaveInterval = intervalSeconds
	}
	s.setMu.Unlock()
}

func (s *Streamer) SetMaxCachedChunks(n int) {
	s.setMu.Lock()
	if n >= 0 {
		s.maxCachedChunks = n
	}
	s.setMu.Unlock()
}

// RequestLoad queues a background load. Idempotent: a coordinate that is
// already tracked (queued, loading, loaded, dirty or saving) is left alone
// and false is returned. The state check and the Queued transition share one
// lock acquisition, so concurrent requests enqueue exactly once.
func (s *Streamer) RequestLoad(c chunk.Coord, priority int, onComplete func(ok bool)) bool {
	if !s.table.beginLoad(c) {
		return false
	}
	ok := s.sched.enqueue(&ioRequest{
		kind:        reqLoad,
		coord:       c,
		priority:    priority,
		submittedAt: s.now(),
		onComplete:  onComplete,
	})
	if !ok {
		s.table.abortLoad(c)
	}
	return ok
}

// RequestSave installs the payload into the table synchronously, so readers
// observe the new value immediately, and queues the durable write
// separately. Callers never block on the store.
func (s *Streamer) RequestSave(c chunk.Coord, p chunk.Payload, onComplete func(ok bool)) {
	s.table.installWrite(c, p.Clone())
	s.enqueueSave(c, onComplete)
}

// MarkDirty flags a loaded chunk as diverged from the store; the next
// auto-save pass will persist it. Returns false if the chunk is not loaded.
func (s *Streamer) MarkDirty(c chunk.Coord) bool {
	return s.table.markDirty(c)
}

// enqueueSave re-reads the freshest payload from the table and queues it.
func (s *Streamer) enqueueSave(c chunk.Coord, onComplete func(ok bool)) {
	p, seq, ok := s.table.beginSave(c)
	if !ok {
		if onComplete != nil {
			onComplete(true)
		}
		return
	}
	accepted := s.sched.enqueue(&ioRequest{
		kind:        reqSave,
		coord:       c,
		payload:     p,
		writeSeq:    seq,
		priority:    s.loadPriority(c),
		submittedAt: s.now(),
		onComplete:  onComplete,
	})
	if !accepted {
		// Shut down; leave the chunk dirty.
		s.table.saveDone(c, seq, false)
		if onComplete != nil {
			onComplete(false)
		}
	}
}

// Unload removes a chunk from the cache. A dirty chunk is persisted
// synchronously first when saveIfDirty is set; unloading must not discard
// durability. Unloading an absent coordinate is a no-op.
func (s *Streamer) Unload(c chunk.Coord, saveIfDirty bool) error {
	if saveIfDirty && s.table.isDirty(c) {
		p, seq, ok := s.table.beginSave(c)
		if ok {
			start := s.now()
			err := s.store.SaveChunk(c, p)
			s.stats.observeSave(s.now().Sub(start))
			s.table.saveDone(c, seq, err == nil)
			s.emit(Event{Kind: EventChunkSaved, Coord: c, OK: err == nil})
			if err != nil {
				// Keep the chunk resident and dirty rather than lose data.
				s.emit(Event{Kind: EventError, Coord: c, Err: fmt.Sprintf("unload save %v: %v", c, err)})
				return fmt.Errorf("unload %v: %w", c, err)
			}
		}
	}
	if s.table.removeForUnload(c) {
		s.emit(Event{Kind: EventChunkUnloaded, Coord: c})
	}
	return nil
}

// UnloadAll empties the cache, saving dirty chunks first when saveFirst is
// set. Blocking.
func (s *Streamer) UnloadAll(saveFirst bool) error {
	var firstErr error
	for _, c := range s.table.resident() {
		if err := s.Unload(c, saveFirst); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SaveAllDirty queues a save for every dirty chunk. With blocking set it
// waits until the I/O queue has fully drained.
func (s *Streamer) SaveAllDirty(blocking bool) {
	s.flushDirty(blocking)
}

func (s *Streamer) flushDirty(blocking bool) {
	for _, c := range s.table.dirtySnapshot() {
		s.enqueueSave(c, nil)
	}
	if blocking {
		s.sched.wait()
	}
}

// IsLoaded reports whether the chunk payload is resident (loaded, dirty or
// mid-save).
func (s *Streamer) IsLoaded(c chunk.Coord) bool {
	switch s.table.state(c) {
	case chunk.StateLoaded, chunk.StateDirty, chunk.StateSaving:
		return true
	}
	return false
}

// GetChunk returns a copy of the resident payload and refreshes its LRU
// access time.
func (s *Streamer) GetChunk(c chunk.Coord) (chunk.Payload, bool) {
	return s.table.get(c)
}

func (s *Streamer) GetState(c chunk.Coord) chunk.LoadState {
	return s.table.state(c)
}

// PreloadRadius queues loads for every chunk within radius (euclidean,
// chunks) of center in the XZ plane, walking rings outward so closer chunks
// enqueue first and carry higher priority.
func (s *Streamer) PreloadRadius(center chunk.Coord, radius int) {
	if radius < 0 {
		return
	}
	s.setMu.Lock()
	band := s.verticalBand
	s.setMu.Unlock()
	for r := 0; r <= radius; r++ {
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				onRing := dx == -r || dx == r || dz == -r || dz == r
				if !onRing || dx*dx+dz*dz > radius*radius {
					continue
				}
				for dy := -band; dy <= band; dy++ {
					c := center.Add(dx, dy, dz)
					s.RequestLoad(c, priorityBase-center.HorizDistSq(c), nil)
				}
			}
		}
	}
}

// Tick advances the controller: timers every call, desired-set diff and
// eviction on their own cadences, then event delivery. Drive it from one
// goroutine.
func (s *Streamer) Tick(dt float64) {
	s.tickIndex++
	s.autoSaveTimer += dt

	s.setMu.Lock()
	diffEvery := s.diffEveryTicks
	evictEvery := s.evictEveryTicks
	interval := s.autoSaveInterval
	maxCached := s.maxCachedChunks
	s.setMu.Unlock()

	if s.tickIndex%uint64(diffEvery) == 0 {
		s.diffDesired()
	}
	if interval > 0 && s.autoSaveTimer >= interval {
		s.autoSaveTimer = 0
		s.SaveAllDirty(false)
	}
	if maxCached > 0 && s.tickIndex%uint64(evictEvery) == 0 {
		s.EvictToCapacity(maxCached)
	}
	s.DrainEvents()
}

// diffDesired reconciles the table against the union of viewer radii:
// desired-but-absent coordinates get loads prioritized by distance,
// resident-but-undesired ones are unloaded (saving dirty payloads).
func (s *Streamer) diffDesired() {
	s.setMu.Lock()
	dist := s.viewDistance
	band := s.verticalBand
	s.setMu.Unlock()

	desired := s.views.desired(dist, band)

	for c := range desired {
		if s.table.state(c) == chunk.StateUnloaded {
			s.RequestLoad(c, s.loadPriority(c), nil)
		}
	}
	for _, c := range s.table.resident() {
		if _, want := desired[c]; want {
			continue
		}
		switch s.table.state(c) {
		case chunk.StateLoaded, chunk.StateDirty:
			if err := s.Unload(c, true); err != nil {
				s.log.Printf("unload %v: %v", c, err)
			}
		}
		// Queued/Loading/Saving entries are in flight; a later diff
		// catches them once they settle.
	}
}

// EvictToCapacity unloads least-recently-used chunks until at most maxChunks
// remain, persisting dirty victims first. Chunks inside a viewer's radius
// are not exempt; the next diff simply re-requests them. Known limitation
// when view distance times viewer count exceeds capacity.
func (s *Streamer) EvictToCapacity(maxChunks int) {
	if maxChunks <= 0 {
		return
	}
	resident, _ := s.table.counts()
	over := resident - maxChunks
	if over <= 0 {
		return
	}
	for _, c := range s.table.lruVictims(over) {
		if err := s.Unload(c, true); err != nil {
			s.log.Printf("evict %v: %v", c, err)
		}
	}
}

// GetStatistics snapshots current activity. Loaded counts chunks whose
// payload is resident; chunks still queued or loading show up under
// PendingLoads instead.
func (s *Streamer) GetStatistics() Statistics {
	resident, dirty := s.table.counts()
	loads, saves := s.sched.pending()
	avgLoad, avgSave, dropped := s.stats.snapshot()
	return Statistics{
		Loaded:        resident,
		Dirty:         dirty,
		PendingLoads:  loads,
		PendingSaves:  saves,
		AvgLoadMs:     avgLoad,
		AvgSaveMs:     avgSave,
		EventsDropped: dropped,
	}
}

// priorityBase anchors distance-derived priorities; closer chunks score
// higher and ties drain FIFO in the scheduler.
const priorityBase = 1 << 16

// loadPriority rates a coordinate by its distance to the nearest viewer at
// this moment. Priorities are not revisited after enqueue.
func (s *Streamer) loadPriority(c chunk.Coord) int {
	d2, ok := s.views.nearestDistSq(c)
	if !ok {
		return 0
	}
	return priorityBase - d2
}
