package stream

import (
	"sort"
	"sync"
	"time"

	"chunkstream.dev/internal/chunk"
)

// tableEntry is the cached record for one coordinate. All fields are guarded
// by chunkTable.mu.
type tableEntry struct {
	payload  chunk.Payload
	state    chunk.LoadState
	lastUsed time.Time

	// writeSeq increments on every in-memory write. A save captures the
	// value it is persisting; on completion the coordinate leaves the dirty
	// set only if nothing was written in the meantime.
	writeSeq uint64
}

// chunkTable is the in-memory authoritative cache: coordinate -> entry plus
// the dirty set. One lock guards all of it; the lock is never held across a
// store call.
type chunkTable struct {
	mu      sync.Mutex
	entries map[chunk.Coord]*tableEntry
	dirty   map[chunk.Coord]struct{}
	now     func() time.Time
}

func newChunkTable(now func() time.Time) *chunkTable {
	return &chunkTable{
		entries: map[chunk.Coord]*tableEntry{},
		dirty:   map[chunk.Coord]struct{}{},
		now:     now,
	}
}

// beginLoad transitions an absent coordinate to Queued. Returns false if the
// coordinate is already tracked in any state, which makes RequestLoad
// idempotent: the check and the transition happen under one lock acquisition,
// so two racing requests cannot both enqueue.
func (t *chunkTable) beginLoad(c chunk.Coord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[c]; ok {
		return false
	}
	t.entries[c] = &tableEntry{state: chunk.StateQueued, lastUsed: t.now()}
	return true
}

// abortLoad undoes beginLoad when the enqueue itself was refused.
func (t *chunkTable) abortLoad(c chunk.Coord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[c]; ok && e.state == chunk.StateQueued {
		delete(t.entries, c)
	}
}

// markLoading flips a queued coordinate to Loading when a worker picks the
// request up.
func (t *chunkTable) markLoading(c chunk.Coord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[c]; ok && e.state == chunk.StateQueued {
		e.state = chunk.StateLoading
	}
}

// installLoaded records a successful load. The entry is (re)created even if
// the coordinate was unloaded while the request sat in the queue; the next
// desired-set diff will unload it again if it is no longer wanted.
func (t *chunkTable) installLoaded(c chunk.Coord, p chunk.Payload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[c]
	if !ok {
		e = &tableEntry{}
		t.entries[c] = e
	}
	// A write that raced ahead of the load is newer than the store's copy;
	// keep it, the pending save will persist it.
	if e.state == chunk.StateDirty || e.state == chunk.StateSaving {
		e.lastUsed = t.now()
		return
	}
	e.payload = p
	e.state = chunk.StateLoaded
	e.lastUsed = t.now()
}

// loadFailed returns the coordinate to Unloaded so a later request retries.
func (t *chunkTable) loadFailed(c chunk.Coord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[c]; ok && (e.state == chunk.StateQueued || e.state == chunk.StateLoading) {
		delete(t.entries, c)
	}
}

// installWrite synchronously applies an in-memory write: the payload becomes
// visible to readers immediately and the coordinate joins the dirty set.
// Durability follows later via the save queue.
func (t *chunkTable) installWrite(c chunk.Coord, p chunk.Payload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[c]
	if !ok {
		e = &tableEntry{}
		t.entries[c] = e
	}
	e.payload = p
	if e.state != chunk.StateSaving {
		e.state = chunk.StateDirty
	}
	e.lastUsed = t.now()
	e.writeSeq++
	t.dirty[c] = struct{}{}
}

// markDirty flags an already-loaded coordinate as diverged from the store.
// Returns false when the coordinate holds no loaded payload.
func (t *chunkTable) markDirty(c chunk.Coord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[c]
	if !ok {
		return false
	}
	switch e.state {
	case chunk.StateLoaded, chunk.StateDirty, chunk.StateSaving:
	default:
		return false
	}
	if e.state == chunk.StateLoaded {
		e.state = chunk.StateDirty
	}
	e.writeSeq++
	t.dirty[c] = struct{}{}
	return true
}

// beginSave snapshots a dirty coordinate for persistence: payload copy plus
// the write sequence the save will represent. Transitions Dirty -> Saving.
// Returns ok == false when the coordinate is not dirty.
func (t *chunkTable) beginSave(c chunk.Coord) (chunk.Payload, uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[c]
	if !ok {
		return chunk.Payload{}, 0, false
	}
	if _, isDirty := t.dirty[c]; !isDirty {
		return chunk.Payload{}, 0, false
	}
	e.state = chunk.StateSaving
	return e.payload.Clone(), e.writeSeq, true
}

// saveDone applies a save result. On success the coordinate leaves the dirty
// set unless it was written again after the snapshot; on failure it stays
// dirty and the next auto-save pass retries it.
func (t *chunkTable) saveDone(c chunk.Coord, seq uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, present := t.entries[c]
	if !present {
		if ok {
			delete(t.dirty, c)
		}
		return
	}
	if ok && e.writeSeq == seq {
		delete(t.dirty, c)
		if e.state == chunk.StateSaving {
			e.state = chunk.StateLoaded
		}
		return
	}
	// Failed, or written again mid-save: still dirty.
	if e.state == chunk.StateSaving {
		e.state = chunk.StateDirty
	}
}

// get returns a copy of the payload for a loaded coordinate, refreshing its
// access time.
func (t *chunkTable) get(c chunk.Coord) (chunk.Payload, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[c]
	if !ok {
		return chunk.Payload{}, false
	}
	switch e.state {
	case chunk.StateLoaded, chunk.StateDirty, chunk.StateSaving:
		e.lastUsed = t.now()
		return e.payload.Clone(), true
	default:
		return chunk.Payload{}, false
	}
}

func (t *chunkTable) state(c chunk.Coord) chunk.LoadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[c]; ok {
		return e.state
	}
	return chunk.StateUnloaded
}

// removeForUnload drops the coordinate from the table, the dirty set, and
// with it the access record. Caller has already persisted the payload if
// durability was required. Returns false if the coordinate was absent.
func (t *chunkTable) removeForUnload(c chunk.Coord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[c]; !ok {
		return false
	}
	delete(t.entries, c)
	delete(t.dirty, c)
	return true
}

// dirtySnapshot returns the dirty coordinates in deterministic order.
func (t *chunkTable) dirtySnapshot() []chunk.Coord {
	t.mu.Lock()
	out := make([]chunk.Coord, 0, len(t.dirty))
	for c := range t.dirty {
		out = append(out, c)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return chunk.Less(out[i], out[j]) })
	return out
}

func (t *chunkTable) isDirty(c chunk.Coord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.dirty[c]
	return ok
}

// resident returns every tracked coordinate regardless of state.
func (t *chunkTable) resident() []chunk.Coord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]chunk.Coord, 0, len(t.entries))
	for c := range t.entries {
		out = append(out, c)
	}
	return out
}

// counts reports resident entries, those that actually hold a payload, and
// the dirty set size. Queued and Loading entries are in flight and excluded.
func (t *chunkTable) counts() (resident, dirty int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		switch e.state {
		case chunk.StateLoaded, chunk.StateDirty, chunk.StateSaving:
			resident++
		}
	}
	return resident, len(t.dirty)
}

// lruVictims ranks coordinates in a stable (Loaded or Dirty) state by access
// time ascending and returns the n least recently used. Queued, Loading and
// Saving entries are in flight and are skipped.
func (t *chunkTable) lruVictims(n int) []chunk.Coord {
	if n <= 0 {
		return nil
	}
	type aged struct {
		c chunk.Coord
		t time.Time
	}
	t.mu.Lock()
	cands := make([]aged, 0, len(t.entries))
	for c, e := range t.entries {
		if e.state == chunk.StateLoaded || e.state == chunk.StateDirty {
			cands = append(cands, aged{c: c, t: e.lastUsed})
		}
	}
	t.mu.Unlock()

	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].t.Equal(cands[j].t) {
			return cands[i].t.Before(cands[j].t)
		}
		return chunk.Less(cands[i].c, cands[j].c)
	})
	if n > len(cands) {
		n = len(cands)
	}
	out := make([]chunk.Coord, n)
	for i := 0; i < n; i++ {
		out[i] = cands[i].c
	}
	return out
}
