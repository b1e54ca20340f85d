package stream

import (
	"testing"
	"time"

	"chunkstream.dev/internal/chunk"
)

func TestTableBeginLoadIsExclusive(t *testing.T) {
	tab := newChunkTable(time.Now)
	c := chunk.Coord{X: 1}
	if !tab.beginLoad(c) {
		t.Fatalf("first beginLoad must succeed")
	}
	if tab.beginLoad(c) {
		t.Fatalf("second beginLoad must be refused")
	}
	if got := tab.state(c); got != chunk.StateQueued {
		t.Fatalf("state = %v, want queued", got)
	}
	tab.installLoaded(c, chunk.Payload{Data: []byte("a"), Generated: true})
	if tab.beginLoad(c) {
		t.Fatalf("beginLoad on loaded coordinate must be refused")
	}
}

func TestTableLoadFailedRemovesEntry(t *testing.T) {
	tab := newChunkTable(time.Now)
	c := chunk.Coord{X: 1}
	tab.beginLoad(c)
	tab.markLoading(c)
	tab.loadFailed(c)
	if got := tab.state(c); got != chunk.StateUnloaded {
		t.Fatalf("state = %v, want unloaded", got)
	}
	if !tab.beginLoad(c) {
		t.Fatalf("retry after failure must be accepted")
	}
}

func TestTableSaveSequenceGuardsRedirty(t *testing.T) {
	tab := newChunkTable(time.Now)
	c := chunk.Coord{X: 2}
	tab.installWrite(c, chunk.Payload{Data: []byte("v1"), Generated: true})

	p, seq, ok := tab.beginSave(c)
	if !ok || string(p.Data) != "v1" {
		t.Fatalf("beginSave = %q %v", p.Data, ok)
	}
	if got := tab.state(c); got != chunk.StateSaving {
		t.Fatalf("state = %v, want saving", got)
	}

	// A second write lands while the first save is in flight.
	tab.installWrite(c, chunk.Payload{Data: []byte("v2"), Generated: true})

	// The stale save completing must not clear the dirty flag.
	tab.saveDone(c, seq, true)
	if !tab.isDirty(c) {
		t.Fatalf("newer write lost its dirty flag to a stale save")
	}

	p2, seq2, ok := tab.beginSave(c)
	if !ok || string(p2.Data) != "v2" {
		t.Fatalf("second beginSave = %q %v", p2.Data, ok)
	}
	tab.saveDone(c, seq2, true)
	if tab.isDirty(c) {
		t.Fatalf("dirty after current save completed")
	}
	if got := tab.state(c); got != chunk.StateLoaded {
		t.Fatalf("state = %v, want loaded", got)
	}
}

func TestTableSaveFailureKeepsDirty(t *testing.T) {
	tab := newChunkTable(time.Now)
	c := chunk.Coord{X: 3}
	tab.installWrite(c, chunk.Payload{Data: []byte("v1"), Generated: true})
	_, seq, _ := tab.beginSave(c)
	tab.saveDone(c, seq, false)
	if !tab.isDirty(c) {
		t.Fatalf("failed save must keep the coordinate dirty")
	}
	if got := tab.state(c); got != chunk.StateDirty {
		t.Fatalf("state = %v, want dirty", got)
	}
}

func TestTableLoadDoesNotClobberDirtyWrite(t *testing.T) {
	tab := newChunkTable(time.Now)
	c := chunk.Coord{X: 4}
	tab.beginLoad(c)
	tab.markLoading(c)
	// A write races ahead of the in-flight load.
	tab.installWrite(c, chunk.Payload{Data: []byte("newer"), Generated: true})
	tab.installLoaded(c, chunk.Payload{Data: []byte("stale"), Generated: true})

	p, ok := tab.get(c)
	if !ok || string(p.Data) != "newer" {
		t.Fatalf("load overwrote a newer in-memory write: %q", p.Data)
	}
	if !tab.isDirty(c) {
		t.Fatalf("dirty flag lost")
	}
}

func TestTableDirtyMembershipInvariant(t *testing.T) {
	tab := newChunkTable(time.Now)
	c := chunk.Coord{X: 5}
	tab.installWrite(c, chunk.Payload{Data: []byte("x"), Generated: true})

	for _, step := range []func(){
		func() {},
		func() { tab.beginSave(c) },
	} {
		step()
		if !tab.isDirty(c) {
			t.Fatalf("coordinate left dirty set unexpectedly")
		}
		switch st := tab.state(c); st {
		case chunk.StateDirty, chunk.StateSaving:
		default:
			t.Fatalf("dirty coordinate in state %v", st)
		}
	}

	tab.removeForUnload(c)
	if tab.isDirty(c) {
		t.Fatalf("unloaded coordinate must not be dirty")
	}
	if got := tab.state(c); got != chunk.StateUnloaded {
		t.Fatalf("state = %v, want unloaded", got)
	}
}

func TestTableLRUVictimsSkipInFlight(t *testing.T) {
	clock := newFakeClock()
	tab := newChunkTable(clock.now)

	a := chunk.Coord{X: 0}
	b := chunk.Coord{X: 1}
	q := chunk.Coord{X: 2}

	tab.installLoaded(a, chunk.Payload{Generated: true})
	clock.advance(time.Second)
	tab.installLoaded(b, chunk.Payload{Generated: true})
	clock.advance(time.Second)
	tab.beginLoad(q) // queued, in flight

	victims := tab.lruVictims(3)
	if len(victims) != 2 {
		t.Fatalf("in-flight entries must not be eviction candidates: %v", victims)
	}
	if victims[0] != a || victims[1] != b {
		t.Fatalf("victims out of LRU order: %v", victims)
	}
}
