package stream

import "chunkstream.dev/internal/chunk"

// EventKind discriminates streamer events.
type EventKind uint8

const (
	EventChunkLoaded EventKind = iota + 1
	EventChunkUnloaded
	EventChunkSaved
	EventError
)

// Event is one completed streamer operation. Events are produced by worker
// goroutines and by the controller, buffered on a bounded queue, and
// delivered to Handlers on the goroutine that drives Tick, so handler code
// does not have to be thread-safe.
type Event struct {
	Kind    EventKind
	Coord   chunk.Coord
	Payload chunk.Payload // EventChunkLoaded only
	OK      bool          // EventChunkSaved only
	Err     string        // EventError only
}

// Handlers receives drained events. Any field may be nil.
type Handlers struct {
	ChunkLoaded   func(c chunk.Coord, p chunk.Payload)
	ChunkUnloaded func(c chunk.Coord)
	ChunkSaved    func(c chunk.Coord, ok bool)
	Error         func(msg string)
}

// SetHandlers registers the event sinks. Call before the first Tick; the
// handlers field is read unsynchronized by the tick goroutine.
func (s *Streamer) SetHandlers(h Handlers) {
	s.handlers = h
}

// emit queues an event without blocking. When the buffer is full the event
// is dropped and counted; durability never depends on event delivery.
func (s *Streamer) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.stats.eventDropped()
	}
}

// DrainEvents delivers buffered events to the registered handlers. Called
// from Tick; exposed for callers that drive the streamer without ticking.
func (s *Streamer) DrainEvents() int {
	n := 0
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
			n++
		default:
			return n
		}
	}
}

func (s *Streamer) dispatch(ev Event) {
	h := s.handlers
	switch ev.Kind {
	case EventChunkLoaded:
		if h.ChunkLoaded != nil {
			h.ChunkLoaded(ev.Coord, ev.Payload)
		}
	case EventChunkUnloaded:
		if h.ChunkUnloaded != nil {
			h.ChunkUnloaded(ev.Coord)
		}
	case EventChunkSaved:
		if h.ChunkSaved != nil {
			h.ChunkSaved(ev.Coord, ev.OK)
		}
	case EventError:
		if h.Error != nil {
			h.Error(ev.Err)
		}
	}
}
