package stream

import "fmt"

// worker is the body of one background I/O goroutine. It pulls the highest
// priority request, calls the store outside every lock, applies the result
// to the table, and reports completion.
func (s *Streamer) worker() {
	defer s.wg.Done()
	for {
		req, ok := s.sched.next()
		if !ok {
			return
		}
		switch req.kind {
		case reqLoad:
			s.processLoad(req)
		case reqSave:
			s.processSave(req)
		}
		s.sched.done()
	}
}

func (s *Streamer) processLoad(req *ioRequest) {
	s.table.markLoading(req.coord)

	start := s.now()
	p, err := s.store.LoadChunk(req.coord)
	s.stats.observeLoad(s.now().Sub(start))

	if err != nil {
		s.table.loadFailed(req.coord)
		s.emit(Event{Kind: EventError, Coord: req.coord, Err: fmt.Sprintf("load %v: %v", req.coord, err)})
		s.complete(req, false)
		return
	}
	if !p.Generated {
		// Miss: the store has nothing for this coordinate yet. Not fatal;
		// the coordinate returns to Unloaded so a higher layer can generate
		// it and request again.
		s.table.loadFailed(req.coord)
		s.complete(req, false)
		return
	}

	s.table.installLoaded(req.coord, p)
	s.emit(Event{Kind: EventChunkLoaded, Coord: req.coord, Payload: p.Clone()})
	s.complete(req, true)
}

func (s *Streamer) processSave(req *ioRequest) {
	start := s.now()
	err := s.store.SaveChunk(req.coord, req.payload)
	s.stats.observeSave(s.now().Sub(start))

	ok := err == nil
	s.table.saveDone(req.coord, req.writeSeq, ok)
	if err != nil {
		s.emit(Event{Kind: EventError, Coord: req.coord, Err: fmt.Sprintf("save %v: %v", req.coord, err)})
	}
	s.emit(Event{Kind: EventChunkSaved, Coord: req.coord, OK: ok})
	s.complete(req, ok)
}

// complete invokes the per-request callback, if any. Callbacks run on the
// worker goroutine; callers needing single-threaded delivery should use
// Handlers instead.
func (s *Streamer) complete(req *ioRequest, ok bool) {
	if req.onComplete != nil {
		req.onComplete(ok)
	}
}
