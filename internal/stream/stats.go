package stream

import (
	"sync"
	"time"
)

// Statistics is a point-in-time snapshot of streamer activity.
type Statistics struct {
	Loaded        int     `json:"loaded"`
	Dirty         int     `json:"dirty"`
	PendingLoads  int     `json:"pending_loads"`
	PendingSaves  int     `json:"pending_saves"`
	AvgLoadMs     float64 `json:"avg_load_ms"`
	AvgSaveMs     float64 `json:"avg_save_ms"`
	EventsDropped uint64  `json:"events_dropped"`
}

// statCounters accumulates operation timings under its own small lock.
type statCounters struct {
	mu        sync.Mutex
	loadTotal time.Duration
	loadCount int
	saveTotal time.Duration
	saveCount int
	dropped   uint64
}

func (s *statCounters) observeLoad(d time.Duration) {
	s.mu.Lock()
	s.loadTotal += d
	s.loadCount++
	s.mu.Unlock()
}

func (s *statCounters) observeSave(d time.Duration) {
	s.mu.Lock()
	s.saveTotal += d
	s.saveCount++
	s.mu.Unlock()
}

func (s *statCounters) eventDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *statCounters) snapshot() (avgLoadMs, avgSaveMs float64, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadCount > 0 {
		avgLoadMs = float64(s.loadTotal.Microseconds()) / float64(s.loadCount) / 1e3
	}
	if s.saveCount > 0 {
		avgSaveMs = float64(s.saveTotal.Microseconds()) / float64(s.saveCount) / 1e3
	}
	return avgLoadMs, avgSaveMs, s.dropped
}
