package store

import (
	"sync"

	"chunkstream.dev/internal/chunk"
)

// Memory is an in-process Store backed by a map. Used by tests and by
// servers configured with store: memory (nothing survives a restart).
type Memory struct {
	mu     sync.Mutex
	chunks map[chunk.Coord][]byte
}

func NewMemory() *Memory {
	return &Memory{chunks: map[chunk.Coord][]byte{}}
}

func (m *Memory) LoadChunk(c chunk.Coord) (chunk.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.chunks[c]
	if !ok {
		return chunk.Payload{}, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return chunk.Payload{Data: out, Generated: true}, nil
}

func (m *Memory) SaveChunk(c chunk.Coord, p chunk.Payload) error {
	b := make([]byte, len(p.Data))
	copy(b, p.Data)
	m.mu.Lock()
	m.chunks[c] = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) IsChunkGenerated(c chunk.Coord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.chunks[c]
	return ok, nil
}

// Len reports how many chunks the store currently holds.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}
