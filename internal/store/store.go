// Package store defines the durable chunk store contract consumed by the
// streaming engine, plus a map-backed implementation for tests and
// single-process setups. The SQLite-backed implementation lives in chunkdb.
package store

import "chunkstream.dev/internal/chunk"

// Store is a synchronous key-addressed blob store. It owns no caching policy;
// all caching, scheduling and eviction happen in the streaming layer above.
//
// LoadChunk returns a payload with Generated == false on a miss; a miss is
// not an error. Errors are reserved for actual persistence failures.
type Store interface {
	LoadChunk(c chunk.Coord) (chunk.Payload, error)
	SaveChunk(c chunk.Coord, p chunk.Payload) error
	IsChunkGenerated(c chunk.Coord) (bool, error)
}
