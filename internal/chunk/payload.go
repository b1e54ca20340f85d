package chunk

import "crypto/sha256"

// Payload is an opaque chunk blob. The streaming layer never interprets the
// bytes; it only moves them between the cache and the durable store.
//
// Generated reports whether the store actually had content for the chunk.
// A load that comes back with Generated == false is a miss, not an error.
type Payload struct {
	Data      []byte
	Generated bool
}

// Clone returns a deep copy. The cache hands copies to callers and to the
// store so no payload bytes are ever shared mutable across goroutines.
func (p Payload) Clone() Payload {
	out := Payload{Generated: p.Generated}
	if p.Data != nil {
		out.Data = make([]byte, len(p.Data))
		copy(out.Data, p.Data)
	}
	return out
}

// Digest returns a sha256 over the payload bytes, used for cheap change
// detection in tests and diagnostics.
func (p Payload) Digest() [32]byte {
	return sha256.Sum256(p.Data)
}
