package chunk

// LoadState tracks where a chunk is in its load/save lifecycle. A coordinate
// that is not present in the cache at all is implicitly StateUnloaded.
//
// Transitions:
//
//	Unloaded -> Queued -> Loading -> Loaded
//	Loaded   -> Dirty  (local write or explicit mark)
//	Dirty    -> Saving -> Loaded  (save succeeded)
//	Dirty    -> Saving -> Dirty   (save failed; retried by the next auto-save pass)
//	Loaded|Dirty -> Unloaded      (eviction/unload, saving first if dirty)
type LoadState uint8

const (
	StateUnloaded LoadState = iota
	StateQueued
	StateLoading
	StateLoaded
	StateSaving
	StateDirty
)

func (s LoadState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateQueued:
		return "queued"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateSaving:
		return "saving"
	case StateDirty:
		return "dirty"
	default:
		return "unknown"
	}
}
