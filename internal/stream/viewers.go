package stream

import (
	"sync"

	"chunkstream.dev/internal/chunk"
)

// Pos is a viewer position in world units.
type Pos struct {
	X float64
	Y float64
	Z float64
}

// viewRegistry tracks one view position per logical viewer. It holds its own
// lock, independent of chunk state.
type viewRegistry struct {
	mu      sync.Mutex
	viewers map[string]chunk.Coord
}

func newViewRegistry() *viewRegistry {
	return &viewRegistry{viewers: map[string]chunk.Coord{}}
}

func (v *viewRegistry) set(id string, p Pos) {
	c := chunk.AtWorld(p.X, p.Y, p.Z)
	v.mu.Lock()
	v.viewers[id] = c
	v.mu.Unlock()
}

func (v *viewRegistry) remove(id string) {
	v.mu.Lock()
	delete(v.viewers, id)
	v.mu.Unlock()
}

func (v *viewRegistry) centers() []chunk.Coord {
	v.mu.Lock()
	out := make([]chunk.Coord, 0, len(v.viewers))
	for _, c := range v.viewers {
		out = append(out, c)
	}
	v.mu.Unlock()
	return out
}

// desired returns the union, over all viewers, of chunk coordinates whose
// center lies within viewDistance (euclidean, in chunks, XZ plane) of the
// viewer's chunk, expanded by a fixed vertical band. Pure function of the
// registry snapshot.
func (v *viewRegistry) desired(viewDistance float64, verticalBand int) map[chunk.Coord]struct{} {
	centers := v.centers()
	out := map[chunk.Coord]struct{}{}
	if viewDistance < 0 {
		return out
	}
	r := int(viewDistance)
	d2 := viewDistance * viewDistance
	for _, center := range centers {
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				if float64(dx*dx+dz*dz) > d2 {
					continue
				}
				for dy := -verticalBand; dy <= verticalBand; dy++ {
					out[center.Add(dx, dy, dz)] = struct{}{}
				}
			}
		}
	}
	return out
}

// nearestDistSq returns the squared XZ distance (in chunks) from c to the
// closest viewer, or ok == false when no viewer is registered.
func (v *viewRegistry) nearestDistSq(c chunk.Coord) (int, bool) {
	centers := v.centers()
	if len(centers) == 0 {
		return 0, false
	}
	best := centers[0].HorizDistSq(c)
	for _, vc := range centers[1:] {
		if d := vc.HorizDistSq(c); d < best {
			best = d
		}
	}
	return best, true
}
