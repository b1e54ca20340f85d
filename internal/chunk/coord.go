package chunk

import (
	"fmt"
	"math"
)

// Size is the edge length of a chunk in world units. Chunks are cubes.
const Size = 16

// Coord addresses a chunk on the integer grid. It is a comparable value and
// is used directly as a map key; hashing and equality come from the struct
// fields, no ordering is implied by the key itself.
type Coord struct {
	X int
	Y int
	Z int
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

// Add returns c offset by (dx, dy, dz).
func (c Coord) Add(dx, dy, dz int) Coord {
	return Coord{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

// DistSq returns the squared euclidean distance between two chunk coordinates
// measured in chunks.
func (c Coord) DistSq(o Coord) int {
	dx := c.X - o.X
	dy := c.Y - o.Y
	dz := c.Z - o.Z
	return dx*dx + dy*dy + dz*dz
}

// HorizDistSq is DistSq projected onto the XZ plane.
func (c Coord) HorizDistSq(o Coord) int {
	dx := c.X - o.X
	dz := c.Z - o.Z
	return dx*dx + dz*dz
}

// Less is a deterministic total order for sorted iteration. Map iteration
// order is never relied on where output must be reproducible.
func Less(a, b Coord) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

// AtWorld maps a world position to the coordinate of the chunk containing it.
func AtWorld(x, y, z float64) Coord {
	return Coord{
		X: floorDiv(int(math.Floor(x)), Size),
		Y: floorDiv(int(math.Floor(y)), Size),
		Z: floorDiv(int(math.Floor(z)), Size),
	}
}

// floorDiv divides rounding toward negative infinity, so chunk -1 covers
// world coordinates [-16, -1].
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
