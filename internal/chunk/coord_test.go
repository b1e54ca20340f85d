package chunk

import "testing"

func TestAtWorldNegativeCoords(t *testing.T) {
	cases := []struct {
		x, y, z float64
		want    Coord
	}{
		{0, 0, 0, Coord{0, 0, 0}},
		{15.9, 15.9, 15.9, Coord{0, 0, 0}},
		{16, 0, 0, Coord{1, 0, 0}},
		{-0.1, 0, 0, Coord{-1, 0, 0}},
		{-16, -1, -17, Coord{-1, -1, -2}},
		{-16.5, 32, 0, Coord{-2, 2, 0}},
	}
	for _, tc := range cases {
		got := AtWorld(tc.x, tc.y, tc.z)
		if got != tc.want {
			t.Fatalf("AtWorld(%v,%v,%v) = %v, want %v", tc.x, tc.y, tc.z, got, tc.want)
		}
	}
}

func TestLessIsTotalOrder(t *testing.T) {
	a := Coord{0, 0, 0}
	b := Coord{0, 0, 1}
	c := Coord{0, 1, 0}
	d := Coord{1, -5, -5}
	if !Less(a, b) || !Less(b, c) || !Less(c, d) {
		t.Fatalf("expected a < b < c < d")
	}
	if Less(a, a) {
		t.Fatalf("Less must be irreflexive")
	}
	if Less(b, a) {
		t.Fatalf("Less must be asymmetric")
	}
}

func TestDistSq(t *testing.T) {
	a := Coord{1, 2, 3}
	b := Coord{4, 2, -1}
	if got := a.DistSq(b); got != 9+16 {
		t.Fatalf("DistSq = %d, want 25", got)
	}
	if got := a.HorizDistSq(b); got != 9+16 {
		t.Fatalf("HorizDistSq = %d, want 25", got)
	}
	c := Coord{1, 9, 3}
	if got := a.HorizDistSq(c); got != 0 {
		t.Fatalf("HorizDistSq ignores Y, got %d", got)
	}
}

func TestPayloadCloneIsDeep(t *testing.T) {
	p := Payload{Data: []byte{1, 2, 3}, Generated: true}
	q := p.Clone()
	q.Data[0] = 9
	if p.Data[0] != 1 {
		t.Fatalf("clone shares backing array")
	}
	if !q.Generated {
		t.Fatalf("clone lost generation flag")
	}
}

func TestPayloadDigestChangesWithData(t *testing.T) {
	p := Payload{Data: []byte("abc")}
	q := Payload{Data: []byte("abd")}
	if p.Digest() == q.Digest() {
		t.Fatalf("different payloads must digest differently")
	}
	if p.Digest() != (Payload{Data: []byte("abc")}).Digest() {
		t.Fatalf("digest must be deterministic")
	}
}
