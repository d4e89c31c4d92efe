package belief

import "math"

// Point is an integer tile coordinate.
type Point struct {
	X int
	Y int
}

// Key packs the point into a plain value usable as a map key by caches.
func (p Point) Key() uint64 {
	return uint64(uint32(int32(p.X)))<<32 | uint64(uint32(int32(p.Y)))
}

func PointFromKey(k uint64) Point {
	return Point{X: int(int32(uint32(k >> 32))), Y: int(int32(uint32(k)))}
}

// PairKey keys an ordered (from, to) pair for distance caches.
type PairKey struct {
	From uint64
	To   uint64
}

func Pair(a, b Point) PairKey { return PairKey{From: a.Key(), To: b.Key()} }

// Round maps a possibly fractional position to its tile: nearest integer,
// halves away from zero. Every caller uses this single rule.
func Round(x, y float64) Point {
	return Point{X: int(math.Round(x)), Y: int(math.Round(y))}
}

// IsInteger reports whether a position sits exactly on a tile.
func IsInteger(x, y float64) bool {
	return x == math.Trunc(x) && y == math.Trunc(y)
}

func Manhattan(a, b Point) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

func (p Point) Add(dx, dy int) Point { return Point{X: p.X + dx, Y: p.Y + dy} }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
