package belief

import (
	"math/rand"

	"courier.ai/internal/protocol"
)

type Tile struct {
	Walkable bool
	Delivery bool
	Occupied bool
	// Value is the summed reward of uncarried visible parcels on the tile.
	Value int
}

// Grid is the tile table. The static flags are set once by NewGrid; Occupied
// and Value are rewritten by the World after every sensing batch.
type Grid struct {
	width  int
	height int
	tiles  []Tile

	deliveries []Point
	walkable   []Point
}

// 4-neighbourhood in a fixed order: up, down, left, right.
var neighbourOffsets = [4][2]int{{0, 1}, {0, -1}, {-1, 0}, {1, 0}}

func NewGrid(width, height int, tiles []protocol.MapTile) *Grid {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	g := &Grid{width: width, height: height, tiles: make([]Tile, width*height)}
	for _, mt := range tiles {
		p := Point{X: mt.X, Y: mt.Y}
		if !g.In(p) {
			continue
		}
		t := &g.tiles[g.index(p)]
		if t.Walkable {
			continue
		}
		t.Walkable = true
		t.Delivery = mt.Delivery
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := Point{X: x, Y: y}
			t := g.tiles[g.index(p)]
			if !t.Walkable {
				continue
			}
			g.walkable = append(g.walkable, p)
			if t.Delivery {
				g.deliveries = append(g.deliveries, p)
			}
		}
	}
	return g
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }

func (g *Grid) index(p Point) int { return p.Y*g.width + p.X }

func (g *Grid) In(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.width && p.Y < g.height
}

func (g *Grid) Tile(p Point) (Tile, bool) {
	if !g.In(p) {
		return Tile{}, false
	}
	return g.tiles[g.index(p)], true
}

func (g *Grid) Walkable(p Point) bool {
	t, ok := g.Tile(p)
	return ok && t.Walkable
}

func (g *Grid) Delivery(p Point) bool {
	t, ok := g.Tile(p)
	return ok && t.Delivery
}

func (g *Grid) Occupied(p Point) bool {
	t, ok := g.Tile(p)
	return ok && t.Occupied
}

// Deliveries returns the delivery stations in row-major order.
func (g *Grid) Deliveries() []Point { return append([]Point(nil), g.deliveries...) }

// WalkableTiles returns every walkable tile in row-major order.
func (g *Grid) WalkableTiles() []Point { return append([]Point(nil), g.walkable...) }

// Neighbors returns the walkable, unoccupied tiles adjacent to p.
func (g *Grid) Neighbors(p Point) []Point {
	out := make([]Point, 0, 4)
	for _, o := range neighbourOffsets {
		n := p.Add(o[0], o[1])
		t, ok := g.Tile(n)
		if !ok || !t.Walkable || t.Occupied {
			continue
		}
		out = append(out, n)
	}
	return out
}

// WalkableNeighbors ignores occupancy.
func (g *Grid) WalkableNeighbors(p Point) []Point {
	out := make([]Point, 0, 4)
	for _, o := range neighbourOffsets {
		n := p.Add(o[0], o[1])
		if g.Walkable(n) {
			out = append(out, n)
		}
	}
	return out
}

// RandomValidTile picks a walkable, unoccupied tile.
func (g *Grid) RandomValidTile(rng *rand.Rand) (Point, bool) {
	free := make([]Point, 0, len(g.walkable))
	for _, p := range g.walkable {
		if !g.tiles[g.index(p)].Occupied {
			free = append(free, p)
		}
	}
	if len(free) == 0 {
		return Point{}, false
	}
	return free[rng.Intn(len(free))], true
}

// Distances runs a breadth-first search over walkable tiles from start and
// returns the step count to every reached tile. Occupancy is ignored: agents
// move, walls don't.
func (g *Grid) Distances(start Point) map[Point]int {
	dist := make(map[Point]int)
	if !g.Walkable(start) {
		return dist
	}
	dist[start] = 0
	queue := []Point{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.WalkableNeighbors(cur) {
			if _, seen := dist[n]; seen {
				continue
			}
			dist[n] = dist[cur] + 1
			queue = append(queue, n)
		}
	}
	return dist
}

// ReachableParcelsFrom keeps the parcels whose tile can be walked to from start.
func (g *Grid) ReachableParcelsFrom(start Point, parcels []Parcel) []Parcel {
	dist := g.Distances(start)
	out := make([]Parcel, 0, len(parcels))
	for _, p := range parcels {
		if _, ok := dist[p.Tile()]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (g *Grid) clone() *Grid {
	c := *g
	c.tiles = append([]Tile(nil), g.tiles...)
	return &c
}

func (g *Grid) resetDynamic() {
	for i := range g.tiles {
		g.tiles[i].Occupied = false
		g.tiles[i].Value = 0
	}
}

func (g *Grid) markOccupied(p Point) {
	if g.In(p) {
		g.tiles[g.index(p)].Occupied = true
	}
}

func (g *Grid) addValue(p Point, v int) {
	if g.In(p) {
		g.tiles[g.index(p)].Value += v
	}
}
