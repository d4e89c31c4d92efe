package belief

import (
	"time"

	"courier.ai/internal/protocol"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

// openMap builds a width x height map with every tile walkable.
func openMap(width, height int, deliveries ...Point) []protocol.MapTile {
	isDelivery := map[Point]bool{}
	for _, d := range deliveries {
		isDelivery[d] = true
	}
	var out []protocol.MapTile
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out = append(out, protocol.MapTile{X: x, Y: y, Delivery: isDelivery[Point{X: x, Y: y}]})
		}
	}
	return out
}

func newTestWorld(clock *fakeClock, width, height int, deliveries ...Point) *World {
	w := NewWorld(Config{
		DecayLearningRate: 0.5,
		SpeedLearningRate: 0.5,
		SpeedWindow:       90,
		Now:               clock.Now,
	})
	w.SetMap(width, height, openMap(width, height, deliveries...))
	return w
}
