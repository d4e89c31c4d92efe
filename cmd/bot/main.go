package main

import (
	"context"
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"courier.ai/internal/planning"
	"courier.ai/internal/protocol"
	"courier.ai/internal/transport/ws"
)

// A rival for the arena: it wanders, picks up whatever it stands on and drops
// it on the first delivery tile it crosses. It never talks to the team bus.
func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/ws?name=rival", "ws url")
		token = flag.String("token", "", "game server token")
		every = flag.Duration("every", 200*time.Millisecond, "action interval")
		seed  = flag.Int64("seed", 0, "random seed (0 = time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := ws.Dial(ctx, *url, *token, logger)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	b := &bot{rng: rand.New(rand.NewSource(*seed))}
	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-c.Sensing():
			if !ok {
				logger.Printf("disconnected: %v", c.Err())
				return
			}
			b.sense(s)
		case <-ticker.C:
			b.act(ctx, c, logger)
		}
	}
}

type cell struct{ x, y int }

type bot struct {
	rng       *rand.Rand
	walkable  map[cell]bool // value: delivery tile
	id        string
	at        cell
	placed    bool
	underfoot bool
	carrying  int
}

func (b *bot) sense(s protocol.Sensed) {
	switch s.Type {
	case protocol.TypeMap:
		b.walkable = make(map[cell]bool, len(s.Map.Tiles))
		for _, t := range s.Map.Tiles {
			b.walkable[cell{t.X, t.Y}] = t.Delivery
		}
	case protocol.TypeYou:
		b.id = s.You.ID
		b.at = cell{int(math.Round(s.You.X)), int(math.Round(s.You.Y))}
		b.placed = true
	case protocol.TypeParcelsSensing:
		b.underfoot, b.carrying = false, 0
		for _, p := range s.Parcels {
			switch {
			case p.CarriedBy == b.id && b.id != "":
				b.carrying++
			case p.CarriedBy == "" && int(math.Round(p.X)) == b.at.x && int(math.Round(p.Y)) == b.at.y:
				b.underfoot = true
			}
		}
	}
}

func (b *bot) act(ctx context.Context, c *ws.Client, logger *log.Logger) {
	if !b.placed || b.walkable == nil {
		return
	}
	switch {
	case b.underfoot:
		if got, err := c.Pickup(ctx); err == nil && len(got) > 0 {
			logger.Printf("picked up %v at %v", got, b.at)
		}
		b.underfoot = false
		return
	case b.carrying > 0 && b.walkable[b.at]:
		if got, err := c.Putdown(ctx); err == nil && len(got) > 0 {
			logger.Printf("delivered %v at %v", got, b.at)
		}
		b.carrying = 0
		return
	}

	var moves []planning.Action
	for _, a := range []planning.Action{planning.Up, planning.Down, planning.Left, planning.Right} {
		dx, dy, _ := a.Delta()
		if _, ok := b.walkable[cell{b.at.x + dx, b.at.y + dy}]; ok {
			moves = append(moves, a)
		}
	}
	if len(moves) == 0 {
		return
	}
	a := moves[b.rng.Intn(len(moves))]
	if err := c.Move(ctx, a); err != nil {
		return
	}
	dx, dy, _ := a.Delta()
	b.at = cell{b.at.x + dx, b.at.y + dy}
}
