package arena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"courier.ai/internal/protocol"
)

// Config describes one arena. Zero values fall back to the defaults
// applied by New.
type Config struct {
	Width  int
	Height int
	Tiles  []protocol.MapTile

	TickRateHz int
	// ObsRadius is the Manhattan sensing range for agents and parcels.
	ObsRadius int

	ParcelSpawnEveryTicks int
	MaxParcels            int
	RewardMin             int
	RewardMax             int
	// DecayEveryTicks removes one reward unit from every parcel.
	DecayEveryTicks int

	Seed int64
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	AgentID string
	Err     error
}

// Envelope is one client request. Exactly one of Action and Chat is set.
type Envelope struct {
	AgentID string
	Action  *protocol.ActionReq
	Chat    *protocol.SayReq
}

type Metrics struct {
	Tick      uint64 `json:"tick"`
	Agents    int    `json:"agents"`
	Parcels   int    `json:"parcels"`
	Delivered int    `json:"delivered"`
}

type agentState struct {
	ID    string
	Name  string
	X, Y  int
	Score int
	Out   chan []byte
}

type parcelState struct {
	ID        string
	X, Y      int
	Reward    int
	CarriedBy string
}

type tile struct {
	walkable bool
	delivery bool
}

// World is a minimal delivery game: agents move on a grid, pick up
// parcels whose reward decays over time and score by putting them down
// on delivery stations. All state is owned by the Run goroutine.
type World struct {
	cfg   Config
	tiles []tile
	spawn []int
	rng   *rand.Rand

	agents  map[string]*agentState
	order   []string
	parcels map[string]*parcelState

	nextAgent  int
	nextParcel int
	delivered  int

	tick    atomic.Uint64
	metrics atomic.Value

	join  chan JoinRequest
	leave chan string
	inbox chan Envelope
	stop  chan struct{}
}

func New(cfg Config) (*World, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("arena: width and height must be positive")
	}
	if len(cfg.Tiles) == 0 {
		return nil, errors.New("arena: no walkable tiles")
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 10
	}
	if cfg.ObsRadius <= 0 {
		cfg.ObsRadius = 5
	}
	if cfg.ParcelSpawnEveryTicks <= 0 {
		cfg.ParcelSpawnEveryTicks = 20
	}
	if cfg.MaxParcels <= 0 {
		cfg.MaxParcels = 6
	}
	if cfg.RewardMin <= 0 {
		cfg.RewardMin = 10
	}
	if cfg.RewardMax < cfg.RewardMin {
		cfg.RewardMax = cfg.RewardMin + 20
	}
	if cfg.DecayEveryTicks <= 0 {
		cfg.DecayEveryTicks = 10
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	w := &World{
		cfg:     cfg,
		tiles:   make([]tile, cfg.Width*cfg.Height),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		agents:  map[string]*agentState{},
		parcels: map[string]*parcelState{},
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		inbox:   make(chan Envelope, 1024),
		stop:    make(chan struct{}),
	}
	for _, t := range cfg.Tiles {
		if t.X < 0 || t.Y < 0 || t.X >= cfg.Width || t.Y >= cfg.Height {
			return nil, fmt.Errorf("arena: tile (%d,%d) outside %dx%d", t.X, t.Y, cfg.Width, cfg.Height)
		}
		i := t.Y*cfg.Width + t.X
		w.tiles[i] = tile{walkable: true, delivery: t.Delivery}
		if !t.Delivery {
			w.spawn = append(w.spawn, i)
		}
	}
	if len(w.spawn) == 0 {
		return nil, errors.New("arena: no tile to spawn parcels on")
	}
	w.metrics.Store(Metrics{})
	return w, nil
}

func (w *World) Join() chan<- JoinRequest { return w.join }
func (w *World) Leave() chan<- string     { return w.leave }
func (w *World) Inbox() chan<- Envelope   { return w.inbox }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Metrics is safe to call from any goroutine.
func (w *World) Metrics() Metrics { return w.metrics.Load().(Metrics) }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingActions []Envelope
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			// Joins are answered immediately so the client gets its map
			// before the first sensing frame.
			req.Resp <- w.handleJoin(req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingActions = append(pendingActions, env)
		case <-ticker.C:
			w.step(pendingLeaves, pendingActions)
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

func (w *World) handleJoin(req JoinRequest) JoinResponse {
	x, y, ok := w.freeTile()
	if !ok {
		return JoinResponse{Err: errors.New("arena full")}
	}
	w.nextAgent++
	name := req.Name
	if name == "" {
		name = "agent"
	}
	a := &agentState{
		ID:   fmt.Sprintf("a%d", w.nextAgent),
		Name: name,
		X:    x,
		Y:    y,
		Out:  req.Out,
	}
	w.agents[a.ID] = a
	w.order = append(w.order, a.ID)

	w.send(a, protocol.MapMsg{Type: protocol.TypeMap, Width: w.cfg.Width, Height: w.cfg.Height, Tiles: w.cfg.Tiles})
	w.send(a, protocol.YouMsg{Type: protocol.TypeYou, AgentInfo: a.info()})
	return JoinResponse{AgentID: a.ID}
}

func (w *World) removeAgent(id string) {
	if _, ok := w.agents[id]; !ok {
		return
	}
	delete(w.agents, id)
	for i, o := range w.order {
		if o == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	for _, p := range w.parcels {
		if p.CarriedBy == id {
			p.CarriedBy = ""
		}
	}
}

func (w *World) step(leaves []string, actions []Envelope) {
	tick := w.tick.Add(1)

	for _, id := range leaves {
		w.removeAgent(id)
	}
	for _, env := range actions {
		a, ok := w.agents[env.AgentID]
		if !ok {
			continue
		}
		switch {
		case env.Action != nil:
			w.send(a, w.apply(a, *env.Action))
		case env.Chat != nil:
			w.relay(a, *env.Chat)
		}
	}
	if tick%uint64(w.cfg.DecayEveryTicks) == 0 {
		w.decay()
	}
	if tick%uint64(w.cfg.ParcelSpawnEveryTicks) == 0 && len(w.parcels) < w.cfg.MaxParcels {
		w.spawnParcel()
	}
	for _, id := range w.order {
		w.sense(w.agents[id])
	}
	w.metrics.Store(Metrics{Tick: tick, Agents: len(w.agents), Parcels: len(w.parcels), Delivered: w.delivered})
}

func (w *World) apply(a *agentState, req protocol.ActionReq) protocol.AckMsg {
	ack := protocol.AckMsg{Type: protocol.TypeAck, ReqID: req.ReqID, OK: true}
	reject := func(code string) protocol.AckMsg {
		ack.OK = false
		ack.Code = code
		return ack
	}
	switch req.Type {
	case protocol.TypeMove:
		dx, dy, ok := direction(req.Direction)
		if !ok {
			return reject(protocol.ErrBadRequest)
		}
		nx, ny := a.X+dx, a.Y+dy
		if !w.walkable(nx, ny) || w.occupied(nx, ny) {
			return reject(protocol.ErrBlocked)
		}
		a.X, a.Y = nx, ny
		for _, p := range w.parcels {
			if p.CarriedBy == a.ID {
				p.X, p.Y = nx, ny
			}
		}
	case protocol.TypePickup:
		for _, p := range w.sortedParcels() {
			if p.CarriedBy == "" && p.X == a.X && p.Y == a.Y {
				p.CarriedBy = a.ID
				ack.Parcels = append(ack.Parcels, p.ID)
			}
		}
		if len(ack.Parcels) == 0 {
			return reject(protocol.ErrNoParcel)
		}
	case protocol.TypePutdown:
		onDelivery := w.tiles[a.Y*w.cfg.Width+a.X].delivery
		for _, p := range w.sortedParcels() {
			if p.CarriedBy != a.ID {
				continue
			}
			ack.Parcels = append(ack.Parcels, p.ID)
			if onDelivery {
				a.Score += p.Reward
				w.delivered++
				delete(w.parcels, p.ID)
			} else {
				p.CarriedBy = ""
			}
		}
		if len(ack.Parcels) == 0 {
			return reject(protocol.ErrNoParcel)
		}
	default:
		return reject(protocol.ErrBadRequest)
	}
	return ack
}

func (w *World) relay(from *agentState, req protocol.SayReq) {
	msg := protocol.RelayMsg{Type: protocol.TypeMsg, FromID: from.ID, FromName: from.Name, Msg: req.Msg}
	if req.Type == protocol.TypeSay {
		if to, ok := w.agents[req.To]; ok && to.ID != from.ID {
			w.send(to, msg)
		}
		return
	}
	for _, id := range w.order {
		if id != from.ID {
			w.send(w.agents[id], msg)
		}
	}
}

func (w *World) decay() {
	for id, p := range w.parcels {
		p.Reward--
		if p.Reward <= 0 {
			delete(w.parcels, id)
		}
	}
}

func (w *World) spawnParcel() {
	for tries := 0; tries < 8; tries++ {
		i := w.spawn[w.rng.Intn(len(w.spawn))]
		x, y := i%w.cfg.Width, i/w.cfg.Width
		if w.parcelAt(x, y) {
			continue
		}
		w.nextParcel++
		p := &parcelState{
			ID:     fmt.Sprintf("p%d", w.nextParcel),
			X:      x,
			Y:      y,
			Reward: w.cfg.RewardMin + w.rng.Intn(w.cfg.RewardMax-w.cfg.RewardMin+1),
		}
		w.parcels[p.ID] = p
		return
	}
}

func (w *World) sense(a *agentState) {
	r := w.cfg.ObsRadius
	w.send(a, protocol.YouMsg{Type: protocol.TypeYou, AgentInfo: a.info()})

	agents := []protocol.AgentInfo{}
	for _, id := range w.order {
		o := w.agents[id]
		if o.ID != a.ID && manhattan(a.X, a.Y, o.X, o.Y) <= r {
			agents = append(agents, o.info())
		}
	}
	w.send(a, protocol.AgentsSensingMsg{Type: protocol.TypeAgentsSensing, Agents: agents})

	parcels := []protocol.ParcelInfo{}
	for _, p := range w.sortedParcels() {
		if p.CarriedBy == a.ID || manhattan(a.X, a.Y, p.X, p.Y) <= r {
			parcels = append(parcels, protocol.ParcelInfo{
				ID:        p.ID,
				X:         float64(p.X),
				Y:         float64(p.Y),
				CarriedBy: p.CarriedBy,
				Reward:    p.Reward,
			})
		}
	}
	w.send(a, protocol.ParcelsSensingMsg{Type: protocol.TypeParcelsSensing, Parcels: parcels})
}

// send never blocks the tick; a slow client loses frames.
func (w *World) send(a *agentState, v any) {
	if a == nil || a.Out == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case a.Out <- b:
	default:
	}
}

func (w *World) freeTile() (int, int, bool) {
	var free []int
	for i, t := range w.tiles {
		if t.walkable && !w.occupied(i%w.cfg.Width, i/w.cfg.Width) {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return 0, 0, false
	}
	i := free[w.rng.Intn(len(free))]
	return i % w.cfg.Width, i / w.cfg.Width, true
}

func (w *World) walkable(x, y int) bool {
	if x < 0 || y < 0 || x >= w.cfg.Width || y >= w.cfg.Height {
		return false
	}
	return w.tiles[y*w.cfg.Width+x].walkable
}

func (w *World) occupied(x, y int) bool {
	for _, a := range w.agents {
		if a.X == x && a.Y == y {
			return true
		}
	}
	return false
}

func (w *World) parcelAt(x, y int) bool {
	for _, p := range w.parcels {
		if p.X == x && p.Y == y {
			return true
		}
	}
	return false
}

func (w *World) sortedParcels() []*parcelState {
	out := make([]*parcelState, 0, len(w.parcels))
	for _, p := range w.parcels {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *agentState) info() protocol.AgentInfo {
	return protocol.AgentInfo{ID: a.ID, Name: a.Name, X: float64(a.X), Y: float64(a.Y), Score: a.Score}
}

func direction(d string) (dx, dy int, ok bool) {
	switch d {
	case "up":
		return 0, 1, true
	case "down":
		return 0, -1, true
	case "left":
		return -1, 0, true
	case "right":
		return 1, 0, true
	}
	return 0, 0, false
}

func manhattan(x0, y0, x1, y1 int) int {
	dx, dy := x0-x1, y0-y1
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}
