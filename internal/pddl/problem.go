package pddl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"courier.ai/internal/belief"
)

// Domain is the typed delivery domain shared by single and multi-agent
// problems. Moving into a blocked tile is forbidden; an agent blocks the
// tile it stands on.
const Domain = `(define (domain deliveroo)
  (:requirements :strips :typing :negative-preconditions :conditional-effects :universal-preconditions)
  (:types entity position - object agent parcel - entity)
  (:predicates
    (at ?e - entity ?p - position)
    (can-move ?from - position ?to - position)
    (carrying ?a - agent ?p - parcel)
    (delivery ?p - position)
    (delivered ?p - parcel)
    (blocked ?p - position))
  (:action move
    :parameters (?a - agent ?fr - position ?to - position)
    :precondition (and (at ?a ?fr) (can-move ?fr ?to) (not (blocked ?to)))
    :effect (and (not (at ?a ?fr)) (at ?a ?to) (not (blocked ?fr)) (blocked ?to)))
  (:action pickup
    :parameters (?a - agent ?pos - position)
    :precondition (at ?a ?pos)
    :effect (forall (?p - parcel) (when (at ?p ?pos) (and (carrying ?a ?p) (not (at ?p ?pos))))))
  (:action deliver
    :parameters (?a - agent ?pos - position)
    :precondition (and (at ?a ?pos) (delivery ?pos))
    :effect (forall (?p - parcel) (when (carrying ?a ?p) (and (not (carrying ?a ?p)) (delivered ?p)))))
  (:action putdown
    :parameters (?a - agent ?pos - position)
    :precondition (at ?a ?pos)
    :effect (forall (?p - parcel) (when (carrying ?a ?p) (and (not (carrying ?a ?p)) (at ?p ?pos))))))
`

// Problem accumulates objects and facts for one solver call. Names handed
// to the solver are mapped back to game ids when decoding its plan.
type Problem struct {
	grid *belief.Grid

	agents  map[string]string
	parcels map[string]string
	order   []string

	// symbols memoizes the name given to each prefixed id; taken holds every
	// name handed out so distinct ids never share one.
	symbols map[string]string
	taken   map[string]bool

	init []string
	goal []string
}

// NewProblem declares every walkable tile, its moves and the delivery
// stations. Occupied tiles start blocked; AddAgent unblocks the tiles of
// agents being planned for and blocks them again as movers.
func NewProblem(g *belief.Grid) *Problem {
	pr := &Problem{
		grid:    g,
		agents:  map[string]string{},
		parcels: map[string]string{},
		symbols: map[string]string{},
		taken:   map[string]bool{},
	}
	for _, p := range g.WalkableTiles() {
		name := TileName(p)
		if g.Delivery(p) {
			pr.init = append(pr.init, "delivery "+name)
		}
		for _, n := range g.WalkableNeighbors(p) {
			pr.init = append(pr.init, "can-move "+name+" "+TileName(n))
		}
		if g.Occupied(p) {
			pr.init = append(pr.init, "blocked "+name)
		}
	}
	return pr
}

func (pr *Problem) AgentSymbol(id string) string  { return pr.name("a_", id) }
func (pr *Problem) ParcelSymbol(id string) string { return pr.name("p_", id) }

// name returns the symbol for id, suffixing it when another id already
// sanitizes to the same text.
func (pr *Problem) name(prefix, id string) string {
	key := prefix + id
	if s, ok := pr.symbols[key]; ok {
		return s
	}
	base := symbol(prefix, id)
	s := base
	for n := 2; pr.taken[s]; n++ {
		s = base + "-" + strconv.Itoa(n)
	}
	pr.symbols[key] = s
	pr.taken[s] = true
	return s
}

func (pr *Problem) AddAgent(id string, at belief.Point) {
	s := pr.AgentSymbol(id)
	if _, ok := pr.agents[s]; !ok {
		pr.agents[s] = id
		pr.order = append(pr.order, s)
	}
	pr.init = append(pr.init, fmt.Sprintf("at %s %s", s, TileName(at)))
}

// AddParcel places a parcel on the map, or in an agent's hands when
// carriedBy names an agent already added.
func (pr *Problem) AddParcel(id string, at belief.Point, carriedBy string) {
	s := pr.ParcelSymbol(id)
	pr.parcels[s] = id
	if carriedBy != "" {
		if a := pr.AgentSymbol(carriedBy); pr.agents[a] != "" {
			pr.init = append(pr.init, fmt.Sprintf("carrying %s %s", a, s))
			return
		}
	}
	pr.init = append(pr.init, fmt.Sprintf("at %s %s", s, TileName(at)))
}

func (pr *Problem) GoalDelivered(parcelIDs ...string) {
	for _, id := range parcelIDs {
		pr.goal = append(pr.goal, "(delivered "+pr.ParcelSymbol(id)+")")
	}
}

func (pr *Problem) GoalCarrying(agentID string, parcelIDs ...string) {
	for _, id := range parcelIDs {
		pr.goal = append(pr.goal, "(carrying "+pr.AgentSymbol(agentID)+" "+pr.ParcelSymbol(id)+")")
	}
}

func (pr *Problem) GoalAt(agentID string, at belief.Point) {
	pr.goal = append(pr.goal, "(at "+pr.AgentSymbol(agentID)+" "+TileName(at)+")")
}

func (pr *Problem) String() string {
	var b strings.Builder
	b.WriteString("(define (problem courier)\n  (:domain deliveroo)\n  (:objects")
	for _, p := range pr.grid.WalkableTiles() {
		b.WriteString(" " + TileName(p))
	}
	b.WriteString(" - position")
	if len(pr.order) > 0 {
		b.WriteString(" " + strings.Join(pr.order, " ") + " - agent")
	}
	if len(pr.parcels) > 0 {
		ps := make([]string, 0, len(pr.parcels))
		for s := range pr.parcels {
			ps = append(ps, s)
		}
		sort.Strings(ps)
		b.WriteString(" " + strings.Join(ps, " ") + " - parcel")
	}
	b.WriteString(")\n  (:init")
	for _, fact := range pr.initFacts() {
		b.WriteString(" (" + fact + ")")
	}
	b.WriteString(")\n  (:goal (and " + strings.Join(pr.goal, " ") + "))\n)\n")
	return b.String()
}

// initFacts drops the blocked facts of tiles where planned agents stand;
// those agents may leave them.
func (pr *Problem) initFacts() []string {
	own := map[string]bool{}
	for _, f := range pr.init {
		parts := strings.Fields(f)
		if len(parts) == 3 && parts[0] == "at" && pr.agents[parts[1]] != "" {
			own[parts[2]] = true
		}
	}
	out := make([]string, 0, len(pr.init)+len(own))
	for _, f := range pr.init {
		parts := strings.Fields(f)
		if len(parts) == 2 && parts[0] == "blocked" && own[parts[1]] {
			continue
		}
		out = append(out, f)
	}
	// A planned agent blocks its own tile for the others.
	for _, s := range pr.order {
		for _, f := range pr.init {
			parts := strings.Fields(f)
			if len(parts) == 3 && parts[0] == "at" && parts[1] == s {
				out = append(out, "blocked "+parts[2])
			}
		}
	}
	return out
}

// AgentStep is one decoded solver step in game terms.
type AgentStep struct {
	AgentID string
	Op      string // move | pickup | putdown
	From    belief.Point
	To      belief.Point
}

// Decode maps solver steps back to agents and tiles. Unknown actions are
// skipped; "deliver" becomes a putdown.
func (pr *Problem) Decode(steps []Step) ([]AgentStep, error) {
	out := make([]AgentStep, 0, len(steps))
	for _, st := range steps {
		if len(st.Args) == 0 {
			continue
		}
		id, ok := pr.agents[strings.ToLower(st.Args[0])]
		if !ok {
			return nil, fmt.Errorf("step %s: unknown agent %q", st.Action, st.Args[0])
		}
		switch strings.ToLower(st.Action) {
		case "move":
			if len(st.Args) != 3 {
				return nil, fmt.Errorf("move: want 3 args, got %d", len(st.Args))
			}
			from, err := ParseTileName(st.Args[1])
			if err != nil {
				return nil, err
			}
			to, err := ParseTileName(st.Args[2])
			if err != nil {
				return nil, err
			}
			out = append(out, AgentStep{AgentID: id, Op: "move", From: from, To: to})
		case "pickup":
			out = append(out, AgentStep{AgentID: id, Op: "pickup"})
		case "putdown", "deliver":
			out = append(out, AgentStep{AgentID: id, Op: "putdown"})
		}
	}
	return out, nil
}
