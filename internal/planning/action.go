package planning

import "courier.ai/internal/belief"

type Action string

const (
	Up      Action = "up"
	Down    Action = "down"
	Left    Action = "left"
	Right   Action = "right"
	Pickup  Action = "pickup"
	Putdown Action = "putdown"
	None    Action = "none"
)

// Up and down move along y, left and right along x.
func (a Action) Delta() (dx, dy int, ok bool) {
	switch a {
	case Up:
		return 0, 1, true
	case Down:
		return 0, -1, true
	case Left:
		return -1, 0, true
	case Right:
		return 1, 0, true
	}
	return 0, 0, false
}

func (a Action) IsMove() bool {
	_, _, ok := a.Delta()
	return ok
}

func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case Up, Down, Left, Right, Pickup, Putdown, None:
		return a, true
	}
	return "", false
}

// Apply returns where a lands from p. Non-move actions stay put.
func Apply(p belief.Point, a Action) belief.Point {
	dx, dy, _ := a.Delta()
	return p.Add(dx, dy)
}

// DirectionTo names the single step from one tile to an adjacent one.
func DirectionTo(from, to belief.Point) (Action, bool) {
	switch {
	case to.X == from.X && to.Y == from.Y+1:
		return Up, true
	case to.X == from.X && to.Y == from.Y-1:
		return Down, true
	case to.Y == from.Y && to.X == from.X-1:
		return Left, true
	case to.Y == from.Y && to.X == from.X+1:
		return Right, true
	}
	return "", false
}

func Strings(actions []Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}

// ParseActions drops anything outside the action vocabulary.
func ParseActions(ss []string) []Action {
	out := make([]Action, 0, len(ss))
	for _, s := range ss {
		if a, ok := ParseAction(s); ok {
			out = append(out, a)
		}
	}
	return out
}
