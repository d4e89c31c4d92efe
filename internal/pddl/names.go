package pddl

import (
	"fmt"
	"strconv"
	"strings"

	"courier.ai/internal/belief"
)

// TileName encodes a tile as a PDDL object name.
func TileName(p belief.Point) string {
	return "y" + strconv.Itoa(p.Y) + "_x" + strconv.Itoa(p.X)
}

func ParseTileName(s string) (belief.Point, error) {
	ys, xs, ok := strings.Cut(strings.ToLower(s), "_")
	if !ok || len(ys) < 2 || len(xs) < 2 || ys[0] != 'y' || xs[0] != 'x' {
		return belief.Point{}, fmt.Errorf("bad tile object %q", s)
	}
	y, err := strconv.Atoi(ys[1:])
	if err != nil {
		return belief.Point{}, fmt.Errorf("bad tile object %q: %w", s, err)
	}
	x, err := strconv.Atoi(xs[1:])
	if err != nil {
		return belief.Point{}, fmt.Errorf("bad tile object %q: %w", s, err)
	}
	return belief.Point{X: x, Y: y}, nil
}

// symbol turns an arbitrary game id into a PDDL-safe name.
func symbol(prefix, id string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
