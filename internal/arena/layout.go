package arena

import (
	"fmt"
	"strings"

	"courier.ai/internal/protocol"
)

// ParseLayout reads a text map. The first row is the top of the map
// (highest y). '.' is walkable, 'D' is a delivery station and any of
// "# " is a wall.
func ParseLayout(rows []string) (width, height int, tiles []protocol.MapTile, err error) {
	var clean []string
	for _, r := range rows {
		r = strings.TrimRight(r, "\r")
		if strings.TrimSpace(r) == "" {
			continue
		}
		clean = append(clean, r)
	}
	if len(clean) == 0 {
		return 0, 0, nil, fmt.Errorf("empty layout")
	}
	height = len(clean)
	for _, r := range clean {
		if len(r) > width {
			width = len(r)
		}
	}
	for i, r := range clean {
		y := height - 1 - i
		for x, ch := range r {
			switch ch {
			case '.':
				tiles = append(tiles, protocol.MapTile{X: x, Y: y})
			case 'D', 'd':
				tiles = append(tiles, protocol.MapTile{X: x, Y: y, Delivery: true})
			case '#', ' ':
			default:
				return 0, 0, nil, fmt.Errorf("layout row %d: unexpected %q", i, ch)
			}
		}
	}
	return width, height, tiles, nil
}

// DefaultLayout is a small open map with a delivery station in each corner.
var DefaultLayout = []string{
	"D........D",
	"..........",
	"..##..##..",
	"..........",
	"..........",
	"..##..##..",
	"..........",
	"D........D",
}
