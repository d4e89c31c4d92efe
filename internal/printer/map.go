package printer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"courier.ai/internal/belief"
)

var (
	selfColor     = color.New(color.FgGreen, color.Bold)
	agentColor    = color.New(color.FgRed)
	deliveryColor = color.New(color.FgCyan)
	valueColor    = color.New(color.FgYellow)
)

// RenderMap draws the belief grid in a box, top row first. Each cell is
// three columns: I for the agent itself, A for another agent, D for a
// delivery station, blank for a wall, otherwise the tile's parcel value.
func RenderMap(v *belief.View, colored bool) string {
	g := v.Grid
	if g == nil {
		return ""
	}
	me := v.Me.Tile()
	paint := func(c *color.Color, s string) string {
		if !colored {
			return s
		}
		return c.Sprint(s)
	}

	var b strings.Builder
	b.WriteString("┌" + strings.Repeat("─", g.Width()*3) + "┐\n")
	for y := g.Height() - 1; y >= 0; y-- {
		b.WriteString("│")
		for x := 0; x < g.Width(); x++ {
			p := belief.Point{X: x, Y: y}
			t, _ := g.Tile(p)
			switch {
			case p == me && v.Me.ID != "":
				b.WriteString(paint(selfColor, "  I"))
			case t.Occupied:
				b.WriteString(paint(agentColor, "  A"))
			case t.Delivery:
				b.WriteString(paint(deliveryColor, "  D"))
			case !t.Walkable:
				b.WriteString("   ")
			case t.Value > 0:
				b.WriteString(paint(valueColor, fmt.Sprintf("%3s", cell(t.Value))))
			default:
				b.WriteString("  0")
			}
		}
		b.WriteString("│\n")
	}
	b.WriteString("└" + strings.Repeat("─", g.Width()*3) + "┘\n")
	return b.String()
}

// cell keeps large values inside the three-column cell.
func cell(v int) string {
	if v > 99 {
		return "99+"
	}
	return strconv.Itoa(v)
}

func PrintMap(v *belief.View) {
	fmt.Print(RenderMap(v, !color.NoColor))
}
