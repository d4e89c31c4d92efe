package belief

import "testing"

func TestPointKey_RoundTrip(t *testing.T) {
	for y := -3; y < 40; y++ {
		for x := -3; x < 40; x++ {
			p := Point{X: x, Y: y}
			if got := PointFromKey(p.Key()); got != p {
				t.Fatalf("round trip %v -> %v", p, got)
			}
		}
	}
	if (Point{X: 1, Y: 2}).Key() == (Point{X: 2, Y: 1}).Key() {
		t.Fatalf("swapped coordinates collide")
	}
}

func TestRound(t *testing.T) {
	cases := []struct {
		x, y float64
		want Point
	}{
		{0, 0, Point{0, 0}},
		{0.4, 1.6, Point{0, 2}},
		{0.5, 1.5, Point{1, 2}},
		{2.6, 3.4, Point{3, 3}},
	}
	for _, c := range cases {
		if got := Round(c.x, c.y); got != c.want {
			t.Fatalf("Round(%v,%v)=%v want %v", c.x, c.y, got, c.want)
		}
	}
	if IsInteger(0.6, 1) || !IsInteger(3, 4) {
		t.Fatalf("IsInteger mismatch")
	}
}
