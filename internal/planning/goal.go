package planning

import (
	"fmt"

	"courier.ai/internal/belief"
)

type GoalKind int

const (
	GoalNone GoalKind = iota
	GoalParcel
	GoalDelivery
	GoalExplore
)

func (k GoalKind) String() string {
	switch k {
	case GoalParcel:
		return "parcel"
	case GoalDelivery:
		return "delivery"
	case GoalExplore:
		return "exploration"
	}
	return "none"
}

// Goal is replaced wholesale, never edited. The zero value means no goal.
type Goal struct {
	Kind   GoalKind
	Target belief.Point
	// ID is the parcel id, "delivery" or "exploration".
	ID string
}

func ParcelGoal(p belief.Parcel) Goal {
	return Goal{Kind: GoalParcel, Target: p.Tile(), ID: p.ID}
}

func DeliveryGoal(at belief.Point) Goal {
	return Goal{Kind: GoalDelivery, Target: at, ID: "delivery"}
}

func ExploreGoal(at belief.Point) Goal {
	return Goal{Kind: GoalExplore, Target: at, ID: "exploration"}
}

func (g Goal) IsZero() bool { return g.Kind == GoalNone }

func (g Goal) String() string {
	if g.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s(%s)@%d,%d", g.Kind, g.ID, g.Target.X, g.Target.Y)
}
