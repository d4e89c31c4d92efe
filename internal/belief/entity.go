package belief

import "time"

type Agent struct {
	ID    string
	Name  string
	X     float64
	Y     float64
	Score int

	Visible bool
	// External is set while the latest sighting came from a teammate message.
	External bool
}

func (a Agent) Tile() Point { return Round(a.X, a.Y) }

// OnTile reports whether the agent stands exactly on a tile (not mid-move).
func (a Agent) OnTile() bool { return IsInteger(a.X, a.Y) }

type Parcel struct {
	ID        string
	X         float64
	Y         float64
	CarriedBy string
	Reward    int

	Visible  bool
	External bool

	// Reward-change history, newest last.
	changes []rewardChange
}

type rewardChange struct {
	At     time.Time
	Reward int
}

func (p Parcel) Tile() Point { return Round(p.X, p.Y) }

func (p Parcel) Carried() bool { return p.CarriedBy != "" }

// observed means the reward is being refreshed by our own sensors.
func (p Parcel) observed() bool { return p.Visible && !p.External }
