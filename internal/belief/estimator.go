package belief

import "time"

const (
	// DefaultSpeed is the initial seconds-per-tile estimate.
	DefaultSpeed = 0.1
	// DefaultDecay is the initial seconds-per-reward-unit estimate.
	DefaultDecay = 1.0

	maxRewardChanges = 10
)

// ema folds a fresh sample into an exponential moving average.
func ema(old, sample, lr float64) float64 {
	return old*(1-lr) + sample*lr
}

func meanDeltas(ts []time.Time) (float64, bool) {
	if len(ts) < 2 {
		return 0, false
	}
	var sum float64
	for i := 1; i < len(ts); i++ {
		sum += ts[i].Sub(ts[i-1]).Seconds()
	}
	return sum / float64(len(ts)-1), true
}

// speedEstimator tracks how long the agent takes to cross one tile, from the
// timestamps of its recent integer-position changes.
type speedEstimator struct {
	lr     float64
	window int
	value  float64
	stamps []time.Time
}

func newSpeedEstimator(lr float64, window int) *speedEstimator {
	if window < 2 {
		window = 2
	}
	return &speedEstimator{lr: lr, window: window, value: DefaultSpeed}
}

func (s *speedEstimator) observe(at time.Time) {
	s.stamps = append(s.stamps, at)
	if len(s.stamps) > s.window {
		s.stamps = s.stamps[len(s.stamps)-s.window:]
	}
	if m, ok := meanDeltas(s.stamps); ok {
		s.value = ema(s.value, m, s.lr)
	}
}

// decayEstimator tracks how long a parcel takes to lose one reward unit.
type decayEstimator struct {
	lr    float64
	value float64
}

func newDecayEstimator(lr float64) *decayEstimator {
	return &decayEstimator{lr: lr, value: DefaultDecay}
}

// observe records a reward change on p and refreshes the estimate from the
// parcel's recent history.
func (d *decayEstimator) observe(p *Parcel, at time.Time) {
	p.changes = append(p.changes, rewardChange{At: at, Reward: p.Reward})
	if len(p.changes) > maxRewardChanges {
		p.changes = p.changes[len(p.changes)-maxRewardChanges:]
	}
	var (
		sum float64
		n   int
	)
	for i := 1; i < len(p.changes); i++ {
		drop := p.changes[i-1].Reward - p.changes[i].Reward
		if drop <= 0 {
			continue
		}
		sum += p.changes[i].At.Sub(p.changes[i-1].At).Seconds() / float64(drop)
		n++
	}
	if n == 0 {
		return
	}
	d.value = ema(d.value, sum/float64(n), d.lr)
}
