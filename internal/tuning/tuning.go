package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"courier.ai/internal/pddl"
)

type Tuning struct {
	TickMs              int `yaml:"tick_ms"`
	ActionErrorPatience int `yaml:"action_error_patience"`

	ParcelDecayLearningRate float64 `yaml:"parcel_decay_learning_rate"`
	SpeedLearningRate       float64 `yaml:"speed_learning_rate"`
	SpeedWindow             int     `yaml:"speed_window"`

	CumulativeCarryPenalty float64 `yaml:"cumulative_carry_penalty"`
	ProbabilisticPenalty   bool    `yaml:"probabilistic_penalty"`
	TrafficPenalty         bool    `yaml:"traffic_penalty"`

	Coordination string `yaml:"coordination"` // distributed | leader
	Planner      string `yaml:"planner"`      // local | solver
	MaxParcels   int    `yaml:"max_parcels"`

	LeaderElectionTimeoutMs int `yaml:"leader_election_timeout_ms"`
	AskForPlanAfterTicks    int `yaml:"ask_for_plan_after_ticks"`
	InformEveryTicks        int `yaml:"inform_every_ticks"`
	DispatchStallTicks      int `yaml:"dispatch_stall_ticks"`

	SolverURL       string `yaml:"solver_url"`
	SolverTimeoutMs int    `yaml:"solver_timeout_ms"`

	LogLevel string `yaml:"log_level"` // debug | info | warn
	PrintMap bool   `yaml:"print_map"`
	Seed     int64  `yaml:"seed"`

	Arena Arena `yaml:"arena"`
}

// Arena configures the local game server used for development runs.
type Arena struct {
	Layout                []string `yaml:"layout"`
	TickRateHz            int      `yaml:"tick_rate_hz"`
	ObsRadius             int      `yaml:"obs_radius"`
	ParcelSpawnEveryTicks int      `yaml:"parcel_spawn_every_ticks"`
	MaxParcels            int      `yaml:"max_parcels"`
	RewardMin             int      `yaml:"reward_min"`
	RewardMax             int      `yaml:"reward_max"`
	DecayEveryTicks       int      `yaml:"decay_every_ticks"`
}

const (
	ModeDistributed = "distributed"
	ModeLeader      = "leader"

	PlannerLocal  = "local"
	PlannerSolver = "solver"
)

func Defaults() Tuning {
	return Tuning{
		TickMs:                  100,
		ActionErrorPatience:     3,
		ParcelDecayLearningRate: 0.01,
		SpeedLearningRate:       0.5,
		SpeedWindow:             90,
		CumulativeCarryPenalty:  0.5,
		Coordination:            ModeDistributed,
		Planner:                 PlannerLocal,
		MaxParcels:              5,
		LeaderElectionTimeoutMs: 2500,
		AskForPlanAfterTicks:    10,
		InformEveryTicks:        5,
		DispatchStallTicks:      50,
		SolverURL:               pddl.DefaultSolverURL,
		SolverTimeoutMs:         10000,
		LogLevel:                "warn",
		Arena: Arena{
			TickRateHz:            10,
			ObsRadius:             5,
			ParcelSpawnEveryTicks: 20,
			MaxParcels:            6,
			RewardMin:             10,
			RewardMax:             30,
			DecayEveryTicks:       10,
		},
	}
}

// Load reads path over the defaults, so a file only needs the fields it
// changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickMs <= 0 {
		errs = append(errs, fmt.Errorf("tick_ms must be positive, got %d", t.TickMs))
	}
	if t.ActionErrorPatience < 1 {
		errs = append(errs, fmt.Errorf("action_error_patience must be at least 1, got %d", t.ActionErrorPatience))
	}
	if t.ParcelDecayLearningRate <= 0 || t.ParcelDecayLearningRate > 1 {
		errs = append(errs, fmt.Errorf("parcel_decay_learning_rate must be in (0,1], got %g", t.ParcelDecayLearningRate))
	}
	if t.SpeedLearningRate <= 0 || t.SpeedLearningRate > 1 {
		errs = append(errs, fmt.Errorf("speed_learning_rate must be in (0,1], got %g", t.SpeedLearningRate))
	}
	if t.SpeedWindow < 2 {
		errs = append(errs, fmt.Errorf("speed_window must be at least 2, got %d", t.SpeedWindow))
	}
	if t.CumulativeCarryPenalty < 0 {
		errs = append(errs, fmt.Errorf("cumulative_carry_penalty must not be negative"))
	}
	switch t.Coordination {
	case ModeDistributed, ModeLeader:
	default:
		errs = append(errs, fmt.Errorf("coordination must be %q or %q, got %q", ModeDistributed, ModeLeader, t.Coordination))
	}
	switch t.Planner {
	case PlannerLocal:
	case PlannerSolver:
		if t.SolverURL == "" {
			errs = append(errs, errors.New("solver_url is required with the solver planner"))
		}
	default:
		errs = append(errs, fmt.Errorf("planner must be %q or %q, got %q", PlannerLocal, PlannerSolver, t.Planner))
	}
	if t.MaxParcels < 1 {
		errs = append(errs, fmt.Errorf("max_parcels must be at least 1, got %d", t.MaxParcels))
	}
	if t.LeaderElectionTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("leader_election_timeout_ms must be positive"))
	}
	switch t.LogLevel {
	case "debug", "info", "warn":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info or warn, got %q", t.LogLevel))
	}
	return errors.Join(errs...)
}

func (t Tuning) Tick() time.Duration { return time.Duration(t.TickMs) * time.Millisecond }

func (t Tuning) ElectionTimeout() time.Duration {
	return time.Duration(t.LeaderElectionTimeoutMs) * time.Millisecond
}

func (t Tuning) SolverTimeout() time.Duration {
	return time.Duration(t.SolverTimeoutMs) * time.Millisecond
}
