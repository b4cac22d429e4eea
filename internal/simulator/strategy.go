package simulator

import (
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

const (
	StrategyRandom         = "random"
	StrategyUnevenLoad     = "uneven-load"
	StrategyMachineFailure = "machine-failure"
	StrategyRackFailure    = "rack-failure"
)

// Strategies lists the names accepted by NewStrategy.
var Strategies = []string{StrategyRandom, StrategyUnevenLoad, StrategyMachineFailure, StrategyRackFailure}

type Metric int

const (
	CPUUsage Metric = iota
	MemoryUsage
	ContextSwitchRate
)

// StrategyConfig selects and parameterizes a Strategy.
type StrategyConfig struct {
	Name string `koanf:"name"`

	// Machines are the failing machines for machine-failure. When empty, four
	// machines are picked at random.
	Machines []string `koanf:"machines"`

	// Rack names the subtree that fails for rack-failure, or runs cold for
	// uneven-load. Defaults to the first child of the root.
	Rack string `koanf:"rack"`

	// HotRack runs hot for uneven-load. Defaults to the last child of the root.
	HotRack string `koanf:"hot_rack"`
}

// Strategy decides how a simulator perturbs the cluster. It is only called
// with the simulator's lock held, so implementations need no locking.
type Strategy interface {
	Name() string
	// Pick chooses the origin, severity and facility of the next event.
	Pick(r *rand.Rand, machines []string) (string, Severity, string)
	// Drift returns the change applied to metric on machine this tick.
	Drift(r *rand.Rand, machine string, metric Metric) float64
	// HealthDelta is the health change caused by an event of severity.
	HealthDelta(machine string, severity Severity) float64
}

// NewStrategy builds the strategy named in cfg for the given topology.
func NewStrategy(cfg StrategyConfig, topology *Topology, r *rand.Rand) (Strategy, error) {
	switch cfg.Name {
	case "", StrategyRandom:
		return randomStrategy{}, nil
	case StrategyUnevenLoad:
		cold := subtree(topology, cfg.Rack, 0)
		hot := subtree(topology, cfg.HotRack, -1)
		return &unevenLoadStrategy{cold: cold, hot: hot}, nil
	case StrategyMachineFailure:
		bad := cfg.Machines
		if len(bad) == 0 {
			bad = sample(r, topology.Machines, 4)
		}
		set := make(map[string]bool, len(bad))
		for _, m := range bad {
			set[m] = true
		}
		return newFailureStrategy(StrategyMachineFailure, set), nil
	case StrategyRackFailure:
		return newFailureStrategy(StrategyRackFailure, subtree(topology, cfg.Rack, 0)), nil
	default:
		return nil, ErrUnknownStrategy
	}
}

var healthDelta = map[Severity]float64{
	Fatal: -0.2,
	Error: 0.05,
	Warn:  0.1,
	Info:  0.15,
}

type randomStrategy struct{}

func (randomStrategy) Name() string {
	return StrategyRandom
}

func (randomStrategy) Pick(r *rand.Rand, machines []string) (string, Severity, string) {
	return pick(r, machines), pick(r, severities), pick(r, facilities)
}

func (randomStrategy) Drift(r *rand.Rand, _ string, metric Metric) float64 {
	switch metric {
	case CPUUsage:
		return normal(r, 0, 0.1)
	default:
		return normal(r, 0, 0.05)
	}
}

func (randomStrategy) HealthDelta(_ string, severity Severity) float64 {
	return healthDelta[severity]
}

// unevenLoadStrategy runs one rack cold and another hot.
type unevenLoadStrategy struct {
	randomStrategy
	cold map[string]bool
	hot  map[string]bool
}

func (*unevenLoadStrategy) Name() string {
	return StrategyUnevenLoad
}

func (s *unevenLoadStrategy) Drift(r *rand.Rand, machine string, metric Metric) float64 {
	if metric == CPUUsage || metric == MemoryUsage {
		switch {
		case s.cold[machine]:
			return normal(r, -0.025, 0.1)
		case s.hot[machine]:
			return normal(r, 0.025, 0.1)
		}
	}
	return s.randomStrategy.Drift(r, machine, metric)
}

// failureStrategy concentrates fatal kernel errors and memory growth on a set
// of bad machines while the rest of the cluster slowly frees memory.
type failureStrategy struct {
	randomStrategy
	name string
	bad  map[string]bool

	weightedSeverities []Severity
	weightedFacilities []string
}

func newFailureStrategy(name string, bad map[string]bool) *failureStrategy {
	s := &failureStrategy{
		name:               name,
		bad:                bad,
		weightedSeverities: slices.Clone(severities),
		weightedFacilities: slices.Clone(facilities),
	}
	for i := 0; i < 4; i++ {
		s.weightedSeverities = append(s.weightedSeverities, Fatal)
		s.weightedFacilities = append(s.weightedFacilities, "KERNEL")
	}
	for i := 0; i < 3; i++ {
		s.weightedSeverities = append(s.weightedSeverities, Error)
	}
	return s
}

func (s *failureStrategy) Name() string {
	return s.name
}

func (s *failureStrategy) Pick(r *rand.Rand, machines []string) (string, Severity, string) {
	// bad machines are four times as likely to log
	weighted := make([]string, 0, len(machines)+3*len(s.bad))
	for _, m := range machines {
		weighted = append(weighted, m)
		if s.bad[m] {
			weighted = append(weighted, m, m, m)
		}
	}
	machine := pick(r, weighted)
	if s.bad[machine] {
		return machine, pick(r, s.weightedSeverities), pick(r, s.weightedFacilities)
	}
	return machine, pick(r, severities), pick(r, facilities)
}

func (s *failureStrategy) Drift(r *rand.Rand, machine string, metric Metric) float64 {
	if metric == MemoryUsage {
		if s.bad[machine] {
			return normal(r, 0.02, 0.05)
		}
		return normal(r, -0.025, 0.05)
	}
	return s.randomStrategy.Drift(r, machine, metric)
}

func normal(r *rand.Rand, mean, stddev float64) float64 {
	return r.NormFloat64()*stddev + mean
}

func pick[T any](r *rand.Rand, from []T) T {
	var zero T
	if len(from) == 0 {
		return zero
	}
	return from[r.IntN(len(from))]
}

func sample(r *rand.Rand, from []string, n int) []string {
	if n >= len(from) {
		return slices.Clone(from)
	}
	out := make([]string, 0, n)
	for _, i := range r.Perm(len(from))[:n] {
		out = append(out, from[i])
	}
	return out
}

// subtree returns the machines under the node called name. An empty name
// selects the root's child at index (negative counts from the end). A name
// that matches no node is treated as a prefix, so "machine1" selects
// "machine1-1", "machine1-2", ...
func subtree(topology *Topology, name string, index int) map[string]bool {
	out := make(map[string]bool)
	root := topology.Structure
	if root == nil {
		return out
	}
	var node *Node
	if name == "" {
		if len(root.Children) == 0 {
			return out
		}
		if index < 0 {
			index += len(root.Children)
		}
		node = root.Children[index]
	} else {
		node = find(root, name)
	}
	if node == nil {
		for _, m := range topology.Machines {
			if strings.HasPrefix(m, name) {
				out[m] = true
			}
		}
		return out
	}
	for _, m := range node.Flatten() {
		out[m] = true
	}
	return out
}

func find(n *Node, name string) *Node {
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := find(c, name); found != nil {
			return found
		}
	}
	return nil
}
