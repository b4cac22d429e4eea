// Package simulator manufactures a stream of cluster log updates and publishes
// them to subscribers through a fan-out log.
package simulator

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopholelabs/logging/loggers/noop"
	"github.com/loopholelabs/logging/types"

	"logcast/internal/fanout"
	"logcast/internal/logstore"
)

var (
	ErrInvalidOptions  = errors.New("invalid options")
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidTopology = errors.New("invalid topology")
	ErrInvalidTick     = errors.New("invalid tick")
	ErrCreatingFanout  = errors.New("error creating fanout")
	ErrUnknownMachine  = errors.New("unknown machine")
	ErrMachineExists   = errors.New("machine already exists")
	ErrRootMachine     = errors.New("cannot remove root machine")
)

const DefaultTick = 2 * time.Second

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

type Options struct {
	Logger   types.SubLogger
	Name     string
	Topology *Topology
	Strategy StrategyConfig

	// Tick is the upper bound of the random delay between two updates.
	Tick time.Duration

	// MaxBacklog is passed to the fan-out log; see fanout.Options.
	MaxBacklog int64

	// Seed fixes the random source. Zero seeds from the runtime.
	Seed uint64
}

func (o *Options) Validate() error {
	if o.Logger == nil {
		o.Logger = noop.New(types.InfoLevel)
	}

	if o.Name == "" {
		return ErrInvalidName
	}

	if o.Topology == nil || len(o.Topology.Machines) == 0 {
		return ErrInvalidTopology
	}
	if o.Topology.Structure == nil {
		o.Topology.Structure = flatStructure(o.Topology.Machines)
	}

	if o.Tick == 0 {
		o.Tick = DefaultTick
	}
	if o.Tick < 0 {
		return ErrInvalidTick
	}

	return nil
}

// State is what a new subscriber needs to interpret the updates that follow.
type State struct {
	Nodes     map[string]NodeState `json:"currentState"`
	Structure *Node                `json:"structure"`
}

type Simulator struct {
	logger  types.Logger
	options *Options
	fanout  *fanout.Coordinator[int64, Update]

	// mu guards everything below and is held across Append so that a
	// subscriber's snapshot and its first update line up.
	mu        sync.Mutex
	rand      *rand.Rand
	strategy  Strategy
	machines  []string
	structure *Node
	nodes     map[string]*NodeState
}

func New(options *Options) (*Simulator, error) {
	var err error
	if err = options.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidOptions, err)
	}

	logger := options.Logger.SubLogger("simulator").With().Str("name", options.Name).Logger()

	seed := options.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	r := rand.New(rand.NewPCG(seed, seed>>1|1))

	strategy, err := NewStrategy(options.Strategy, options.Topology, r)
	if err != nil {
		return nil, errors.Join(ErrInvalidOptions, err)
	}

	coordinator, err := fanout.New[int64, Update](&fanout.Options{
		Logger:     options.Logger,
		Name:       options.Name,
		MaxBacklog: options.MaxBacklog,
	})
	if err != nil {
		return nil, errors.Join(ErrCreatingFanout, err)
	}

	s := &Simulator{
		logger:    logger,
		options:   options,
		fanout:    coordinator,
		rand:      r,
		strategy:  strategy,
		machines:  slices.Clone(options.Topology.Machines),
		structure: options.Topology.Structure.clone(),
		nodes:     make(map[string]*NodeState, len(options.Topology.Machines)),
	}
	now := time.Now()
	for _, name := range s.machines {
		s.nodes[name] = newNodeState(name, normal(r, 60, 1), now)
	}
	return s, nil
}

func (s *Simulator) Name() string {
	return s.options.Name
}

func (s *Simulator) StrategyName() string {
	return s.strategy.Name()
}

// Run produces updates at random intervals until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info().Str("strategy", s.strategy.Name()).Msg("simulator started")
	for {
		timer := time.NewTimer(s.delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("simulator stopped")
			return nil
		case <-timer.C:
			s.Tick()
		}
	}
}

// Tick generates one update, applies it to the simulated state and appends it
// to the log.
func (s *Simulator) Tick() Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	update := s.next(time.Now())
	for name, delta := range update.StateChange {
		s.nodes[name].apply(delta)
	}
	seq := s.fanout.Append(update)
	s.logger.Debug().Str("seq", strconv.FormatInt(seq, 10)).Msg("appended update")
	return update
}

// Subscribe registers a client and returns the state its updates apply to.
func (s *Simulator) Subscribe(id int64) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fanout.Subscribe(id); err != nil {
		return nil, err
	}
	return s.state(), nil
}

func (s *Simulator) Unsubscribe(id int64) {
	s.fanout.Unsubscribe(id)
}

// Next blocks until the next update for id is available.
func (s *Simulator) Next(ctx context.Context, id int64) (logstore.Entry[Update], error) {
	return s.fanout.Retrieve(ctx, id)
}

func (s *Simulator) Backlog(id int64) (int64, error) {
	return s.fanout.Backlog(id)
}

func (s *Simulator) Clients() []int64 {
	ids := s.fanout.Subscribers()
	slices.Sort(ids)
	return ids
}

// Updates is the number of updates produced so far.
func (s *Simulator) Updates() int64 {
	return s.fanout.Len()
}

// Close disconnects every client.
func (s *Simulator) Close() {
	s.fanout.Close()
}

// State returns a copy of the current cluster state.
func (s *Simulator) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

// AddMachine adds a machine under parent, or under the root when parent is
// empty.
func (s *Simulator) AddMachine(name, parent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[name]; ok {
		return ErrMachineExists
	}
	at := s.structure
	if parent != "" {
		if at = find(s.structure, parent); at == nil {
			return ErrUnknownMachine
		}
	}
	at.Children = append(at.Children, &Node{Name: name})
	s.machines = append(s.machines, name)
	s.nodes[name] = newNodeState(name, normal(s.rand, 60, 1), time.Now())
	s.logger.Info().Str("machine", name).Msg("machine added")
	return nil
}

// RemoveMachine drops a machine; its children move up to its parent.
func (s *Simulator) RemoveMachine(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[name]; !ok {
		return ErrUnknownMachine
	}
	if s.structure.Name == name {
		return ErrRootMachine
	}
	s.structure.remove(name)
	s.machines = slices.DeleteFunc(s.machines, func(m string) bool { return m == name })
	delete(s.nodes, name)
	s.logger.Info().Str("machine", name).Msg("machine removed")
	return nil
}

func (s *Simulator) state() *State {
	nodes := make(map[string]NodeState, len(s.nodes))
	for name, n := range s.nodes {
		nodes[name] = n.copy()
	}
	return &State{Nodes: nodes, Structure: s.structure.clone()}
}

func (s *Simulator) delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.rand.Int64N(int64(s.options.Tick)))
}

// next must be called with s.mu held.
func (s *Simulator) next(now time.Time) Update {
	update := Update{Events: []Event{}, StateChange: make(map[string]NodeDelta)}
	if len(s.machines) == 0 {
		return update
	}

	n := s.rand.IntN(5) + 1
	for i := 0; i < n; i++ {
		update.Events = append(update.Events, s.event(now))
	}
	for _, e := range update.Events {
		s.eventChange(update.StateChange, e)
	}

	// usage also drifts on len(machines) machines drawn with replacement,
	// whether or not they logged anything
	for range s.machines {
		name := pick(s.rand, s.machines)
		d := update.StateChange[name]
		s.drift(&d, name)
		update.StateChange[name] = d
	}
	return update
}

func (s *Simulator) event(now time.Time) Event {
	location, severity, facility := s.strategy.Pick(s.rand, s.machines)
	msg := make([]byte, s.rand.IntN(50))
	for i := range msg {
		msg[i] = letters[s.rand.IntN(len(letters))]
	}
	return Event{
		ID:        uuid.NewString(),
		Message:   string(msg),
		Severity:  severity,
		Facility:  facility,
		Location:  location,
		Timestamp: now,
	}
}

func (s *Simulator) eventChange(change map[string]NodeDelta, e Event) {
	node := s.nodes[e.Location]
	d := change[e.Location]
	d.Events = append(d.Events, e)

	avg := value(d.AverageMinutesBetweenFailures, node.AverageMinutesBetweenFailures)
	if e.Severity == Fatal {
		last := node.LastFailureTime
		if d.LastFailureTime != nil {
			last = d.LastFailureTime
		}
		if last != nil {
			avg = (avg + e.Timestamp.Sub(*last).Minutes()) / 2
			d.AverageMinutesBetweenFailures = ptr(avg)
		}
		d.LastFailureTime = ptr(e.Timestamp)
		d.PredictedFailureTime = ptr(e.Timestamp.Add(minutes(avg)))
	} else if value(d.PredictedFailureTime, node.PredictedFailureTime).Before(e.Timestamp) {
		d.PredictedFailureTime = ptr(e.Timestamp.Add(minutes(avg)))
	}

	health := value(d.Health, node.Health)
	d.Health = ptr(clamp(health + s.strategy.HealthDelta(e.Location, e.Severity)))

	p := value(d.PredictedSeverityProbabilities, node.PredictedSeverityProbabilities)
	d.PredictedSeverityProbabilities = &SeverityProbabilities{
		Fatal: clamp(p.Fatal + normal(s.rand, 0, 0.02)),
		Error: clamp(p.Error + normal(s.rand, 0, 0.05)),
		Warn:  clamp(p.Warn + normal(s.rand, 0, 0.05)),
		Info:  clamp(p.Info + normal(s.rand, 0, 0.05)),
	}

	s.drift(&d, e.Location)
	change[e.Location] = d
}

func (s *Simulator) drift(d *NodeDelta, name string) {
	node := s.nodes[name]
	d.CPUUsage = ptr(clamp(value(d.CPUUsage, node.CPUUsage) + s.strategy.Drift(s.rand, name, CPUUsage)))
	d.MemoryUsage = ptr(clamp(value(d.MemoryUsage, node.MemoryUsage) + s.strategy.Drift(s.rand, name, MemoryUsage)))
	d.ContextSwitchRate = ptr(clamp(value(d.ContextSwitchRate, node.ContextSwitchRate) + s.strategy.Drift(s.rand, name, ContextSwitchRate)))
}

// value returns *p if set, otherwise fallback.
func value[T any](p *T, fallback T) T {
	if p != nil {
		return *p
	}
	return fallback
}
