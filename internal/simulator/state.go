package simulator

import (
	"time"
)

type Severity string

const (
	Fatal Severity = "FATAL"
	Error Severity = "ERROR"
	Warn  Severity = "WARN"
	Info  Severity = "INFO"
)

var (
	severities = []Severity{Fatal, Warn, Info, Error}
	facilities = []string{"MMCS", "APP", "KERNEL", "LINKCARD", "MONITOR", "HARDWARE", "DISCOVERY"}
)

// maxNodeEvents bounds the per-node event history kept in the state snapshot.
const maxNodeEvents = 20

// Event is a single simulated log line.
type Event struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Facility  string    `json:"facility"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

type SeverityProbabilities struct {
	Fatal float64 `json:"FATAL"`
	Error float64 `json:"ERROR"`
	Warn  float64 `json:"WARN"`
	Info  float64 `json:"INFO"`
}

// NodeState is the simulated condition of one machine. Usage metrics and
// health are in [0, 1].
type NodeState struct {
	Name                           string                `json:"name"`
	CPUUsage                       float64               `json:"cpuUsage"`
	MemoryUsage                    float64               `json:"memoryUsage"`
	ContextSwitchRate              float64               `json:"contextSwitchRate"`
	Health                         float64               `json:"health"`
	Events                         []Event               `json:"events"`
	LastFailureTime                *time.Time            `json:"lastFailureTime"`
	PredictedFailureTime           time.Time             `json:"predictedFailureTime"`
	PredictedSeverityProbabilities SeverityProbabilities `json:"predictedSeverityProbabilities"`
	AverageMinutesBetweenFailures  float64               `json:"averageMinutesBetweenFailures"`
}

// NodeDelta carries only the fields of a NodeState that changed in one tick.
type NodeDelta struct {
	Events                         []Event                `json:"events,omitempty"`
	CPUUsage                       *float64               `json:"cpuUsage,omitempty"`
	MemoryUsage                    *float64               `json:"memoryUsage,omitempty"`
	ContextSwitchRate              *float64               `json:"contextSwitchRate,omitempty"`
	Health                         *float64               `json:"health,omitempty"`
	LastFailureTime                *time.Time             `json:"lastFailureTime,omitempty"`
	PredictedFailureTime           *time.Time             `json:"predictedFailureTime,omitempty"`
	PredictedSeverityProbabilities *SeverityProbabilities `json:"predictedSeverityProbabilities,omitempty"`
	AverageMinutesBetweenFailures  *float64               `json:"averageMinutesBetweenFailures,omitempty"`
}

// Update is the payload appended to a simulator's log on every tick. Once
// appended it is shared by every subscriber and never modified.
type Update struct {
	Events      []Event              `json:"events"`
	StateChange map[string]NodeDelta `json:"stateChange"`
}

func newNodeState(name string, avgMinutes float64, now time.Time) *NodeState {
	return &NodeState{
		Name:                 name,
		CPUUsage:             0.2,
		MemoryUsage:          0.3,
		ContextSwitchRate:    0.1,
		Health:               0.9,
		Events:               []Event{},
		PredictedFailureTime: now.Add(minutes(avgMinutes)),
		PredictedSeverityProbabilities: SeverityProbabilities{
			Fatal: 0.05,
			Error: 0.1,
			Warn:  0.2,
			Info:  0.5,
		},
		AverageMinutesBetweenFailures: avgMinutes,
	}
}

func (n *NodeState) apply(d NodeDelta) {
	if len(d.Events) > 0 {
		n.Events = append(n.Events, d.Events...)
		if over := len(n.Events) - maxNodeEvents; over > 0 {
			n.Events = append([]Event{}, n.Events[over:]...)
		}
	}
	if d.CPUUsage != nil {
		n.CPUUsage = *d.CPUUsage
	}
	if d.MemoryUsage != nil {
		n.MemoryUsage = *d.MemoryUsage
	}
	if d.ContextSwitchRate != nil {
		n.ContextSwitchRate = *d.ContextSwitchRate
	}
	if d.Health != nil {
		n.Health = *d.Health
	}
	if d.LastFailureTime != nil {
		t := *d.LastFailureTime
		n.LastFailureTime = &t
	}
	if d.PredictedFailureTime != nil {
		n.PredictedFailureTime = *d.PredictedFailureTime
	}
	if d.PredictedSeverityProbabilities != nil {
		n.PredictedSeverityProbabilities = *d.PredictedSeverityProbabilities
	}
	if d.AverageMinutesBetweenFailures != nil {
		n.AverageMinutesBetweenFailures = *d.AverageMinutesBetweenFailures
	}
}

func (n *NodeState) copy() NodeState {
	c := *n
	c.Events = append([]Event{}, n.Events...)
	if n.LastFailureTime != nil {
		t := *n.LastFailureTime
		c.LastFailureTime = &t
	}
	return c
}

// clamp limits v to [0, 1].
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func ptr[T any](v T) *T {
	return &v
}
