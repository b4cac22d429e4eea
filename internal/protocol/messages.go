// Package protocol defines the JSON bodies exchanged by the server and its
// clients.
package protocol

import (
	"logcast/internal/simulator"
)

const (
	MessageNotSubscribed    = "Not subscribed"
	MessageInvalidClientID  = "clientId should be a valid integer client id"
	MessageUnknownSimulator = "unknown simulator"
	MessageUnauthorized     = "unauthorized"
	MessageStreamClient     = "clientId belongs to a websocket stream"
)

type Status struct {
	Successful bool   `json:"successful"`
	Message    string `json:"message,omitempty"`
}

type Subscribe struct {
	Status
	ClientID     int64                          `json:"clientId"`
	Simulator    string                         `json:"simulator"`
	CurrentState map[string]simulator.NodeState `json:"currentState"`
	Structure    *simulator.Node                `json:"structure"`
}

type ChangeSimulator struct {
	Status
	Simulator    string                         `json:"simulator,omitempty"`
	CurrentState map[string]simulator.NodeState `json:"currentState,omitempty"`
	Structure    *simulator.Node                `json:"structure,omitempty"`
}

// Update carries one entry of a simulator's log. The websocket stream sends
// the same body.
type Update struct {
	Status
	Seq         int64                          `json:"seq"`
	Events      []simulator.Event              `json:"events,omitempty"`
	StateChange map[string]simulator.NodeDelta `json:"stateChange,omitempty"`
}

type Backlog struct {
	Status
	Backlog int64 `json:"backlog"`
}

type SimulatorInfo struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
	Clients  int    `json:"clients"`
	Updates  int64  `json:"updates"`
}

type ClientInfo struct {
	ID        int64  `json:"id"`
	Simulator string `json:"simulator"`
	Backlog   int64  `json:"backlog"`
}

type Machine struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
}
