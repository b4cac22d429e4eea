// Package archive keeps a searchable history of simulated events. It is fed by
// a regular fan-out subscriber and is never replayed into a log.
package archive

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Record is one archived event.
type Record struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Simulator string    `json:"simulator"`
	Severity  string    `json:"severity"`
	Facility  string    `json:"facility"`
	Location  string    `json:"location"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Store interface {
	Add(ctx context.Context, records ...Record) error
	// Recent returns up to limit records, newest first. An empty simulator
	// matches every simulator.
	Recent(ctx context.Context, simulator string, limit int) ([]Record, error)
	// Get returns the record with the given event id, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)
	Close() error
}
