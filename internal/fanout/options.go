package fanout

import (
	"errors"

	"github.com/loopholelabs/logging/loggers/noop"
	"github.com/loopholelabs/logging/types"
)

var (
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidMaxBacklog = errors.New("invalid max backlog")
)

// DefaultMaxBacklog is the cap the server applies to every subscriber unless
// configured otherwise.
const DefaultMaxBacklog = 25

type Options struct {
	Logger types.SubLogger
	Name   string

	// MaxBacklog is the number of undelivered entries a subscriber may hold
	// before an Append removes it. Zero leaves backlogs unbounded.
	MaxBacklog int64
}

func (o *Options) Validate() error {
	if o.Logger == nil {
		o.Logger = noop.New(types.InfoLevel)
	}

	if o.Name == "" {
		return ErrInvalidName
	}

	if o.MaxBacklog < 0 {
		return ErrInvalidMaxBacklog
	}

	return nil
}
