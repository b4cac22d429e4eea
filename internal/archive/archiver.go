package archive

import (
	"context"
	"errors"
	"strconv"

	"github.com/loopholelabs/logging/loggers/noop"
	"github.com/loopholelabs/logging/types"

	"logcast/internal/fanout"
	"logcast/internal/logstore"
	"logcast/internal/simulator"
)

var (
	ErrInvalidOptions = errors.New("invalid options")
	ErrInvalidSource  = errors.New("invalid source")
	ErrInvalidStore   = errors.New("invalid store")
)

// ArchiverID is the subscriber id archivers use. Client ids start at 1.
const ArchiverID int64 = 0

// Source is the subset of a simulator an Archiver reads from.
type Source interface {
	Name() string
	Subscribe(id int64) (*simulator.State, error)
	Unsubscribe(id int64)
	Next(ctx context.Context, id int64) (logstore.Entry[simulator.Update], error)
}

type ArchiverOptions struct {
	Logger types.SubLogger
	Source Source
	Store  Store
}

func (o *ArchiverOptions) Validate() error {
	if o.Logger == nil {
		o.Logger = noop.New(types.InfoLevel)
	}

	if o.Source == nil {
		return ErrInvalidSource
	}

	if o.Store == nil {
		return ErrInvalidStore
	}

	return nil
}

// Archiver copies every update of one simulator into a Store.
type Archiver struct {
	logger  types.Logger
	options *ArchiverOptions
	last    int64
}

func NewArchiver(options *ArchiverOptions) (*Archiver, error) {
	if err := options.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidOptions, err)
	}
	return &Archiver{
		logger:  options.Logger.SubLogger("archiver").With().Str("simulator", options.Source.Name()).Logger(),
		options: options,
		last:    -1,
	}, nil
}

// Run archives updates until ctx is done or the source is closed. When the
// archiver falls far enough behind to be evicted it subscribes again; the
// updates it missed are logged as a gap.
func (a *Archiver) Run(ctx context.Context) error {
	source := a.options.Source
	defer source.Unsubscribe(ArchiverID)

	for {
		if _, err := source.Subscribe(ArchiverID); err != nil {
			if errors.Is(err, fanout.ErrClosed) {
				return nil
			}
			return err
		}

		for {
			entry, err := source.Next(ctx, ArchiverID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, fanout.ErrNotSubscribed) {
					a.logger.Warn().Msg("archiver lost its subscription, resubscribing")
					break
				}
				return err
			}
			if err := a.archive(ctx, entry); err != nil {
				a.logger.Error().Err(err).Str("seq", strconv.FormatInt(entry.Seq, 10)).Msg("error archiving update")
			}
		}
	}
}

func (a *Archiver) archive(ctx context.Context, entry logstore.Entry[simulator.Update]) error {
	if a.last >= 0 && entry.Seq > a.last+1 {
		a.logger.Warn().
			Str("from", strconv.FormatInt(a.last+1, 10)).
			Str("to", strconv.FormatInt(entry.Seq-1, 10)).
			Msg("updates missing from archive")
	}
	a.last = entry.Seq

	name := a.options.Source.Name()
	records := make([]Record, 0, len(entry.Value.Events))
	for _, e := range entry.Value.Events {
		records = append(records, Record{
			ID:        e.ID,
			Seq:       entry.Seq,
			Simulator: name,
			Severity:  string(e.Severity),
			Facility:  e.Facility,
			Location:  e.Location,
			Message:   e.Message,
			Timestamp: e.Timestamp,
		})
	}
	return a.options.Store.Add(ctx, records...)
}
