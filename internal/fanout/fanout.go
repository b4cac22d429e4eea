// Package fanout broadcasts an append-only log to independent subscribers,
// each of which pulls entries at its own pace with blocking reads.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/loopholelabs/logging/types"

	"logcast/internal/logstore"
)

var (
	ErrInvalidOptions      = errors.New("invalid options")
	ErrNotSubscribed       = errors.New("not subscribed")
	ErrDuplicateSubscriber = errors.New("duplicate subscriber")
	ErrClosed              = errors.New("coordinator closed")
)

// Coordinator owns a log and the subscribers reading it. Every operation takes
// the same lock, so all of them observe one consistent view of who is
// registered and how much has been appended. The lock is never held while a
// reader blocks.
type Coordinator[K comparable, V any] struct {
	logger  types.Logger
	options *Options

	mu          sync.Mutex
	log         *logstore.Log[V]
	subscribers map[K]*subscriber
	closed      bool
}

func New[K comparable, V any](options *Options) (*Coordinator[K, V], error) {
	if err := options.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidOptions, err)
	}

	return &Coordinator[K, V]{
		logger:      options.Logger.SubLogger("fanout").With().Str("name", options.Name).Logger(),
		options:     options,
		log:         logstore.New[V](),
		subscribers: make(map[K]*subscriber),
	}, nil
}

// Subscribe registers id. The subscriber receives only entries appended after
// this call returns.
func (c *Coordinator[K, V]) Subscribe(id K) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if _, ok := c.subscribers[id]; ok {
		return ErrDuplicateSubscriber
	}

	c.subscribers[id] = &subscriber{
		cursor: c.log.Len() - 1,
		signal: newSignal(),
	}
	c.logger.Debug().Str("subscriber", idString(id)).Msg("subscribed")
	return nil
}

// Unsubscribe removes id. Any Retrieve blocked for id returns ErrNotSubscribed.
// Removing an unknown id is a no-op.
func (c *Coordinator[K, V]) Unsubscribe(id K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subscribers[id]; ok {
		c.remove(id, sub)
		c.logger.Debug().Str("subscriber", idString(id)).Msg("unsubscribed")
	}
}

// Append adds v to the log and wakes every current subscriber. With a
// MaxBacklog configured, subscribers pushed past it are removed instead.
func (c *Coordinator[K, V]) Append(v V) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.log.Append(v)
	for id, sub := range c.subscribers {
		if c.options.MaxBacklog > 0 && seq-sub.cursor > c.options.MaxBacklog {
			c.remove(id, sub)
			c.logger.Warn().Str("subscriber", idString(id)).Msg("evicted lagging subscriber")
			continue
		}
		sub.signal.raise()
	}
	return seq
}

// Retrieve returns the next entry for id, blocking until one is appended. It
// returns ErrNotSubscribed if id is unknown or is removed while waiting, and
// ctx.Err() if ctx ends first; neither consumes an entry.
func (c *Coordinator[K, V]) Retrieve(ctx context.Context, id K) (logstore.Entry[V], error) {
	c.mu.Lock()
	sub, ok := c.subscribers[id]
	if !ok {
		c.mu.Unlock()
		return logstore.Entry[V]{}, ErrNotSubscribed
	}

	for sub.cursor+1 >= c.log.Len() {
		c.mu.Unlock()
		if err := sub.signal.wait(ctx); err != nil {
			return logstore.Entry[V]{}, err
		}
		c.mu.Lock()
		if c.subscribers[id] != sub {
			c.mu.Unlock()
			return logstore.Entry[V]{}, ErrNotSubscribed
		}
	}
	defer c.mu.Unlock()

	entry, err := c.log.Get(sub.cursor + 1)
	if err != nil {
		c.logger.Error().Err(err).Str("subscriber", idString(id)).Msg("cursor ahead of log")
		return logstore.Entry[V]{}, fmt.Errorf("subscriber %s: %w", idString(id), err)
	}
	sub.cursor = entry.Seq

	// pass the wakeup on if more is waiting, in case another reader for the
	// same id is parked on the signal
	if sub.cursor+1 < c.log.Len() {
		sub.signal.raise()
	}
	return entry, nil
}

// Backlog is the number of entries appended but not yet retrieved by id.
func (c *Coordinator[K, V]) Backlog(id K) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscribers[id]
	if !ok {
		return 0, ErrNotSubscribed
	}
	return c.log.Len() - sub.cursor - 1, nil
}

// Len is the number of entries ever appended.
func (c *Coordinator[K, V]) Len() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Len()
}

// Subscribers returns the ids currently registered, in no particular order.
func (c *Coordinator[K, V]) Subscribers() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]K, 0, len(c.subscribers))
	for id := range c.subscribers {
		ids = append(ids, id)
	}
	return ids
}

// Close removes every subscriber and rejects later subscriptions. Appends are
// still accepted.
func (c *Coordinator[K, V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for id, sub := range c.subscribers {
		c.remove(id, sub)
	}
	c.logger.Info().Msg("closed")
}

// remove must be called with c.mu held.
func (c *Coordinator[K, V]) remove(id K, sub *subscriber) {
	sub.signal.release()
	delete(c.subscribers, id)
}

func idString[K comparable](id K) string {
	switch v := any(id).(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}
