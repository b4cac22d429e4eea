package archive

import (
	"context"
	"sync"
)

const DefaultRingSize = 1000

// Ring is a fixed-size circular buffer of records safe for concurrent use.
type Ring struct {
	mu   sync.RWMutex
	buf  []Record
	size int
	head int
	full bool
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{buf: make([]Record, size), size: size}
}

func (r *Ring) Add(_ context.Context, records ...Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.buf[r.head] = rec
		r.head = (r.head + 1) % r.size
		if r.head == 0 {
			r.full = true
		}
	}
	return nil
}

// All returns the buffered records, oldest first.
func (r *Ring) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	if r.full {
		out = append(out, r.buf[r.head:]...)
	}
	out = append(out, r.buf[:r.head]...)
	return out
}

func (r *Ring) Get(_ context.Context, id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// unused slots hold zero records, so an empty id never matches
	if id == "" {
		return Record{}, ErrNotFound
	}
	for _, rec := range r.buf {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

func (r *Ring) Recent(_ context.Context, simulator string, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}
	all := r.All()
	out := make([]Record, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if simulator == "" || all[i].Simulator == simulator {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (r *Ring) Close() error {
	return nil
}
