package logstore

import (
	"errors"
)

var ErrOutOfRange = errors.New("sequence out of range")

// Entry is one value appended to a Log along with the sequence it was assigned.
type Entry[V any] struct {
	Seq   int64 `json:"seq"`
	Value V     `json:"value"`
}

// Log is an unbounded, append-only sequence of entries. Sequences are dense and
// start at 0. A Log does no locking of its own: a single writer appends while
// readers index by sequence, and the owner serializes the two.
type Log[V any] struct {
	entries []Entry[V]
}

func New[V any]() *Log[V] {
	return &Log[V]{entries: make([]Entry[V], 0, 64)}
}

// Append stores v and returns the sequence assigned to it.
func (l *Log[V]) Append(v V) int64 {
	seq := int64(len(l.entries))
	l.entries = append(l.entries, Entry[V]{Seq: seq, Value: v})
	return seq
}

// Get returns the entry at seq, or ErrOutOfRange.
func (l *Log[V]) Get(seq int64) (Entry[V], error) {
	if seq < 0 || seq >= int64(len(l.entries)) {
		return Entry[V]{}, ErrOutOfRange
	}
	return l.entries[seq], nil
}

// Len is the number of entries ever appended.
func (l *Log[V]) Len() int64 {
	return int64(len(l.entries))
}
