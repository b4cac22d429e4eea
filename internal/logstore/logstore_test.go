package logstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsDenseSequences(t *testing.T) {
	l := New[string]()
	require.Equal(t, int64(0), l.Len())

	for i, v := range []string{"a", "b", "c"} {
		seq := l.Append(v)
		assert.Equal(t, int64(i), seq)
	}
	require.Equal(t, int64(3), l.Len())

	e, err := l.Get(1)
	require.NoError(t, err)
	assert.Equal(t, Entry[string]{Seq: 1, Value: "b"}, e)
}

func TestGetOutOfRange(t *testing.T) {
	l := New[int]()
	_, err := l.Get(0)
	require.ErrorIs(t, err, ErrOutOfRange)

	l.Append(42)
	_, err = l.Get(-1)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = l.Get(1)
	require.ErrorIs(t, err, ErrOutOfRange)

	e, err := l.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 42, e.Value)
}
