package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterLookupRemove(t *testing.T) {
	reg := New()

	id := reg.Next()
	require.Equal(t, int64(1), id)
	reg.Register(id, "random")

	got, ok := reg.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "random", got)

	reg.Register(id, "heterogeneous")
	got, _ = reg.Lookup(id)
	assert.Equal(t, "heterogeneous", got)

	require.True(t, reg.Remove(id))
	require.False(t, reg.Remove(id))
	_, ok = reg.Lookup(id)
	assert.False(t, ok)
}

func TestRelease(t *testing.T) {
	reg := New()
	reg.Register(1, "a")

	// moved on to another simulator meanwhile
	reg.Register(1, "b")
	assert.False(t, reg.Release(1, "a"))
	got, ok := reg.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "b", got)

	assert.True(t, reg.Release(1, "b"))
	assert.False(t, reg.Release(2, "b"))
}

func TestClients(t *testing.T) {
	reg := New()
	for _, sim := range []string{"a", "b", "a"} {
		reg.Register(reg.Next(), sim)
	}
	assert.Equal(t, []int64{1, 2, 3}, reg.Clients(""))
	assert.Equal(t, []int64{1, 3}, reg.Clients("a"))
	assert.Empty(t, reg.Clients("c"))
}

func TestConcurrencySafety(t *testing.T) {
	reg := New()
	const n = 1000

	wg := sync.WaitGroup{}
	wg.Add(n * 2)

	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			id := reg.Next()
			reg.Register(id, "random")
			ids <- id
		}()
	}
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			reg.Lookup(int64(i))
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		require.False(t, seen[id], "id %d allocated twice", id)
		seen[id] = true
	}
	assert.Len(t, reg.Clients("random"), n)
}
