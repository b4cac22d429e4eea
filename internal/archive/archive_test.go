package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopholelabs/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logcast/internal/simulator"
)

func records(simulator string, ids ...string) []Record {
	out := make([]Record, 0, len(ids))
	base := time.UnixMilli(1_700_000_000_000)
	for i, id := range ids {
		out = append(out, Record{
			ID:        id,
			Seq:       int64(i),
			Simulator: simulator,
			Severity:  "INFO",
			Location:  "machine1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	return out
}

func ids(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestCircularBuffer(t *testing.T) {
	ctx := context.Background()
	r := NewRing(3)
	require.NoError(t, r.Add(ctx, records("a", "1", "2", "3")...))
	require.Len(t, r.All(), 3)

	require.NoError(t, r.Add(ctx, records("a", "4")...))
	assert.Equal(t, []string{"2", "3", "4"}, ids(r.All()))

	_, err := r.Get(ctx, "1")
	require.ErrorIs(t, err, ErrNotFound)
	rec, err := r.Get(ctx, "4")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Simulator)

	_, err = NewRing(3).Get(ctx, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, records("random", "r1", "r2", "r3")...))
	require.NoError(t, s.Add(ctx, records("uneven", "u1")...))

	recent, err := s.Recent(ctx, "random", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r2"}, ids(recent))

	recent, err = s.Recent(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 4)

	recent, err = s.Recent(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	recent, err = s.Recent(ctx, "random", 0)
	require.NoError(t, err)
	assert.Empty(t, recent)

	// a limit far beyond what is stored only returns what is stored
	recent, err = s.Recent(ctx, "", 1<<50)
	require.NoError(t, err)
	assert.Len(t, recent, 4)

	rec, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "uneven", rec.Simulator)
	assert.True(t, rec.Timestamp.Equal(time.UnixMilli(1_700_000_000_000)))

	_, err = s.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRingStore(t *testing.T) {
	testStore(t, NewRing(10))
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	testStore(t, s)

	// re-adding an archived event is ignored
	require.NoError(t, s.Add(context.Background(), records("random", "r1")...))
	recent, err := s.Recent(context.Background(), "random", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestArchiver(t *testing.T) {
	sim, err := simulator.New(&simulator.Options{
		Logger:   logging.Test(t, logging.Zerolog, t.Name()),
		Name:     "random",
		Topology: simulator.GenerateTopology(),
		Seed:     7,
	})
	require.NoError(t, err)

	store := NewRing(100)
	a, err := NewArchiver(&ArchiverOptions{
		Logger: logging.Test(t, logging.Zerolog, t.Name()),
		Source: sim,
		Store:  store,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sim.Clients()) == 1
	}, time.Second*2, time.Millisecond*10)

	var want []string
	for i := 0; i < 3; i++ {
		for _, e := range sim.Tick().Events {
			want = append(want, e.ID)
		}
	}

	require.Eventually(t, func() bool {
		return len(store.All()) == len(want)
	}, time.Second*2, time.Millisecond*10)
	assert.Equal(t, want, ids(store.All()))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second * 2):
		t.Fatal("archiver did not stop")
	}
	assert.Empty(t, sim.Clients())
}

func TestArchiverResubscribesAfterEviction(t *testing.T) {
	sim, err := simulator.New(&simulator.Options{
		Name:       "random",
		Topology:   simulator.GenerateTopology(),
		MaxBacklog: 2,
		Seed:       7,
	})
	require.NoError(t, err)

	store := NewRing(100)
	a, err := NewArchiver(&ArchiverOptions{Source: sim, Store: store})
	require.NoError(t, err)

	// evict a stale subscription left under the archiver's id
	_, err = sim.Subscribe(ArchiverID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		sim.Tick()
	}
	require.Empty(t, sim.Clients())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sim.Clients()) == 1
	}, time.Second*2, time.Millisecond*10)
	update := sim.Tick()
	require.Eventually(t, func() bool {
		return len(store.All()) == len(update.Events)
	}, time.Second*2, time.Millisecond*10)

	sim.Close()
}

func TestArchiverStopsWhenSourceCloses(t *testing.T) {
	sim, err := simulator.New(&simulator.Options{Name: "random", Topology: simulator.GenerateTopology()})
	require.NoError(t, err)
	sim.Close()

	a, err := NewArchiver(&ArchiverOptions{Source: sim, Store: NewRing(1)})
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))
}

func TestInvalidArchiverOptions(t *testing.T) {
	_, err := NewArchiver(&ArchiverOptions{Store: NewRing(1)})
	require.ErrorIs(t, err, ErrInvalidSource)
	require.ErrorIs(t, err, ErrInvalidOptions)

	sim, err := simulator.New(&simulator.Options{Name: "random", Topology: simulator.GenerateTopology()})
	require.NoError(t, err)
	_, err = NewArchiver(&ArchiverOptions{Source: sim})
	require.ErrorIs(t, err, ErrInvalidStore)
}
