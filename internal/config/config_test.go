package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logcast/internal/fanout"
	"logcast/internal/simulator"
)

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", DefaultAddr, "")
	flags.Int64("max-backlog", fanout.DefaultMaxBacklog, "")
	flags.String("archive", "", "")
	flags.Bool("tls", false, "")
	flags.String("tls-domain", "", "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, int64(fanout.DefaultMaxBacklog), cfg.MaxBacklog)
	assert.Equal(t, 1000, cfg.Archive.RingSize)
	assert.Equal(t, DefaultSimulators(), cfg.Simulators)
	assert.Equal(t, "random", cfg.DefaultSimulator)
	assert.Equal(t, DefaultAddr, cfg.ListenAddr())
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte(`
addr: ":9000"
max_backlog: 10
default_simulator: racks
archive:
  path: events.db
simulators:
  - name: racks
    tick: 500ms
    branching: [2, 2]
    strategy:
      name: rack-failure
      rack: machine1
  - name: plain
`), 0o644))

	t.Setenv("LOGCAST_MAX_BACKLOG", "40")
	t.Setenv("LOGCAST_ARCHIVE__RING_SIZE", "50")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--addr", ":9100"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, int64(40), cfg.MaxBacklog)
	assert.Equal(t, "events.db", cfg.Archive.Path)
	assert.Equal(t, 50, cfg.Archive.RingSize)
	assert.Equal(t, "racks", cfg.DefaultSimulator)

	require.Len(t, cfg.Simulators, 2)
	racks := cfg.Simulators[0]
	assert.Equal(t, 500*time.Millisecond, racks.Tick)
	assert.Equal(t, []int{2, 2}, racks.Branching)
	assert.Equal(t, simulator.StrategyConfig{Name: simulator.StrategyRackFailure, Rack: "machine1"}, racks.Strategy)

	topo, err := racks.LoadTopology()
	require.NoError(t, err)
	assert.Len(t, topo.Machines, 7)
}

func TestLoadMappedFlags(t *testing.T) {
	t.Chdir(t.TempDir())

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--archive", "x.db", "--tls", "--tls-domain", "logs.example.com"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "x.db", cfg.Archive.Path)
	assert.True(t, cfg.TLS.Enabled)
	assert.Equal(t, "logs.example.com", cfg.TLS.Domain)
	assert.Equal(t, DefaultUpstream, cfg.ListenAddr())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		cfg  Config
		want error
	}{
		"no addr":      {Config{}, ErrInvalidAddr},
		"backlog":      {Config{Addr: ":1", MaxBacklog: -1}, ErrInvalidMaxBacklog},
		"nameless":     {Config{Addr: ":1", Simulators: []SimulatorConfig{{}}}, ErrInvalidSimulatorName},
		"duplicate":    {Config{Addr: ":1", Simulators: []SimulatorConfig{{Name: "a"}, {Name: "a"}}}, ErrDuplicateSimulator},
		"strategy":     {Config{Addr: ":1", Simulators: []SimulatorConfig{{Name: "a", Strategy: simulator.StrategyConfig{Name: "chaos"}}}}, simulator.ErrUnknownStrategy},
		"default":      {Config{Addr: ":1", DefaultSimulator: "b", Simulators: []SimulatorConfig{{Name: "a"}}}, ErrInvalidDefaultSimulator},
		"tls":          {Config{Addr: ":1", TLS: TLSConfig{Enabled: true}}, ErrMissingDomain},
		"valid":        {Config{Addr: ":1"}, nil},
		"valid custom": {Config{Addr: ":1", Simulators: []SimulatorConfig{{Name: "a"}}}, nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}
