// Package config loads the server configuration from defaults, a YAML file,
// LOGCAST_ environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"logcast/internal/fanout"
	"logcast/internal/simulator"
)

const (
	DefaultFile     = "logcast.yaml"
	DefaultAddr     = ":8080"
	DefaultUpstream = "127.0.0.1:8081"
	envPrefix       = "LOGCAST_"
)

var (
	ErrInvalidAddr             = errors.New("invalid addr")
	ErrInvalidMaxBacklog       = errors.New("invalid max backlog")
	ErrInvalidSimulatorName    = errors.New("invalid simulator name")
	ErrDuplicateSimulator      = errors.New("duplicate simulator")
	ErrInvalidDefaultSimulator = errors.New("invalid default simulator")
	ErrMissingDomain           = errors.New("tls requires a domain")
)

// flagKeys maps flags whose names differ from their config keys.
var flagKeys = map[string]string{
	"archive":      "archive.path",
	"ring-size":    "archive.ring_size",
	"tls":          "tls.enabled",
	"tls-domain":   "tls.domain",
	"tls-email":    "tls.email",
	"tls-upstream": "tls.upstream",
}

type Config struct {
	Addr             string            `koanf:"addr"`
	AuthFile         string            `koanf:"auth_file"`
	MaxBacklog       int64             `koanf:"max_backlog"`
	DefaultSimulator string            `koanf:"default_simulator"`
	Simulators       []SimulatorConfig `koanf:"simulators"`
	Archive          ArchiveConfig     `koanf:"archive"`
	TLS              TLSConfig         `koanf:"tls"`
}

type SimulatorConfig struct {
	Name     string                   `koanf:"name"`
	Strategy simulator.StrategyConfig `koanf:"strategy"`
	// Topology is a YAML or JSON topology file. When empty a topology is
	// generated from Branching.
	Topology  string        `koanf:"topology"`
	Branching []int         `koanf:"branching"`
	Tick      time.Duration `koanf:"tick"`
	Seed      uint64        `koanf:"seed"`
}

type ArchiveConfig struct {
	// Path of the SQLite database. Empty keeps history in memory.
	Path     string `koanf:"path"`
	RingSize int    `koanf:"ring_size"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Domain   string `koanf:"domain"`
	Email    string `koanf:"email"`
	Upstream string `koanf:"upstream"`
}

// DefaultSimulators mirror the two clusters served when nothing is configured.
func DefaultSimulators() []SimulatorConfig {
	return []SimulatorConfig{
		{Name: "random", Strategy: simulator.StrategyConfig{Name: simulator.StrategyRandom}},
		{Name: "heterogeneous", Strategy: simulator.StrategyConfig{Name: simulator.StrategyUnevenLoad}},
	}
}

// Load reads the configuration. cfgFile may be empty, in which case
// logcast.yaml is used if present. Only flags that were explicitly set
// override other sources.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"addr":              DefaultAddr,
		"max_backlog":       fanout.DefaultMaxBacklog,
		"archive.ring_size": 1000,
		"tls.upstream":      DefaultUpstream,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			cfgFile = DefaultFile
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// LOGCAST_MAX_BACKLOG -> max_backlog, LOGCAST_ARCHIVE__PATH -> archive.path
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills in defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrInvalidAddr
	}
	if c.MaxBacklog < 0 {
		return ErrInvalidMaxBacklog
	}

	if len(c.Simulators) == 0 {
		c.Simulators = DefaultSimulators()
	}
	seen := make(map[string]bool, len(c.Simulators))
	for _, s := range c.Simulators {
		if s.Name == "" {
			return ErrInvalidSimulatorName
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateSimulator, s.Name)
		}
		seen[s.Name] = true
		if s.Strategy.Name != "" && !slices.Contains(simulator.Strategies, s.Strategy.Name) {
			return fmt.Errorf("%w: %s", simulator.ErrUnknownStrategy, s.Strategy.Name)
		}
	}

	if c.DefaultSimulator == "" {
		c.DefaultSimulator = c.Simulators[0].Name
	}
	if !seen[c.DefaultSimulator] {
		return fmt.Errorf("%w: %s", ErrInvalidDefaultSimulator, c.DefaultSimulator)
	}

	if c.TLS.Enabled && c.TLS.Domain == "" {
		return ErrMissingDomain
	}
	if c.TLS.Upstream == "" {
		c.TLS.Upstream = DefaultUpstream
	}
	return nil
}

// ListenAddr is where the API listens: behind the TLS front when it is
// enabled, on Addr otherwise.
func (c *Config) ListenAddr() string {
	if c.TLS.Enabled {
		return c.TLS.Upstream
	}
	return c.Addr
}

// LoadTopology resolves the simulator's topology.
func (s SimulatorConfig) LoadTopology() (*simulator.Topology, error) {
	if s.Topology != "" {
		return simulator.LoadTopology(s.Topology)
	}
	return simulator.GenerateTopology(s.Branching...), nil
}
