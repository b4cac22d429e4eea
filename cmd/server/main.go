package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loopholelabs/logging"
	"github.com/loopholelabs/logging/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"logcast/internal/archive"
	"logcast/internal/auth"
	"logcast/internal/caddysetup"
	"logcast/internal/config"
	"logcast/internal/fanout"
	"logcast/internal/server"
	"logcast/internal/simulator"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "logcast-server",
		Short: "Serve simulated cluster logs to long-polling and streaming clients",
		Long: `logcast-server runs one or more cluster simulators and lets any number of
clients follow their logs, each at its own pace.

Settings come from logcast.yaml (or --config), LOGCAST_* environment
variables and flags, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logging.New(logging.Zerolog, "logcast", cmd.ErrOrStderr()))
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ./logcast.yaml)")
	cmd.Flags().String("addr", config.DefaultAddr, "HTTP listen address")
	cmd.Flags().String("auth-file", "", "path to auth token YAML file (optional)")
	cmd.Flags().Int64("max-backlog", fanout.DefaultMaxBacklog, "evict clients lagging this many updates behind, 0 disables")
	cmd.Flags().String("default-simulator", "", "simulator served when a request names none")
	cmd.Flags().String("archive", "", "SQLite database for the event archive (default: in memory)")
	cmd.Flags().Int("ring-size", archive.DefaultRingSize, "events kept by the in-memory archive")
	cmd.Flags().Bool("tls", false, "terminate TLS with embedded Caddy on --addr")
	cmd.Flags().String("tls-domain", "", "domain to get a TLS certificate for")
	cmd.Flags().String("tls-email", "", "email for the ACME account")
	cmd.Flags().String("tls-upstream", config.DefaultUpstream, "internal address of the API behind Caddy")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger types.Logger) error {
	var mgr *auth.Manager
	if cfg.AuthFile != "" {
		var err error
		if mgr, err = auth.NewManagerFromFile(cfg.AuthFile); err != nil {
			return fmt.Errorf("auth load: %w", err)
		}
		logger.Info().Str("file", cfg.AuthFile).Msg("auth enabled")
	} else {
		logger.Info().Msg("auth disabled (no auth-file provided)")
	}

	store, err := openArchive(cfg.Archive, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing archive")
		}
	}()

	sims := make([]*simulator.Simulator, 0, len(cfg.Simulators))
	defer func() {
		for _, sim := range sims {
			sim.Close()
		}
	}()
	archivers := make([]*archive.Archiver, 0, len(cfg.Simulators))
	for _, sc := range cfg.Simulators {
		topology, err := sc.LoadTopology()
		if err != nil {
			return fmt.Errorf("simulator %s: %w", sc.Name, err)
		}
		sim, err := simulator.New(&simulator.Options{
			Logger:     logger,
			Name:       sc.Name,
			Topology:   topology,
			Strategy:   sc.Strategy,
			Tick:       sc.Tick,
			MaxBacklog: cfg.MaxBacklog,
			Seed:       sc.Seed,
		})
		if err != nil {
			return fmt.Errorf("simulator %s: %w", sc.Name, err)
		}
		sims = append(sims, sim)

		a, err := archive.NewArchiver(&archive.ArchiverOptions{
			Logger: logger,
			Source: sim,
			Store:  store,
		})
		if err != nil {
			return err
		}
		archivers = append(archivers, a)
	}

	srv, err := server.New(&server.Options{
		Logger:           logger,
		Addr:             cfg.ListenAddr(),
		Simulators:       sims,
		DefaultSimulator: cfg.DefaultSimulator,
		Auth:             mgr,
		Archive:          store,
	})
	if err != nil {
		return err
	}

	if cfg.TLS.Enabled {
		if err := caddysetup.Start(ctx, &caddysetup.Options{
			Logger:   logger,
			Listen:   cfg.Addr,
			Upstream: cfg.TLS.Upstream,
			Domain:   cfg.TLS.Domain,
			Email:    cfg.TLS.Email,
		}); err != nil {
			return fmt.Errorf("caddy start: %w", err)
		}
	}

	eg, egctx := errgroup.WithContext(ctx)
	for _, sim := range sims {
		eg.Go(func() error { return sim.Run(egctx) })
	}
	for _, a := range archivers {
		eg.Go(func() error { return a.Run(egctx) })
	}
	eg.Go(func() error { return srv.Serve(egctx) })

	return eg.Wait()
}

func openArchive(cfg config.ArchiveConfig, logger types.Logger) (archive.Store, error) {
	if cfg.Path == "" {
		logger.Info().Msg("archiving events in memory")
		return archive.NewRing(cfg.RingSize), nil
	}
	store, err := archive.NewSQLite(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("archive open: %w", err)
	}
	logger.Info().Str("path", cfg.Path).Msg("archiving events to sqlite")
	return store, nil
}
