// Package server exposes the simulators over HTTP: long-polled updates, a
// websocket stream and a small admin API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loopholelabs/logging/loggers/noop"
	"github.com/loopholelabs/logging/types"
	"golang.org/x/sync/errgroup"

	"logcast/internal/archive"
	"logcast/internal/auth"
	"logcast/internal/registry"
	"logcast/internal/simulator"
)

var (
	ErrInvalidOptions          = errors.New("invalid options")
	ErrNoSimulators            = errors.New("no simulators")
	ErrDuplicateSimulator      = errors.New("duplicate simulator")
	ErrInvalidDefaultSimulator = errors.New("invalid default simulator")
)

const (
	DefaultAddr     = ":8080"
	shutdownTimeout = 5 * time.Second
)

type Options struct {
	Logger types.SubLogger
	Addr   string

	Simulators []*simulator.Simulator
	// DefaultSimulator serves requests that name none. Defaults to the first
	// simulator.
	DefaultSimulator string

	// Registry is created when nil.
	Registry *registry.Registry
	// Auth is optional; a nil manager leaves every endpoint open.
	Auth *auth.Manager
	// Archive backs /api/events; optional.
	Archive archive.Store
}

func (o *Options) Validate() error {
	if o.Logger == nil {
		o.Logger = noop.New(types.InfoLevel)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	if len(o.Simulators) == 0 {
		return ErrNoSimulators
	}
	seen := make(map[string]bool, len(o.Simulators))
	for _, sim := range o.Simulators {
		if seen[sim.Name()] {
			return ErrDuplicateSimulator
		}
		seen[sim.Name()] = true
	}
	if o.DefaultSimulator == "" {
		o.DefaultSimulator = o.Simulators[0].Name()
	}
	if !seen[o.DefaultSimulator] {
		return ErrInvalidDefaultSimulator
	}
	if o.Registry == nil {
		o.Registry = registry.New()
	}
	return nil
}

type Server struct {
	logger  types.Logger
	options *Options

	simulators map[string]*simulator.Simulator
	registry   *registry.Registry

	// sessions serializes subscribe, change and unsubscribe so a client is
	// never registered with two simulators at once. It also guards streams.
	sessions sync.Mutex
	// streams holds the ids owned by an open websocket.
	streams map[int64]bool
}

func New(options *Options) (*Server, error) {
	if err := options.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidOptions, err)
	}

	s := &Server{
		logger:     options.Logger.SubLogger("server").With().Str("addr", options.Addr).Logger(),
		options:    options,
		simulators: make(map[string]*simulator.Simulator, len(options.Simulators)),
		registry:   options.Registry,
		streams:    make(map[int64]bool),
	}
	for _, sim := range options.Simulators {
		s.simulators[sim.Name()] = sim
	}
	return s, nil
}

// Handler returns the router serving every endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/healthz", s.healthz)
	r.Get("/simulators", s.listSimulators)

	r.Get("/subscribe", s.subscribe)
	r.Get("/changeSimulator", s.changeSimulator)
	r.Get("/update", s.update)
	r.Get("/backlog", s.backlog)
	r.Get("/unsubscribe", s.unsubscribe)
	r.Get("/stream", s.stream)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireRole(auth.RoleAdmin, s.options.Auth))
		r.Get("/clients", s.listClients)
		r.Get("/events", s.listEvents)
		r.Get("/events/{id}", s.getEvent)
		r.Post("/simulators/{simulator}/machines", s.addMachine)
		r.Delete("/simulators/{simulator}/machines/{machine}", s.removeMachine)
	})
	return r
}

// Serve listens on the configured address until ctx is done, then shuts down
// gracefully. Blocked long-polls and streams end with ctx.
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.options.Addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		s.logger.Info().Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) authorized(r *http.Request, simulator string) bool {
	return s.options.Auth == nil || s.options.Auth.Validate(auth.Token(r), simulator)
}

func (s *Server) reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("error writing response")
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
