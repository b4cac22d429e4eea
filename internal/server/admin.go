package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"logcast/internal/archive"
	"logcast/internal/protocol"
	"logcast/internal/simulator"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

func (s *Server) listSimulators(w http.ResponseWriter, _ *http.Request) {
	out := make([]protocol.SimulatorInfo, 0, len(s.options.Simulators))
	for _, sim := range s.options.Simulators {
		out = append(out, protocol.SimulatorInfo{
			Name:     sim.Name(),
			Strategy: sim.StrategyName(),
			Clients:  len(s.registry.Clients(sim.Name())),
			Updates:  sim.Updates(),
		})
	}
	s.reply(w, http.StatusOK, out)
}

func (s *Server) listClients(w http.ResponseWriter, _ *http.Request) {
	out := make([]protocol.ClientInfo, 0)
	for _, sim := range s.options.Simulators {
		for _, id := range s.registry.Clients(sim.Name()) {
			backlog, err := sim.Backlog(id)
			if err != nil {
				// evicted and not yet noticed by the client
				continue
			}
			out = append(out, protocol.ClientInfo{ID: id, Simulator: sim.Name(), Backlog: backlog})
		}
	}
	s.reply(w, http.StatusOK, out)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.options.Archive == nil {
		s.reply(w, http.StatusNotFound, failed("archive disabled"))
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.reply(w, http.StatusBadRequest, failed("limit should be a non-negative integer"))
			return
		}
		limit = min(n, maxEventLimit)
	}

	records, err := s.options.Archive.Recent(r.Context(), r.URL.Query().Get("simulator"), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("error reading archive")
		s.reply(w, http.StatusInternalServerError, failed(err.Error()))
		return
	}
	if records == nil {
		records = []archive.Record{}
	}
	s.reply(w, http.StatusOK, records)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	if s.options.Archive == nil {
		s.reply(w, http.StatusNotFound, failed("archive disabled"))
		return
	}

	record, err := s.options.Archive.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, archive.ErrNotFound):
		s.reply(w, http.StatusNotFound, failed(err.Error()))
	case err != nil:
		s.logger.Error().Err(err).Msg("error reading archive")
		s.reply(w, http.StatusInternalServerError, failed(err.Error()))
	default:
		s.reply(w, http.StatusOK, record)
	}
}

func (s *Server) addMachine(w http.ResponseWriter, r *http.Request) {
	sim, found := s.simulators[chi.URLParam(r, "simulator")]
	if !found {
		s.reply(w, http.StatusNotFound, failed(protocol.MessageUnknownSimulator))
		return
	}

	var m protocol.Machine
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil || m.Name == "" {
		s.reply(w, http.StatusBadRequest, failed("body should be {\"name\": ..., \"parent\": ...}"))
		return
	}

	if err := sim.AddMachine(m.Name, m.Parent); err != nil {
		s.reply(w, machineStatus(err), failed(err.Error()))
		return
	}
	s.reply(w, http.StatusCreated, success)
}

func (s *Server) removeMachine(w http.ResponseWriter, r *http.Request) {
	sim, found := s.simulators[chi.URLParam(r, "simulator")]
	if !found {
		s.reply(w, http.StatusNotFound, failed(protocol.MessageUnknownSimulator))
		return
	}

	if err := sim.RemoveMachine(chi.URLParam(r, "machine")); err != nil {
		s.reply(w, machineStatus(err), failed(err.Error()))
		return
	}
	s.reply(w, http.StatusOK, success)
}

func machineStatus(err error) int {
	switch {
	case errors.Is(err, simulator.ErrUnknownMachine):
		return http.StatusNotFound
	case errors.Is(err, simulator.ErrMachineExists), errors.Is(err, simulator.ErrRootMachine):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
