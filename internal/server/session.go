package server

import (
	"errors"
	"net/http"
	"strconv"

	"logcast/internal/fanout"
	"logcast/internal/protocol"
	"logcast/internal/simulator"
)

func failed(message string) protocol.Status {
	return protocol.Status{Message: message}
}

var success = protocol.Status{Successful: true}

// lookup resolves the simulator a request names, falling back to the default.
func (s *Server) lookup(r *http.Request) (string, *simulator.Simulator, bool) {
	name := r.URL.Query().Get("simulator")
	if name == "" {
		name = s.options.DefaultSimulator
	}
	sim, found := s.simulators[name]
	return name, sim, found
}

// client resolves the clientId parameter to the simulator the client reads
// from. On failure it has already replied.
func (s *Server) client(w http.ResponseWriter, r *http.Request) (int64, string, *simulator.Simulator, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("clientId"), 10, 64)
	if err != nil || id <= 0 {
		s.reply(w, http.StatusOK, failed(protocol.MessageInvalidClientID))
		return 0, "", nil, false
	}
	name, found := s.registry.Lookup(id)
	if !found {
		s.reply(w, http.StatusOK, failed(protocol.MessageNotSubscribed))
		return 0, "", nil, false
	}
	if !s.authorized(r, name) {
		s.reply(w, http.StatusUnauthorized, failed(protocol.MessageUnauthorized))
		return 0, "", nil, false
	}
	return id, name, s.simulators[name], true
}

// notSubscribed drops a client the simulator no longer knows, usually because
// it fell too far behind.
func (s *Server) notSubscribed(w http.ResponseWriter, id int64, name string) {
	if s.registry.Release(id, name) {
		s.logger.Info().Str("client", strconv.FormatInt(id, 10)).Str("simulator", name).Msg("client dropped")
	}
	s.reply(w, http.StatusOK, failed(protocol.MessageNotSubscribed))
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	name, sim, found := s.lookup(r)
	if !found {
		s.reply(w, http.StatusOK, failed(protocol.MessageUnknownSimulator))
		return
	}
	if !s.authorized(r, name) {
		s.reply(w, http.StatusUnauthorized, failed(protocol.MessageUnauthorized))
		return
	}

	s.sessions.Lock()
	id := s.registry.Next()
	state, err := sim.Subscribe(id)
	if err == nil {
		s.registry.Register(id, name)
	}
	s.sessions.Unlock()
	if err != nil {
		s.logger.Error().Err(err).Str("simulator", name).Msg("error subscribing client")
		s.reply(w, http.StatusServiceUnavailable, failed(err.Error()))
		return
	}

	s.logger.Info().Str("client", strconv.FormatInt(id, 10)).Str("simulator", name).Msg("client subscribed")
	s.reply(w, http.StatusOK, protocol.Subscribe{
		Status:       success,
		ClientID:     id,
		Simulator:    name,
		CurrentState: state.Nodes,
		Structure:    state.Structure,
	})
}

func (s *Server) changeSimulator(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("clientId"), 10, 64)
	if err != nil || id <= 0 {
		s.reply(w, http.StatusOK, failed(protocol.MessageInvalidClientID))
		return
	}
	name := r.URL.Query().Get("simulator")
	target, found := s.simulators[name]
	if !found {
		s.reply(w, http.StatusOK, failed(protocol.MessageUnknownSimulator))
		return
	}
	if !s.authorized(r, name) {
		s.reply(w, http.StatusUnauthorized, failed(protocol.MessageUnauthorized))
		return
	}

	s.sessions.Lock()
	current, found := s.registry.Lookup(id)
	if !found {
		s.sessions.Unlock()
		s.reply(w, http.StatusOK, failed(protocol.MessageNotSubscribed))
		return
	}
	if s.streams[id] {
		s.sessions.Unlock()
		s.reply(w, http.StatusOK, failed(protocol.MessageStreamClient))
		return
	}
	s.simulators[current].Unsubscribe(id)
	state, err := target.Subscribe(id)
	if err != nil {
		s.registry.Remove(id)
	} else {
		s.registry.Register(id, name)
	}
	s.sessions.Unlock()
	if err != nil {
		s.logger.Error().Err(err).Str("simulator", name).Msg("error changing simulator")
		s.reply(w, http.StatusServiceUnavailable, failed(err.Error()))
		return
	}

	s.logger.Info().Str("client", strconv.FormatInt(id, 10)).Str("from", current).Str("to", name).Msg("client changed simulator")
	s.reply(w, http.StatusOK, protocol.ChangeSimulator{
		Status:       success,
		Simulator:    name,
		CurrentState: state.Nodes,
		Structure:    state.Structure,
	})
}

// update long-polls the client's next update. A client that disconnects stops
// waiting without consuming anything.
func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	id, name, sim, found := s.client(w, r)
	if !found {
		return
	}

	entry, err := sim.Next(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, fanout.ErrNotSubscribed), errors.Is(err, fanout.ErrClosed):
		s.notSubscribed(w, id, name)
		return
	case r.Context().Err() != nil:
		s.logger.Debug().Str("client", strconv.FormatInt(id, 10)).Msg("client stopped waiting")
		return
	default:
		s.logger.Error().Err(err).Str("client", strconv.FormatInt(id, 10)).Msg("error retrieving update")
		s.reply(w, http.StatusInternalServerError, failed(err.Error()))
		return
	}

	s.reply(w, http.StatusOK, protocol.Update{
		Status:      success,
		Seq:         entry.Seq,
		Events:      entry.Value.Events,
		StateChange: entry.Value.StateChange,
	})
}

func (s *Server) backlog(w http.ResponseWriter, r *http.Request) {
	id, name, sim, found := s.client(w, r)
	if !found {
		return
	}
	n, err := sim.Backlog(id)
	if err != nil {
		s.notSubscribed(w, id, name)
		return
	}
	s.reply(w, http.StatusOK, protocol.Backlog{Status: success, Backlog: n})
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("clientId"), 10, 64)
	if err != nil || id <= 0 {
		s.reply(w, http.StatusOK, failed(protocol.MessageInvalidClientID))
		return
	}

	s.sessions.Lock()
	name, found := s.registry.Lookup(id)
	if found && !s.authorized(r, name) {
		s.sessions.Unlock()
		s.reply(w, http.StatusUnauthorized, failed(protocol.MessageUnauthorized))
		return
	}
	if found {
		s.simulators[name].Unsubscribe(id)
		s.registry.Remove(id)
	}
	s.sessions.Unlock()

	if found {
		s.logger.Info().Str("client", strconv.FormatInt(id, 10)).Str("simulator", name).Msg("client unsubscribed")
	}
	s.reply(w, http.StatusOK, success)
}
