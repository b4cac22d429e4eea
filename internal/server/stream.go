package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"logcast/internal/fanout"
	"logcast/internal/protocol"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// stream subscribes a new client for the lifetime of a websocket and pushes
// every update to it. The first message is the subscription itself.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	name, sim, found := s.lookup(r)
	if !found {
		http.Error(w, protocol.MessageUnknownSimulator, http.StatusNotFound)
		return
	}
	if !s.authorized(r, name) {
		http.Error(w, protocol.MessageUnauthorized, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade error")
		return
	}
	defer conn.Close()

	s.sessions.Lock()
	id := s.registry.Next()
	state, err := sim.Subscribe(id)
	if err == nil {
		s.registry.Register(id, name)
		s.streams[id] = true
	}
	s.sessions.Unlock()
	if err != nil {
		s.logger.Error().Err(err).Str("simulator", name).Msg("error subscribing stream")
		_ = s.write(conn, failed(err.Error()))
		return
	}

	logger := s.logger.SubLogger("stream").With().Str("client", strconv.FormatInt(id, 10)).Str("simulator", name).Logger()
	logger.Info().Msg("stream opened")
	defer func() {
		s.sessions.Lock()
		delete(s.streams, id)
		if current, found := s.registry.Lookup(id); found {
			s.simulators[current].Unsubscribe(id)
			s.registry.Remove(id)
		}
		sim.Unsubscribe(id)
		s.sessions.Unlock()
		logger.Info().Msg("stream closed")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the peer never sends data; reading only notices when it goes away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := s.write(conn, protocol.Subscribe{
		Status:       success,
		ClientID:     id,
		Simulator:    name,
		CurrentState: state.Nodes,
		Structure:    state.Structure,
	}); err != nil {
		logger.Debug().Err(err).Msg("write error")
		return
	}

	for {
		entry, err := sim.Next(ctx, id)
		if err != nil {
			if errors.Is(err, fanout.ErrNotSubscribed) || errors.Is(err, fanout.ErrClosed) {
				_ = s.write(conn, failed(protocol.MessageNotSubscribed))
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, protocol.MessageNotSubscribed),
					time.Now().Add(writeWait))
			}
			return
		}
		if err := s.write(conn, protocol.Update{
			Status:      success,
			Seq:         entry.Seq,
			Events:      entry.Value.Events,
			StateChange: entry.Value.StateChange,
		}); err != nil {
			logger.Debug().Err(err).Msg("write error")
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
