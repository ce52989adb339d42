package server

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dialog-im/dialogd/internal/monitoring"
	"github.com/dialog-im/dialogd/internal/secure"
	"github.com/dialog-im/dialogd/internal/store"
	"github.com/dialog-im/dialogd/internal/wire"
)

// Tags a connection may issue before login.
var unauthenticatedTags = map[string]bool{
	wire.TypeRegister: true,
	wire.TypeLogin:    true,
}

// handleConn runs the whole life of one connection: handshake, dispatch
// loop, teardown. One goroutine per connection; it is the only reader.
func (s *Server) handleConn(sock net.Conn) {
	defer s.wg.Done()
	defer monitoring.RecoverPanic(s.logger, "dispatcher", map[string]any{
		"remote_addr": sock.RemoteAddr().String(),
	})

	atomic.AddInt64(&s.activeConns, 1)
	monitoring.ConnectionsActive.Inc()
	defer func() {
		atomic.AddInt64(&s.activeConns, -1)
		monitoring.ConnectionsActive.Dec()
	}()

	logger := s.logger.With().
		Int64("conn_id", atomic.AddInt64(&s.connSeq, 1)).
		Str("remote_addr", sock.RemoteAddr().String()).
		Logger()

	codec, framer, err := secure.Handshake(sock, s.cfg.HandshakeTimeout, s.cfg.MaxFrameBytes)
	if err != nil {
		monitoring.HandshakesFailed.Inc()
		logger.Info().Err(err).Msg("Handshake failed")
		_ = sock.Close()
		return
	}
	logger.Debug().Msg("Handshake complete")

	c := &conn{
		id:           atomic.LoadInt64(&s.connSeq),
		sock:         sock,
		codec:        codec,
		framer:       framer,
		writeTimeout: s.cfg.WriteTimeout,
	}
	s.conns.Store(c, struct{}{})
	defer s.conns.Delete(c)

	defer func() {
		if username, _ := c.bound(); username != "" {
			s.teardownUser(username, c)
		}
		_ = c.Close()
	}()

	s.dispatchLoop(c, logger)
}

// dispatchLoop reads frames until the connection dies. Each request yields
// at most one synchronous reply; side-effect records go out through the
// target's own connection inside the handlers.
func (s *Server) dispatchLoop(c *conn, logger zerolog.Logger) {
	for {
		// Short poll deadline so a closed connection or shutdown is
		// noticed promptly even while idle.
		_ = c.sock.SetReadDeadline(time.Now().Add(s.cfg.ReadPollInterval))
		payload, err := c.framer.ReadFrame()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if atomic.LoadInt32(&s.shuttingDown) == 1 {
					return
				}
				continue
			}
			if err != io.EOF {
				logger.Debug().Err(err).Msg("Read failed")
			}
			return
		}
		monitoring.FramesRead.Inc()
		monitoring.BytesRead.Add(float64(len(payload) + len(wire.Sentinel)))
		if len(payload) == 0 {
			continue
		}

		req, err := c.codec.Open(payload)
		if err != nil {
			// Non-fatal: log, reply with a generic error, keep reading.
			monitoring.DecodeErrors.Inc()
			logger.Warn().Err(err).Msg("Undecodable frame")
			if sendErr := c.SendRecord(wire.ErrorRecord("failed to process request")); sendErr != nil {
				return
			}
			continue
		}

		reply := s.dispatch(c, req, logger)
		if reply == nil {
			continue
		}
		if err := c.SendRecord(reply); err != nil {
			logger.Debug().Err(err).Msg("Reply write failed")
			return
		}
	}
}

// dispatch authorizes the request and routes it by tag. A nil return
// means no synchronous reply (only the ICE drop path).
func (s *Server) dispatch(c *conn, req *wire.Record, logger zerolog.Logger) *wire.Record {
	username, userID := c.bound()
	logger.Debug().Str("type", req.Type).Str("username", username).Msg("Request received")

	if !unauthenticatedTags[req.Type] {
		if username == "" {
			return wire.ErrorRecord("not authorized")
		}
		sessionUserID, err := s.auth.ValidateSession(s.ctx, req.SessionToken)
		if err != nil {
			if errors.Is(err, store.ErrSessionInvalid) {
				return wire.ErrorRecord("not authorized")
			}
			logger.Error().Err(err).Msg("Session validation failed")
			return wire.ErrorRecord("internal server error")
		}
		if sessionUserID != userID {
			return wire.ErrorRecord("not authorized")
		}
	}

	switch req.Type {
	case wire.TypeRegister:
		return s.handleRegister(req, logger)
	case wire.TypeLogin:
		return s.handleLogin(c, req, logger)
	case wire.TypeLogout:
		return s.handleLogout(c, req, username, logger)
	case wire.TypeGetUserList:
		return s.handleGetUserList(username)
	case wire.TypeClientInfo:
		return s.handleClientInfo(c, req, username)
	case wire.TypeHeartbeat:
		return s.handleHeartbeat(username)
	case wire.TypeServerStatus:
		return s.handleServerStatus()
	case wire.TypeP2PMessage:
		return s.handleP2PMessage(c, req, username, logger)
	case wire.TypeCallRequest:
		return s.handleCallRequest(req, username, logger)
	case wire.TypeCallAnswer:
		return s.handleCallAnswer(req, username, logger)
	case wire.TypeCallEnd:
		return s.handleCallEnd(req, username, logger)
	case wire.TypeICECandidate:
		return s.handleICECandidate(req, username, logger)
	default:
		logger.Warn().Str("type", req.Type).Msg("Unknown request type")
		return wire.ErrorRecord("unknown request type: " + req.Type)
	}
}
