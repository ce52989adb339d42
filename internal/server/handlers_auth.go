package server

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/dialog-im/dialogd/internal/auth"
	"github.com/dialog-im/dialogd/internal/monitoring"
	"github.com/dialog-im/dialogd/internal/store"
	"github.com/dialog-im/dialogd/internal/wire"
)

func (s *Server) handleRegister(req *wire.Record, logger zerolog.Logger) *wire.Record {
	if req.Username == "" || req.Password == "" {
		return &wire.Record{
			Type:    wire.TypeAuthResponse,
			Status:  wire.StatusError,
			Message: "username and password are required",
		}
	}
	if err := s.auth.Register(s.ctx, req.Username, req.Password, req.Email); err != nil {
		if errors.Is(err, store.ErrNameTaken) {
			return &wire.Record{
				Type:    wire.TypeAuthResponse,
				Status:  wire.StatusError,
				Message: "username already exists",
			}
		}
		logger.Error().Err(err).Str("username", req.Username).Msg("Registration failed")
		return &wire.Record{
			Type:    wire.TypeAuthResponse,
			Status:  wire.StatusError,
			Message: "registration failed",
		}
	}
	logger.Info().Str("username", req.Username).Msg("User registered")
	return &wire.Record{
		Type:    wire.TypeAuthResponse,
		Status:  wire.StatusSuccess,
		Message: "registration successful",
	}
}

func (s *Server) handleLogin(c *conn, req *wire.Record, logger zerolog.Logger) *wire.Record {
	if req.Username == "" || req.Password == "" {
		return &wire.Record{
			Type:    wire.TypeAuthResponse,
			Status:  wire.StatusError,
			Message: "username and password are required",
		}
	}
	userID, token, err := s.auth.Login(s.ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			return &wire.Record{
				Type:    wire.TypeAuthResponse,
				Status:  wire.StatusError,
				Message: "invalid username or password",
			}
		}
		logger.Error().Err(err).Str("username", req.Username).Msg("Login failed")
		return &wire.Record{
			Type:    wire.TypeAuthResponse,
			Status:  wire.StatusError,
			Message: "login failed",
		}
	}

	// A relogin under a different name on the same connection sheds the
	// old identity first, ending its calls.
	if prev, _ := c.bound(); prev != "" && prev != req.Username {
		s.detachUser(prev, c)
	}
	c.bind(req.Username, userID)

	// The advertised host is a client-supplied hint; fall back to the
	// observed peer address when the client sends none.
	host := req.ExternalIP
	if host == "" {
		host = c.remoteIP()
	}
	if displaced := s.presence.Add(req.Username, c, host, req.P2PPort); displaced != nil && displaced != c {
		// Second login for the same account: the old connection is dead
		// weight now. Its dispatcher will fail its next read and tear down,
		// but the presence entry already belongs to this connection.
		logger.Info().Str("username", req.Username).Msg("Displacing prior connection")
		_ = displaced.Close()
	}
	monitoring.OnlineUsers.Set(float64(s.presence.Count()))

	logger.Info().
		Str("username", req.Username).
		Int("online_users", s.presence.Count()).
		Msg("User logged in")
	return &wire.Record{
		Type:         wire.TypeAuthResponse,
		Status:       wire.StatusSuccess,
		Message:      "login successful",
		SessionToken: token,
	}
}

// handleLogout replies before tearing down: teardown closes the socket, so
// the ack must already be on the wire. Returns nil to the dispatcher.
func (s *Server) handleLogout(c *conn, req *wire.Record, username string, logger zerolog.Logger) *wire.Record {
	if err := s.auth.Logout(s.ctx, req.SessionToken); err != nil {
		logger.Error().Err(err).Str("username", username).Msg("Session delete failed")
	}
	ack := &wire.Record{
		Type:    wire.TypeAuthResponse,
		Status:  wire.StatusSuccess,
		Message: "logged out",
	}
	if err := c.SendRecord(ack); err != nil {
		logger.Debug().Err(err).Msg("Logout ack write failed")
	}
	c.unbind()
	s.teardownUser(username, c)
	return nil
}

func (s *Server) handleGetUserList(username string) *wire.Record {
	return &wire.Record{
		Type:  wire.TypeUserListUpdate,
		Users: s.presence.Snapshot(username),
	}
}

func (s *Server) handleClientInfo(c *conn, req *wire.Record, username string) *wire.Record {
	host := req.ExternalIP
	if host == "" {
		host = c.remoteIP()
	}
	if !s.presence.UpdateReach(username, host, req.P2PPort) {
		return wire.ErrorRecord("not online")
	}
	return &wire.Record{
		Type:   wire.TypeClientInfoAck,
		Status: wire.StatusSuccess,
	}
}

func (s *Server) handleHeartbeat(username string) *wire.Record {
	if !s.presence.Touch(username) {
		return wire.ErrorRecord("not online")
	}
	return &wire.Record{Type: wire.TypeHeartbeatAck}
}

// handleServerStatus reports broker-wide counters, a diagnostic used by
// operators rather than clients.
func (s *Server) handleServerStatus() *wire.Record {
	return &wire.Record{
		Type:        wire.TypeServerStatus,
		OnlineUsers: wire.IntPtr(s.presence.Count()),
		ActiveCalls: wire.IntPtr(s.calls.Count()),
		UserNames:   s.presence.Usernames(),
		CallIDs:     s.calls.IDs(),
	}
}
