package server

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/dialog-im/dialogd/internal/monitoring"
	"github.com/dialog-im/dialogd/internal/wire"
)

// handleP2PMessage relays a text message to the recipient's connection.
// The body is never persisted; the sender learns the outcome through a
// message_status carrying the request's message_id.
func (s *Server) handleP2PMessage(c *conn, req *wire.Record, username string, logger zerolog.Logger) *wire.Record {
	if req.To == "" || req.Message == "" {
		return wire.ErrorRecord("p2p_message requires to and message")
	}

	entry, online := s.presence.Get(req.To)
	if !online {
		monitoring.MessagesRelayed.WithLabelValues(wire.StatusUserOffline).Inc()
		status := &wire.Record{
			Type:      wire.TypeMessageStatus,
			Status:    wire.StatusUserOffline,
			MessageID: req.MessageID,
			Details:   req.To + " is offline",
		}
		// The offline status also goes out asynchronously; clients
		// deduplicate by message_id.
		s.pool.Submit(func() {
			_ = c.SendRecord(status)
		})
		return status
	}

	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = time.Now().Format(time.RFC3339)
	}
	forward := &wire.Record{
		Type:      wire.TypeP2PMessage,
		From:      username,
		Message:   req.Message,
		MessageID: req.MessageID,
		Timestamp: timestamp,
	}
	if err := entry.Link.SendRecord(forward); err != nil {
		// The recipient's socket is broken; evict it so the roster stops
		// advertising a dead connection.
		logger.Info().
			Err(err).
			Str("to", req.To).
			Str("message_id", req.MessageID).
			Msg("Message delivery failed, evicting recipient")
		monitoring.MessagesRelayed.WithLabelValues(wire.StatusFailed).Inc()
		s.teardownUser(req.To, entry.Link)
		return &wire.Record{
			Type:      wire.TypeMessageStatus,
			Status:    wire.StatusFailed,
			MessageID: req.MessageID,
			Details:   "delivery to " + req.To + " failed",
		}
	}

	monitoring.MessagesRelayed.WithLabelValues(wire.StatusDelivered).Inc()
	logger.Debug().
		Str("from", username).
		Str("to", req.To).
		Str("message_id", req.MessageID).
		Msg("Message relayed")
	return &wire.Record{
		Type:      wire.TypeMessageStatus,
		Status:    wire.StatusDelivered,
		MessageID: req.MessageID,
	}
}
