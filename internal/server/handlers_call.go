package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dialog-im/dialogd/internal/call"
	"github.com/dialog-im/dialogd/internal/monitoring"
	"github.com/dialog-im/dialogd/internal/store"
	"github.com/dialog-im/dialogd/internal/wire"
)

// handleCallRequest starts the signaling conversation: insert the ringing
// call, journal it, ring the callee, tell the caller it is ringing.
func (s *Server) handleCallRequest(req *wire.Record, username string, logger zerolog.Logger) *wire.Record {
	if req.To == "" {
		return wire.ErrorRecord("call_request requires to")
	}
	kind := req.CallType
	if kind == "" {
		kind = call.KindAudio
	}
	callID := req.CallID
	if callID == "" {
		callID = uuid.NewString()
	}

	entry, online := s.presence.Get(req.To)
	if !online {
		return &wire.Record{
			Type:    wire.TypeCallResponse,
			Status:  wire.StatusUserOffline,
			CallID:  callID,
			Message: req.To + " is offline",
		}
	}

	if _, err := s.calls.Start(callID, username, req.To, kind); err != nil {
		if errors.Is(err, call.ErrBusy) {
			return &wire.Record{
				Type:    wire.TypeCallResponse,
				Status:  wire.StatusUserBusy,
				CallID:  callID,
				Message: "a participant is already in a call",
			}
		}
		logger.Error().Err(err).Str("call_id", callID).Msg("Call start failed")
		return &wire.Record{
			Type:    wire.TypeCallResponse,
			Status:  wire.StatusFailed,
			CallID:  callID,
			Message: "call setup failed",
		}
	}
	monitoring.CallsTotal.WithLabelValues(store.CallInitiated).Inc()
	monitoring.CallsActive.Set(float64(s.calls.Count()))

	journal := store.CallRecord{
		CallID:   callID,
		FromUser: username,
		ToUser:   req.To,
		CallType: kind,
		Status:   store.CallInitiated,
	}
	s.pool.Submit(func() {
		if err := s.store.AppendCall(context.Background(), journal); err != nil {
			s.logger.Error().Err(err).Str("call_id", callID).Msg("Journal insert failed")
		}
	})

	ring := &wire.Record{
		Type:      wire.TypeCallRequest,
		From:      username,
		CallType:  kind,
		CallID:    callID,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err := entry.Link.SendRecord(ring); err != nil {
		logger.Info().Err(err).Str("to", req.To).Msg("Ring delivery failed")
		if _, endErr := s.calls.End(callID, username); endErr == nil {
			monitoring.CallsActive.Set(float64(s.calls.Count()))
		}
		s.pool.Submit(func() {
			if err := s.store.FinishCall(context.Background(), callID, store.CallAborted, time.Now(), -1); err != nil {
				s.logger.Error().Err(err).Str("call_id", callID).Msg("Journal update failed")
			}
		})
		return &wire.Record{
			Type:    wire.TypeCallResponse,
			Status:  wire.StatusFailed,
			CallID:  callID,
			Message: "could not reach " + req.To,
		}
	}

	logger.Info().
		Str("caller", username).
		Str("callee", req.To).
		Str("call_id", callID).
		Str("call_type", kind).
		Msg("Call ringing")
	return &wire.Record{
		Type:    wire.TypeCallResponse,
		Status:  wire.StatusRinging,
		CallID:  callID,
		Message: "ringing " + req.To,
	}
}

// handleCallAnswer applies the callee's decision and tells the caller.
func (s *Server) handleCallAnswer(req *wire.Record, username string, logger zerolog.Logger) *wire.Record {
	switch req.Answer {
	case wire.AnswerAccept:
		c, err := s.calls.Accept(req.CallID, username)
		if err != nil {
			return answerError(req.CallID, err, logger)
		}
		monitoring.CallsTotal.WithLabelValues(store.CallAccepted).Inc()
		callID := c.ID
		s.pool.Submit(func() {
			if err := s.store.MarkCall(context.Background(), callID, store.CallAccepted); err != nil {
				s.logger.Error().Err(err).Str("call_id", callID).Msg("Journal update failed")
			}
		})

		forwarded := false
		if entry, ok := s.presence.Get(c.Caller); ok {
			accepted := &wire.Record{
				Type:     wire.TypeCallAccepted,
				From:     username,
				CallID:   c.ID,
				CallPort: req.CallPort,
			}
			if err := entry.Link.SendRecord(accepted); err != nil {
				logger.Info().Err(err).Str("caller", c.Caller).Msg("Accept notice delivery failed")
			} else {
				forwarded = true
			}
		}
		if !forwarded {
			// The caller is unreachable; its teardown will end the call.
			return &wire.Record{
				Type:   wire.TypeCallAnswerResponse,
				Status: wire.StatusFailed,
				CallID: c.ID,
			}
		}
		logger.Info().Str("call_id", c.ID).Str("callee", username).Msg("Call accepted")
		return &wire.Record{
			Type:   wire.TypeCallAnswerResponse,
			Status: wire.StatusAccepted,
			CallID: c.ID,
		}

	case wire.AnswerReject:
		c, err := s.calls.Reject(req.CallID, username)
		if err != nil {
			return answerError(req.CallID, err, logger)
		}
		monitoring.CallsTotal.WithLabelValues(store.CallRejected).Inc()
		monitoring.CallsActive.Set(float64(s.calls.Count()))
		callID := c.ID
		s.pool.Submit(func() {
			if err := s.store.FinishCall(context.Background(), callID, store.CallRejected, time.Now(), -1); err != nil {
				s.logger.Error().Err(err).Str("call_id", callID).Msg("Journal update failed")
			}
		})

		forwarded := false
		if entry, ok := s.presence.Get(c.Caller); ok {
			rejected := &wire.Record{
				Type:   wire.TypeCallRejected,
				From:   username,
				CallID: c.ID,
			}
			if err := entry.Link.SendRecord(rejected); err != nil {
				logger.Info().Err(err).Str("caller", c.Caller).Msg("Reject notice delivery failed")
			} else {
				forwarded = true
			}
		}
		if !forwarded {
			return &wire.Record{
				Type:   wire.TypeCallAnswerResponse,
				Status: wire.StatusFailed,
				CallID: c.ID,
			}
		}
		logger.Info().Str("call_id", c.ID).Str("callee", username).Msg("Call rejected")
		return &wire.Record{
			Type:   wire.TypeCallAnswerResponse,
			Status: wire.StatusRejected,
			CallID: c.ID,
		}

	default:
		return wire.ErrorRecord("invalid answer: " + req.Answer)
	}
}

func answerError(callID string, err error, logger zerolog.Logger) *wire.Record {
	switch {
	case errors.Is(err, call.ErrNotFound):
		// Benign: a late answer after the caller hung up or the sweeper
		// removed the call.
		return &wire.Record{
			Type:   wire.TypeCallAnswerResponse,
			Status: wire.StatusCallNotFound,
			CallID: callID,
		}
	case errors.Is(err, call.ErrNotCallee):
		return wire.ErrorRecord("only the callee may answer")
	default:
		logger.Error().Err(err).Str("call_id", callID).Msg("Call answer failed")
		return wire.ErrorRecord("call answer failed")
	}
}

// handleCallEnd hangs up on behalf of either participant.
func (s *Server) handleCallEnd(req *wire.Record, username string, logger zerolog.Logger) *wire.Record {
	c, err := s.calls.End(req.CallID, username)
	if err != nil {
		if errors.Is(err, call.ErrNotFound) {
			return &wire.Record{
				Type:   wire.TypeCallEndResponse,
				Status: wire.StatusAlreadyEnded,
				CallID: req.CallID,
			}
		}
		if errors.Is(err, call.ErrNotParticipant) {
			return wire.ErrorRecord("not a participant in this call")
		}
		logger.Error().Err(err).Str("call_id", req.CallID).Msg("Call end failed")
		return wire.ErrorRecord("call end failed")
	}

	duration := int(time.Since(c.StartedAt).Seconds())
	monitoring.CallsTotal.WithLabelValues(store.CallEnded).Inc()
	monitoring.CallsActive.Set(float64(s.calls.Count()))
	callID := c.ID
	s.pool.Submit(func() {
		if err := s.store.FinishCall(context.Background(), callID, store.CallEnded, time.Now(), duration); err != nil {
			s.logger.Error().Err(err).Str("call_id", callID).Msg("Journal update failed")
		}
	})

	if entry, ok := s.presence.Get(c.Other(username)); ok {
		ended := &wire.Record{
			Type:   wire.TypeCallEnded,
			From:   username,
			CallID: c.ID,
		}
		if err := entry.Link.SendRecord(ended); err != nil {
			logger.Debug().Err(err).Msg("End notice delivery failed")
		}
	}

	logger.Info().
		Str("call_id", c.ID).
		Str("ended_by", username).
		Int("duration_seconds", duration).
		Msg("Call ended")
	return &wire.Record{
		Type:     wire.TypeCallEndResponse,
		Status:   wire.StatusEnded,
		CallID:   c.ID,
		Duration: wire.IntPtr(duration),
	}
}

// handleICECandidate passes a candidate string through to the other
// participant. Unknown calls and outsider senders are dropped without a
// reply so probing yields nothing.
func (s *Server) handleICECandidate(req *wire.Record, username string, logger zerolog.Logger) *wire.Record {
	if req.CallID == "" || req.Candidate == "" || req.TargetUser == "" {
		return wire.ErrorRecord("ice_candidate requires call_id, candidate, and target_user")
	}
	c, ok := s.calls.Get(req.CallID)
	if !ok || !c.Participant(username) {
		return nil
	}

	entry, online := s.presence.Get(req.TargetUser)
	if !online {
		return &wire.Record{
			Type:   wire.TypeICEResponse,
			Status: wire.StatusFailed,
			CallID: req.CallID,
		}
	}
	forward := &wire.Record{
		Type:      wire.TypeICECandidate,
		CallID:    req.CallID,
		Candidate: req.Candidate,
		FromUser:  username,
	}
	if err := entry.Link.SendRecord(forward); err != nil {
		logger.Debug().Err(err).Str("target", req.TargetUser).Msg("Candidate delivery failed")
		return &wire.Record{
			Type:   wire.TypeICEResponse,
			Status: wire.StatusFailed,
			CallID: req.CallID,
		}
	}
	return &wire.Record{
		Type:   wire.TypeICEResponse,
		Status: wire.StatusSent,
		CallID: req.CallID,
	}
}
