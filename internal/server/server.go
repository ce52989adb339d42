// Package server wires the listener, the per-connection dispatchers, the
// relay and call signaling handlers, and the background sweepers into one
// Server value that owns the presence registry and the call table.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dialog-im/dialogd/internal/auth"
	"github.com/dialog-im/dialogd/internal/call"
	"github.com/dialog-im/dialogd/internal/config"
	"github.com/dialog-im/dialogd/internal/monitoring"
	"github.com/dialog-im/dialogd/internal/presence"
	"github.com/dialog-im/dialogd/internal/store"
	"github.com/dialog-im/dialogd/internal/wire"
)

// Server owns all shared state: the presence registry, the call table,
// the store, and the worker pool. Dispatchers and sweepers receive it on
// spawn; there are no package-level singletons.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	store store.Store
	auth  *auth.Service

	presence *presence.Registry
	calls    *call.Table
	pool     *WorkerPool

	listener   net.Listener
	metricsSrv *http.Server
	monitor    *monitoring.SystemMonitor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shuttingDown int32
	connSeq      int64
	activeConns  int64
	conns        sync.Map // *conn -> struct{}
}

// New assembles a server around an opened store.
func New(cfg *config.Config, st store.Store, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		auth:     auth.NewService(st, cfg.SessionTTL),
		presence: presence.NewRegistry(),
		calls:    call.NewTable(),
		pool:     NewWorkerPool(cfg.WorkerCount, cfg.WorkerQueueSize, logger),
		monitor:  monitoring.NewSystemMonitor(logger),
		ctx:      ctx,
		cancel:   cancel,
	}
	return s
}

// Start binds the broker and metrics listeners and launches the accept
// loop, the sweepers, and the system monitor. Non-blocking.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.logger.Info().Str("address", s.cfg.Addr).Msg("Broker listening")

	s.pool.Start(s.ctx)

	s.wg.Add(1)
	go s.acceptLoop()

	s.wg.Add(1)
	go s.idleSweeper()

	s.wg.Add(1)
	go s.callSweeper()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(s.ctx, s.cfg.SystemSampleInterval)
	}()

	s.startMetricsServer()
	return nil
}

// Addr returns the bound broker address, useful when the config asked for
// port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	s.metricsSrv = &http.Server{
		Addr:         s.cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer monitoring.RecoverPanic(s.logger, "metrics_server", nil)
		if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "healthy",
		"online_users": s.presence.Count(),
		"active_calls": s.calls.Count(),
		"connections":  atomic.LoadInt64(&s.activeConns),
		"cpu_percent":  s.monitor.CPUPercent(),
	})
}

// acceptLoop admits connections unboundedly and spawns one dispatcher per
// connection.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	defer monitoring.RecoverPanic(s.logger, "accept_loop", nil)

	for {
		sock, err := s.listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.shuttingDown) == 1 {
				return
			}
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.logger.Error().Err(err).Msg("Accept error")
			continue
		}
		monitoring.ConnectionsTotal.Inc()
		s.wg.Add(1)
		go s.handleConn(sock)
	}
}

func (s *Server) idleSweeper() {
	defer s.wg.Done()
	defer monitoring.RecoverPanic(s.logger, "idle_sweeper", nil)

	ticker := time.NewTicker(s.cfg.IdleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, username := range s.presence.Stale(s.cfg.IdleMax) {
				entry, ok := s.presence.Get(username)
				if !ok {
					continue
				}
				s.logger.Info().Str("username", username).Msg("Evicting idle connection")
				monitoring.SweeperEvictions.WithLabelValues("idle_connection").Inc()
				s.teardownUser(username, entry.Link)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) callSweeper() {
	defer s.wg.Done()
	defer monitoring.RecoverPanic(s.logger, "call_sweeper", nil)

	ticker := time.NewTicker(s.cfg.CallSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepStuckCalls()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) sweepStuckCalls() {
	swept := s.calls.SweepStale(s.cfg.RingingMax, s.cfg.ActiveCallMax)
	for _, c := range swept {
		s.logger.Info().
			Str("call_id", c.ID).
			Str("state", string(c.State)).
			Msg("Sweeping stuck call")
		monitoring.SweeperEvictions.WithLabelValues("stuck_call").Inc()
		monitoring.CallsTotal.WithLabelValues(store.CallTimeout).Inc()

		notice := &wire.Record{
			Type:   wire.TypeCallEnded,
			CallID: c.ID,
			From:   "system",
			Reason: "timeout",
		}
		for _, username := range []string{c.Caller, c.Callee} {
			if entry, ok := s.presence.Get(username); ok {
				target := entry.Link
				s.pool.Submit(func() {
					if err := target.SendRecord(notice); err != nil {
						s.logger.Debug().Err(err).Msg("Timeout notice delivery failed")
					}
				})
			}
		}
		callID := c.ID
		s.pool.Submit(func() {
			if err := s.store.FinishCall(context.Background(), callID, store.CallTimeout, time.Now(), -1); err != nil {
				s.logger.Error().Err(err).Str("call_id", callID).Msg("Journal update failed")
			}
		})
	}
	monitoring.CallsActive.Set(float64(s.calls.Count()))
}

// teardownUser runs the universal connection-termination path for an
// authenticated user: end the user's calls and notify the other side,
// journal them as ended abruptly, drop the presence entry, close the
// socket. Lock order is presence before calls; the target link's write
// mutex is only taken after both are released.
func (s *Server) teardownUser(username string, link presence.Link) {
	s.detachUser(username, link)
	if link != nil {
		_ = link.Close()
	}
}

// detachUser drops the user's presence entry and ends their calls without
// closing the link. Reports whether the entry still belonged to link; a
// false return means a fresh login already displaced it and its calls
// belong to the new connection now.
func (s *Server) detachUser(username string, link presence.Link) bool {
	if !s.presence.Remove(username, link) {
		return false
	}
	monitoring.OnlineUsers.Set(float64(s.presence.Count()))

	for _, c := range s.calls.RemoveFor(username) {
		duration := int(time.Since(c.StartedAt).Seconds())
		monitoring.CallsTotal.WithLabelValues(store.CallEndedAbruptly).Inc()

		if entry, ok := s.presence.Get(c.Other(username)); ok {
			notice := &wire.Record{
				Type:   wire.TypeCallEnded,
				CallID: c.ID,
				From:   username,
				Reason: "user_disconnected",
			}
			target := entry.Link
			s.pool.Submit(func() {
				if err := target.SendRecord(notice); err != nil {
					s.logger.Debug().Err(err).Msg("Disconnect notice delivery failed")
				}
			})
		}

		callID := c.ID
		s.pool.Submit(func() {
			if err := s.store.FinishCall(context.Background(), callID, store.CallEndedAbruptly, time.Now(), duration); err != nil {
				s.logger.Error().Err(err).Str("call_id", callID).Msg("Journal update failed")
			}
		})
	}
	monitoring.CallsActive.Set(float64(s.calls.Count()))

	s.logger.Info().
		Str("username", username).
		Int("online_users", s.presence.Count()).
		Msg("User disconnected")
	return true
}

// Shutdown closes the listener, drains connections for the grace period,
// force-closes the stragglers, and stops the background goroutines.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Initiating graceful shutdown")
	atomic.StoreInt32(&s.shuttingDown, 1)

	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}

	drainTimer := time.NewTimer(s.cfg.DrainGracePeriod)
	checkTicker := time.NewTicker(250 * time.Millisecond)
	defer drainTimer.Stop()
	defer checkTicker.Stop()

drain:
	for {
		select {
		case <-drainTimer.C:
			remaining := atomic.LoadInt64(&s.activeConns)
			if remaining > 0 {
				s.logger.Warn().
					Int64("remaining_connections", remaining).
					Msg("Grace period expired, force closing remaining connections")
			}
			break drain
		case <-checkTicker.C:
			if atomic.LoadInt64(&s.activeConns) == 0 {
				s.logger.Info().Msg("All connections drained")
				break drain
			}
		}
	}

	s.conns.Range(func(key, _ any) bool {
		if c, ok := key.(*conn); ok {
			_ = c.Close()
		}
		return true
	})

	s.cancel()
	s.wg.Wait()
	s.pool.Stop()

	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}
