package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/dialog-im/dialogd/internal/config"
	"github.com/dialog-im/dialogd/internal/monitoring"
	"github.com/dialog-im/dialogd/internal/server"
	"github.com/dialog-im/dialogd/internal/store"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	// Bootstrap logger for the window before the config is loaded.
	bootLogger := monitoring.NewLogger(monitoring.LoggerConfig{Level: "info", Format: "json"})

	// automaxprocs sets GOMAXPROCS from the container CPU limit, rounding
	// down to an integer.
	bootLogger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("Runtime configured")

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	cfg.LogConfig(logger)

	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	srv := server.New(cfg, st, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Shutdown error")
	}
}

// openStore selects the backing store: Postgres when a DSN is configured,
// in-memory otherwise.
func openStore(cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	if cfg.DatabaseDSN == "" {
		logger.Warn().Msg("No database DSN configured, using in-memory store")
		return store.NewMemory(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return store.OpenPostgres(ctx, cfg.DatabaseDSN)
}
