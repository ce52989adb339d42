package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// SystemMonitor samples CPU and runtime stats on a ticker and feeds the
// Prometheus gauges. One instance per process.
type SystemMonitor struct {
	logger zerolog.Logger

	mu         sync.RWMutex
	cpuPercent float64
}

func NewSystemMonitor(logger zerolog.Logger) *SystemMonitor {
	return &SystemMonitor{
		logger: logger.With().Str("component", "system_monitor").Logger(),
	}
}

// Run samples until ctx is cancelled. Blocking; run in its own goroutine.
func (sm *SystemMonitor) Run(ctx context.Context, interval time.Duration) {
	defer RecoverPanic(sm.logger, "system_monitor", nil)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sm.logger.Info().Dur("interval", interval).Msg("System monitor started")
	sm.sample()

	for {
		select {
		case <-ticker.C:
			sm.sample()
		case <-ctx.Done():
			sm.logger.Info().Msg("System monitor stopped")
			return
		}
	}
}

func (sm *SystemMonitor) sample() {
	// Non-blocking sample (interval 0) measures since the previous call.
	percents, err := cpu.Percent(0, false)
	if err == nil && len(percents) > 0 {
		sm.mu.Lock()
		if sm.cpuPercent == 0 {
			sm.cpuPercent = percents[0]
		} else {
			// Exponential moving average to damp spikes.
			const alpha = 0.3
			sm.cpuPercent = alpha*percents[0] + (1-alpha)*sm.cpuPercent
		}
		current := sm.cpuPercent
		sm.mu.Unlock()
		CPUUsagePercent.Set(current)
	} else if err != nil {
		sm.logger.Debug().Err(err).Msg("CPU sample failed")
	}

	UpdateRuntimeGauges()
}

// CPUPercent returns the smoothed CPU usage, for the health endpoint.
func (sm *SystemMonitor) CPUPercent() float64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.cpuPercent
}
