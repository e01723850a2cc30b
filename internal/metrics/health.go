package metrics

import (
	"context"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/dgnsrekt/mapsync/internal/bus"
)

// DefaultGoroutineThreshold fails liveness when exceeded.
const DefaultGoroutineThreshold = 10000

// NewHealth returns a handler serving /live and /ready. The goroutine
// threshold guards liveness; readiness is added per dependency.
func NewHealth(goroutines int) healthcheck.Handler {
	if goroutines <= 0 {
		goroutines = DefaultGoroutineThreshold
	}
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(goroutines))
	return health
}

// BusCheck reports whether b is still connected.
func BusCheck(b bus.Bus, timeout time.Duration) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return bus.Ping(ctx, b)
	}
}
