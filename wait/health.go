package wait

import (
	"context"
	"time"

	"github.com/sidedock/tcgo/internal/daemon"
)

// healthPollInterval is the fixed poll cadence for health-check polling.
const healthPollInterval = 100 * time.Millisecond

// ForHealthCheck returns a Strategy that polls Inspect until the
// container's daemon-reported health status settles.
func ForHealthCheck() Strategy {
	return &healthCheck{}
}

type healthCheck struct {
	baseTimeout
}

func (h *healthCheck) WaitUntilReady(ctx context.Context, target Target) error {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		inspection, err := target.Client.Inspect(ctx, target.ID)
		if err != nil {
			return &Error{Kind: KindExceeded, Message: "inspect failed", Err: err}
		}

		switch inspection.Health {
		case daemon.HealthHealthy:
			return nil
		case daemon.HealthUnhealthy:
			return &Error{Kind: KindUnhealthy}
		case daemon.HealthStarting:
			// keep polling
		default:
			return &Error{Kind: KindHealthNotConfigured}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return &Error{Kind: KindExceeded, Err: ctx.Err()}
		}
	}
}
