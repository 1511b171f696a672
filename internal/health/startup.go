// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"time"

	"github.com/prepstack/bookd/internal/log"
)

// WaitReady polls the readiness checks until every required dependency
// answers or ctx expires. It gates serving at boot: a pod that starts ahead
// of its database waits here instead of serving errors.
func (m *Manager) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	logger := log.WithComponent("startup")

	for {
		resp := m.Ready(ctx)
		if resp.Ready {
			logger.Info().Str("status", string(resp.Status)).Msg("dependencies ready")
			return nil
		}

		for name, check := range resp.Checks {
			if check.Status == StatusUnhealthy {
				logger.Warn().
					Str("dependency", name).
					Str("error", check.Error).
					Msg("waiting for dependency")
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("dependencies not ready: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}
