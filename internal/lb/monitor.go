package lb

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunMonitor periodically evicts workers that stopped heartbeating. Eviction
// is unconditional; in-flight sessions on a dead worker are not migrated.
func RunMonitor(ctx context.Context, reg *Registry, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info().Str("module", "lb.monitor").Dur("interval", interval).Dur("max_age", maxAge).Msg("health monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "lb.monitor").Msg("health monitor stopped")
			return
		case <-ticker.C:
			if n := reg.SweepStale(maxAge); n > 0 {
				log.Info().Str("module", "lb.monitor").Int("evicted", n).Msg("sweep finished")
			}
		}
	}
}
