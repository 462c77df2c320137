package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/dkprog/poc-mediasoup-room/internal/domain"
)

// Heartbeat reports this worker's load and inventory to the balancer on a
// fixed interval. A failed report is logged and retried on the next tick,
// never escalated.
type Heartbeat struct {
	reg             *Registry
	client          *http.Client
	id              domain.WorkerID
	baseURL         string
	loadBalancerURL string
	interval        time.Duration
}

func NewHeartbeat(reg *Registry, id domain.WorkerID, baseURL, loadBalancerURL string, interval, timeout time.Duration) *Heartbeat {
	return &Heartbeat{
		reg:             reg,
		client:          &http.Client{Timeout: timeout},
		id:              id,
		baseURL:         baseURL,
		loadBalancerURL: loadBalancerURL,
		interval:        interval,
	}
}

// SampleCPU reads the host's aggregate CPU usage since the previous sample.
func SampleCPU() float64 {
	percentages, err := cpu.Percent(0, false)
	if err != nil || len(percentages) == 0 {
		log.Warn().Err(err).Str("module", "worker.heartbeat").Msg("cpu sample failed")
		return 0
	}
	return percentages[0]
}

func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	log.Info().Str("module", "worker.heartbeat").Dur("interval", h.interval).Msg("heartbeat started")

	// Report once right away so the balancer can route to us before the
	// first tick.
	h.report(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "worker.heartbeat").Msg("heartbeat stopped")
			return
		case <-ticker.C:
			h.report(ctx)
		}
	}
}

func (h *Heartbeat) report(ctx context.Context) {
	status := h.reg.Status(h.id, h.baseURL, SampleCPU())
	body, err := json.Marshal(status)
	if err != nil {
		log.Error().Err(err).Str("module", "worker.heartbeat").Msg("marshal status")
		return
	}
	url := fmt.Sprintf("%s/worker/status", h.loadBalancerURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("module", "worker.heartbeat").Msg("build status request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("module", "worker.heartbeat").Msg("status report failed, will retry next tick")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("module", "worker.heartbeat").Msg("balancer rejected status report")
	}
}
