package lb

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkprog/poc-mediasoup-room/internal/api"
	"github.com/dkprog/poc-mediasoup-room/internal/domain"
	"github.com/dkprog/poc-mediasoup-room/internal/metrics"
)

// WorkerEntry is one worker's last reported status plus the registry's own
// freshness stamp.
type WorkerEntry struct {
	api.WorkerStatus
	UpdatedAt time.Time
}

// Comparator orders two candidate workers; the lesser one wins selection.
type Comparator func(a, b *WorkerEntry) bool

// SpreadComparator favors the least loaded worker, spreading rooms across
// the fleet. Ties break on fewer active transports.
func SpreadComparator(a, b *WorkerEntry) bool {
	if a.CPUPercentage != b.CPUPercentage {
		return a.CPUPercentage < b.CPUPercentage
	}
	return len(a.Transports) < len(b.Transports)
}

// PackComparator fills the busiest still-admissible worker first, keeping
// the rest of the fleet free for new rooms.
func PackComparator(a, b *WorkerEntry) bool {
	if a.CPUPercentage != b.CPUPercentage {
		return a.CPUPercentage > b.CPUPercentage
	}
	return len(a.Transports) > len(b.Transports)
}

// ComparatorFor maps the selection_policy config knob to a comparator.
func ComparatorFor(policy string) Comparator {
	if policy == "pack" {
		return PackComparator
	}
	return SpreadComparator
}

// Registry is the fleet's worker table. It is mutated by heartbeat handlers,
// the eviction sweep and room-creation merges, so every operation holds the
// mutex; nothing here ever blocks on a network call.
type Registry struct {
	mu      sync.RWMutex
	workers map[domain.WorkerID]*WorkerEntry
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[domain.WorkerID]*WorkerEntry),
		now:     time.Now,
	}
}

// Upsert registers or refreshes a worker, stamping its freshness.
func (r *Registry) Upsert(status api.WorkerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[status.UUID] = &WorkerEntry{WorkerStatus: status, UpdatedAt: r.now()}
	metrics.RegisteredWorkers.Set(float64(len(r.workers)))
}

// RouteToRoom finds the base URL of the worker hosting roomName.
func (r *Registry) RouteToRoom(roomName domain.RoomName) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workers {
		for _, name := range w.Rooms {
			if name == roomName {
				return w.URL, true
			}
		}
	}
	return "", false
}

// SelectWorkerForNewRoom picks the best worker whose CPU load is at or below
// the admission threshold, ordered by less.
func (r *Registry) SelectWorkerForNewRoom(threshold float64, less Comparator) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *WorkerEntry
	for _, w := range r.workers {
		if w.CPUPercentage > threshold {
			continue
		}
		if best == nil || less(w, best) {
			best = w
		}
	}
	if best == nil {
		return "", false
	}
	return best.URL, true
}

// SweepStale drops every worker not refreshed within maxAge and reports how
// many were evicted. Rooms hosted by an evicted worker stay unroutable until
// the worker re-registers.
func (r *Registry) SweepStale(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxAge)
	evicted := 0
	for id, w := range r.workers {
		if w.UpdatedAt.Before(cutoff) {
			delete(r.workers, id)
			evicted++
			log.Warn().Str("module", "lb.registry").Str("worker", string(id)).
				Time("last_heartbeat", w.UpdatedAt).Msg("evicted stale worker")
		}
	}
	if evicted > 0 {
		metrics.WorkerEvictionsTotal.Add(float64(evicted))
		metrics.RegisteredWorkers.Set(float64(len(r.workers)))
	}
	return evicted
}

// Snapshot copies the current fleet view for inspection endpoints.
func (r *Registry) Snapshot() []api.WorkerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]api.WorkerStatus, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.WorkerStatus)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
