package lb

import (
	"testing"
	"time"

	"github.com/dkprog/poc-mediasoup-room/internal/api"
	"github.com/dkprog/poc-mediasoup-room/internal/domain"
)

func workerStatus(id domain.WorkerID, url string, cpu float64, rooms ...domain.RoomName) api.WorkerStatus {
	return api.WorkerStatus{
		UUID:          id,
		URL:           url,
		CPUPercentage: cpu,
		Rooms:         rooms,
	}
}

func TestRouteToRoom(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(workerStatus("a", "http://a:3031", 10, "earth"))
	reg.Upsert(workerStatus("b", "http://b:3031", 20, "mars"))

	url, ok := reg.RouteToRoom("mars")
	if !ok || url != "http://b:3031" {
		t.Errorf("RouteToRoom(mars) = %q, %v; want worker b", url, ok)
	}
	if _, ok := reg.RouteToRoom("venus"); ok {
		t.Error("unknown room should not route")
	}
}

func TestSelectWorkerRespectsThreshold(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(workerStatus("a", "http://a:3031", 10))
	reg.Upsert(workerStatus("b", "http://b:3031", 70))

	url, ok := reg.SelectWorkerForNewRoom(60, SpreadComparator)
	if !ok || url != "http://a:3031" {
		t.Errorf("selection = %q, %v; want worker a", url, ok)
	}

	// Nobody under the threshold.
	reg.Upsert(workerStatus("a", "http://a:3031", 90))
	if _, ok := reg.SelectWorkerForNewRoom(60, SpreadComparator); ok {
		t.Error("selection should fail when every worker exceeds the threshold")
	}
}

func TestSelectWorkerTieBreaksOnTransports(t *testing.T) {
	reg := NewRegistry()
	busy := workerStatus("a", "http://a:3031", 30)
	busy.Transports = []domain.TransportID{"t1", "t2", "t3"}
	idle := workerStatus("b", "http://b:3031", 30)
	idle.Transports = []domain.TransportID{"t4"}
	reg.Upsert(busy)
	reg.Upsert(idle)

	url, ok := reg.SelectWorkerForNewRoom(60, SpreadComparator)
	if !ok || url != "http://b:3031" {
		t.Errorf("spread selection = %q; want the worker with fewer transports", url)
	}

	url, ok = reg.SelectWorkerForNewRoom(60, PackComparator)
	if !ok || url != "http://a:3031" {
		t.Errorf("pack selection = %q; want the worker with more transports", url)
	}
}

func TestPackComparatorPrefersLoaded(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(workerStatus("a", "http://a:3031", 10))
	reg.Upsert(workerStatus("b", "http://b:3031", 50))

	url, ok := reg.SelectWorkerForNewRoom(60, PackComparator)
	if !ok || url != "http://b:3031" {
		t.Errorf("pack selection = %q; want the most loaded admissible worker", url)
	}
}

func TestSweepStaleEvictsAndUnroutes(t *testing.T) {
	reg := NewRegistry()
	current := time.Now()
	reg.now = func() time.Time { return current }

	reg.Upsert(workerStatus("a", "http://a:3031", 10, "earth"))

	current = current.Add(5 * time.Second)
	reg.Upsert(workerStatus("b", "http://b:3031", 10, "mars"))

	// Worker a is now 5s old, b is fresh.
	if n := reg.SweepStale(10 * time.Second); n != 0 {
		t.Errorf("nothing should be stale yet, evicted %d", n)
	}

	current = current.Add(7 * time.Second)
	if n := reg.SweepStale(10 * time.Second); n != 1 {
		t.Errorf("evicted %d workers, want 1", n)
	}
	if _, ok := reg.RouteToRoom("earth"); ok {
		t.Error("room hosted by an evicted worker must be unroutable")
	}
	if _, ok := reg.RouteToRoom("mars"); !ok {
		t.Error("fresh worker should still route")
	}

	// Re-registration restores routing.
	reg.Upsert(workerStatus("a", "http://a:3031", 10, "earth"))
	if _, ok := reg.RouteToRoom("earth"); !ok {
		t.Error("re-registered worker should route again")
	}
}

func TestUpsertRefreshesFreshness(t *testing.T) {
	reg := NewRegistry()
	current := time.Now()
	reg.now = func() time.Time { return current }

	reg.Upsert(workerStatus("a", "http://a:3031", 10))
	current = current.Add(8 * time.Second)
	reg.Upsert(workerStatus("a", "http://a:3031", 15))
	current = current.Add(5 * time.Second)

	if n := reg.SweepStale(10 * time.Second); n != 0 {
		t.Errorf("refreshed worker evicted, want kept; evicted=%d", n)
	}
	if reg.Len() != 1 {
		t.Errorf("registry size = %d, want 1", reg.Len())
	}
}
