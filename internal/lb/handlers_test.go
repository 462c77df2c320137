package lb

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkprog/poc-mediasoup-room/internal/api"
	"github.com/dkprog/poc-mediasoup-room/internal/config"
	"github.com/dkprog/poc-mediasoup-room/internal/domain"
)

func testRouter(reg *Registry) *gin.Engine {
	cfg := &config.Config{Mode: "release", RequestTimeout: 2 * time.Second, CPUThreshold: 60, SelectionPolicy: "spread"}
	proxy := NewProxy(reg, cfg.RequestTimeout, cfg.CPUThreshold, cfg.SelectionPolicy)
	return SetupRouter(cfg, NewServer(reg, proxy))
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// fakeWorker answers the worker HTTP surface and counts room creations.
func fakeWorker(t *testing.T, id domain.WorkerID, cpu float64, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/rooms" {
			hits.Add(1)
			var req api.CreateRoomRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			status := api.WorkerStatus{
				UUID:          id,
				URL:           ts.URL,
				CPUPercentage: cpu,
				Rooms:         []domain.RoomName{req.RoomName},
			}
			_ = json.NewEncoder(w).Encode(api.CreateRoomResponse{
				RouterRtpCapabilities: json.RawMessage(`{"codecs":[]}`),
				MediaWorkerStatus:     &status,
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestReportStatusValidation(t *testing.T) {
	router := testRouter(NewRegistry())

	w := doJSON(t, router, http.MethodPut, "/worker/status", map[string]any{"uuid": "w1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("heartbeat without url: status = %d, want 400", w.Code)
	}

	w = doJSON(t, router, http.MethodPut, "/worker/status", map[string]any{"uuid": "w1", "url": "http://w1:3031"})
	if w.Code != http.StatusOK {
		t.Errorf("valid heartbeat: status = %d, want 200", w.Code)
	}
}

func TestRoomCreateRoutesToLeastLoaded(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	workerA := fakeWorker(t, "a", 10, &hitsA)
	workerB := fakeWorker(t, "b", 70, &hitsB)

	reg := NewRegistry()
	reg.Upsert(api.WorkerStatus{UUID: "a", URL: workerA.URL, CPUPercentage: 10})
	reg.Upsert(api.WorkerStatus{UUID: "b", URL: workerB.URL, CPUPercentage: 70})
	router := testRouter(reg)

	w := doJSON(t, router, http.MethodPost, "/client/rooms", api.CreateRoomRequest{RoomName: "earth"})
	if w.Code != http.StatusOK {
		t.Fatalf("create room: status = %d, body = %s", w.Code, w.Body.String())
	}
	if hitsA.Load() != 1 || hitsB.Load() != 0 {
		t.Errorf("creation hit A %d times and B %d times; want 1 and 0", hitsA.Load(), hitsB.Load())
	}

	// The self-reported status from the creation response must not leak to
	// the client, but must register the room for affinity routing.
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["mediaWorkerStatus"]; ok {
		t.Error("mediaWorkerStatus should be stripped from the client response")
	}
	if url, ok := reg.RouteToRoom("earth"); !ok || url != workerA.URL {
		t.Errorf("RouteToRoom(earth) = %q, %v; want worker A", url, ok)
	}
}

func TestRoomCreateReusesHostingWorker(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	workerA := fakeWorker(t, "a", 50, &hitsA)
	workerB := fakeWorker(t, "b", 1, &hitsB)

	reg := NewRegistry()
	reg.Upsert(api.WorkerStatus{UUID: "a", URL: workerA.URL, CPUPercentage: 50, Rooms: []domain.RoomName{"earth"}})
	reg.Upsert(api.WorkerStatus{UUID: "b", URL: workerB.URL, CPUPercentage: 1})
	router := testRouter(reg)

	w := doJSON(t, router, http.MethodPost, "/client/rooms", api.CreateRoomRequest{RoomName: "earth"})
	if w.Code != http.StatusOK {
		t.Fatalf("create room: status = %d", w.Code)
	}
	if hitsA.Load() != 1 || hitsB.Load() != 0 {
		t.Errorf("existing assignment ignored: A=%d B=%d hits", hitsA.Load(), hitsB.Load())
	}
}

func TestRoomCreateNoWorker(t *testing.T) {
	router := testRouter(NewRegistry())
	w := doJSON(t, router, http.MethodPost, "/client/rooms", api.CreateRoomRequest{RoomName: "earth"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestProxyUpstreamFailure(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)

	reg := NewRegistry()
	reg.Upsert(api.WorkerStatus{UUID: "a", URL: broken.URL, CPUPercentage: 10, Rooms: []domain.RoomName{"earth"}})
	router := testRouter(reg)

	w := doJSON(t, router, http.MethodPost, "/client/rooms/earth/peers", api.AddPeerRequest{SocketID: "s1"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestCreateTransportRejectsBadDirection(t *testing.T) {
	var hits atomic.Int32
	workerA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	t.Cleanup(workerA.Close)

	reg := NewRegistry()
	reg.Upsert(api.WorkerStatus{UUID: "a", URL: workerA.URL, CPUPercentage: 10, Rooms: []domain.RoomName{"earth"}})
	router := testRouter(reg)

	w := doJSON(t, router, http.MethodPost, "/client/rooms/earth/transports", map[string]any{
		"fromSocketId": "s1",
		"direction":    "sideways",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if hits.Load() != 0 {
		t.Error("invalid direction must be rejected before any upstream call")
	}
}

func TestPeerRoutesNotFound(t *testing.T) {
	router := testRouter(NewRegistry())
	w := doJSON(t, router, http.MethodPost, "/client/rooms/ghost/peers", api.AddPeerRequest{SocketID: "s1"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 for unroutable room", w.Code)
	}
}
