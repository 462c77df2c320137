package lb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkprog/poc-mediasoup-room/internal/api"
	"github.com/dkprog/poc-mediasoup-room/internal/domain"
)

// Proxy forwards room-scoped operations to the worker hosting the room. It
// never retries and never holds registry locks across a round trip.
type Proxy struct {
	reg       *Registry
	client    *http.Client
	threshold float64
	less      Comparator
}

func NewProxy(reg *Registry, timeout time.Duration, threshold float64, policy string) *Proxy {
	return &Proxy{
		reg:       reg,
		client:    &http.Client{Timeout: timeout},
		threshold: threshold,
		less:      ComparatorFor(policy),
	}
}

// CreateRoom reuses the room's existing worker when there is one, otherwise
// admits the room onto the best available worker. The worker's self-reported
// status from the creation response is merged into the registry so routing
// works before its first heartbeat lands.
func (p *Proxy) CreateRoom(ctx context.Context, roomName domain.RoomName) (*api.CreateRoomResponse, error) {
	workerURL, ok := p.reg.RouteToRoom(roomName)
	if !ok {
		workerURL, ok = p.reg.SelectWorkerForNewRoom(p.threshold, p.less)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no admissible worker for room %q", domain.ErrNoCapacity, roomName)
	}

	var out api.CreateRoomResponse
	err := p.do(ctx, http.MethodPost, joinURL(workerURL, "/rooms"), api.CreateRoomRequest{RoomName: roomName}, &out)
	if err != nil {
		return nil, err
	}
	if out.MediaWorkerStatus != nil {
		p.reg.Upsert(*out.MediaWorkerStatus)
		out.MediaWorkerStatus = nil
	}
	return &out, nil
}

func (p *Proxy) AddPeer(ctx context.Context, roomName domain.RoomName, socketID domain.SocketID) error {
	workerURL, ok := p.reg.RouteToRoom(roomName)
	if !ok {
		return domain.ErrNotFound
	}
	path := fmt.Sprintf("/rooms/%s/peers", url.PathEscape(string(roomName)))
	return p.do(ctx, http.MethodPost, joinURL(workerURL, path), api.AddPeerRequest{SocketID: socketID}, nil)
}

func (p *Proxy) RemovePeer(ctx context.Context, roomName domain.RoomName, socketID domain.SocketID) error {
	workerURL, ok := p.reg.RouteToRoom(roomName)
	if !ok {
		return domain.ErrNotFound
	}
	path := fmt.Sprintf("/rooms/%s/peers/%s", url.PathEscape(string(roomName)), url.PathEscape(string(socketID)))
	return p.do(ctx, http.MethodDelete, joinURL(workerURL, path), nil, nil)
}

func (p *Proxy) CreateTransport(ctx context.Context, roomName domain.RoomName, req api.CreateTransportRequest) (*api.CreateTransportResponse, error) {
	workerURL, ok := p.reg.RouteToRoom(roomName)
	if !ok {
		return nil, domain.ErrNotFound
	}
	path := fmt.Sprintf("/rooms/%s/transports", url.PathEscape(string(roomName)))
	var out api.CreateTransportResponse
	if err := p.do(ctx, http.MethodPost, joinURL(workerURL, path), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Proxy) ConnectTransport(ctx context.Context, roomName domain.RoomName, transportID domain.TransportID, req api.ConnectTransportRequest) error {
	workerURL, ok := p.reg.RouteToRoom(roomName)
	if !ok {
		return domain.ErrNotFound
	}
	path := fmt.Sprintf("/rooms/%s/transports/%s", url.PathEscape(string(roomName)), url.PathEscape(string(transportID)))
	return p.do(ctx, http.MethodPut, joinURL(workerURL, path), req, nil)
}

func (p *Proxy) CloseTransport(ctx context.Context, roomName domain.RoomName, transportID domain.TransportID, fromSocketID domain.SocketID) error {
	workerURL, ok := p.reg.RouteToRoom(roomName)
	if !ok {
		return domain.ErrNotFound
	}
	path := fmt.Sprintf("/rooms/%s/transports/%s?fromSocketId=%s",
		url.PathEscape(string(roomName)), url.PathEscape(string(transportID)), url.QueryEscape(string(fromSocketID)))
	return p.do(ctx, http.MethodDelete, joinURL(workerURL, path), nil, nil)
}

func (p *Proxy) CreateProducer(ctx context.Context, roomName domain.RoomName, transportID domain.TransportID, req api.CreateProducerRequest) (*api.CreateProducerResponse, error) {
	workerURL, ok := p.reg.RouteToRoom(roomName)
	if !ok {
		return nil, domain.ErrNotFound
	}
	path := fmt.Sprintf("/rooms/%s/transports/%s/producers", url.PathEscape(string(roomName)), url.PathEscape(string(transportID)))
	var out api.CreateProducerResponse
	if err := p.do(ctx, http.MethodPost, joinURL(workerURL, path), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Proxy) CreateConsumer(ctx context.Context, roomName domain.RoomName, transportID domain.TransportID, req api.CreateConsumerRequest) (*api.CreateConsumerResponse, error) {
	workerURL, ok := p.reg.RouteToRoom(roomName)
	if !ok {
		return nil, domain.ErrNotFound
	}
	path := fmt.Sprintf("/rooms/%s/transports/%s/consumers", url.PathEscape(string(roomName)), url.PathEscape(string(transportID)))
	var out api.CreateConsumerResponse
	if err := p.do(ctx, http.MethodPost, joinURL(workerURL, path), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one bounded round trip. Any transport failure or non-2xx
// answer maps to ErrUpstream; retrying is the original caller's business.
func (p *Proxy) do(ctx context.Context, method, rawURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Error().Str("module", "lb.proxy").Str("url", rawURL).Int("status", resp.StatusCode).
			Str("body", string(snippet)).Msg("worker rejected request")
		return fmt.Errorf("%w: worker answered %d", domain.ErrUpstream, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrUpstream, err)
		}
	}
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}
