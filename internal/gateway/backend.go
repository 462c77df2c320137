package gateway

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

	"github.com/dkprog/poc-mediasoup-room/internal/api"
	"github.com/dkprog/poc-mediasoup-room/internal/domain"
)

// Backend calls the load balancer's client-facing surface. Every call is a
// bounded remote call; failures surface as ErrUpstream and are relayed to
// the client as acknowledgement errors, never retried here.
type Backend struct {
	baseURL string
	client  *http.Client
}

func NewBackend(baseURL string, timeout time.Duration) *Backend {
	return &Backend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *Backend) CreateRoom(ctx context.Context, roomName domain.RoomName) (json.RawMessage, error) {
	var out api.CreateRoomResponse
	err := b.do(ctx, http.MethodPost, "/client/rooms", api.CreateRoomRequest{RoomName: roomName}, &out)
	if err != nil {
		return nil, err
	}
	return out.RouterRtpCapabilities, nil
}

func (b *Backend) AddPeer(ctx context.Context, roomName domain.RoomName, socketID domain.SocketID) error {
	path := fmt.Sprintf("/client/rooms/%s/peers", url.PathEscape(string(roomName)))
	return b.do(ctx, http.MethodPost, path, api.AddPeerRequest{SocketID: socketID}, nil)
}

func (b *Backend) RemovePeer(ctx context.Context, roomName domain.RoomName, socketID domain.SocketID) error {
	path := fmt.Sprintf("/client/rooms/%s/peers/%s", url.PathEscape(string(roomName)), url.PathEscape(string(socketID)))
	return b.do(ctx, http.MethodDelete, path, nil, nil)
}

func (b *Backend) CreateTransport(ctx context.Context, roomName domain.RoomName, req api.CreateTransportRequest) (*api.TransportOptions, error) {
	path := fmt.Sprintf("/client/rooms/%s/transports", url.PathEscape(string(roomName)))
	var out api.CreateTransportResponse
	if err := b.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out.TransportOptions, nil
}

func (b *Backend) ConnectTransport(ctx context.Context, roomName domain.RoomName, transportID domain.TransportID, req api.ConnectTransportRequest) error {
	path := fmt.Sprintf("/client/rooms/%s/transports/%s", url.PathEscape(string(roomName)), url.PathEscape(string(transportID)))
	return b.do(ctx, http.MethodPut, path, req, nil)
}

func (b *Backend) CloseTransport(ctx context.Context, roomName domain.RoomName, transportID domain.TransportID, fromSocketID domain.SocketID) error {
	path := fmt.Sprintf("/client/rooms/%s/transports/%s?fromSocketId=%s",
		url.PathEscape(string(roomName)), url.PathEscape(string(transportID)), url.QueryEscape(string(fromSocketID)))
	return b.do(ctx, http.MethodDelete, path, nil, nil)
}

func (b *Backend) CreateProducer(ctx context.Context, roomName domain.RoomName, transportID domain.TransportID, req api.CreateProducerRequest) (domain.ProducerID, error) {
	path := fmt.Sprintf("/client/rooms/%s/transports/%s/producers", url.PathEscape(string(roomName)), url.PathEscape(string(transportID)))
	var out api.CreateProducerResponse
	if err := b.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return "", err
	}
	return out.ProducerID, nil
}

func (b *Backend) CreateConsumer(ctx context.Context, roomName domain.RoomName, transportID domain.TransportID, req api.CreateConsumerRequest) (*api.CreateConsumerResponse, error) {
	path := fmt.Sprintf("/client/rooms/%s/transports/%s/consumers", url.PathEscape(string(roomName)), url.PathEscape(string(transportID)))
	var out api.CreateConsumerResponse
	if err := b.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *Backend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 512)).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%w: %s", domain.ErrUpstream, apiErr.Error)
		}
		return fmt.Errorf("%w: balancer answered %d", domain.ErrUpstream, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrUpstream, err)
		}
	}
	return nil
}
