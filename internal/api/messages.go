// Package api holds the wire types shared by the load balancer, the media
// workers and the signaling gateway.
package api

import (
	"encoding/json"

	"github.com/dkprog/poc-mediasoup-room/internal/domain"
)

// WorkerStatus is the heartbeat body a worker PUTs to /worker/status and
// embeds in its room-creation responses.
type WorkerStatus struct {
	UUID          domain.WorkerID                        `json:"uuid" binding:"required"`
	URL           string                                 `json:"url" binding:"required"`
	CPUPercentage float64                                `json:"cpuPercentage"`
	Rooms         []domain.RoomName                      `json:"rooms"`
	Peers         map[domain.RoomName][]domain.SocketID  `json:"peers"`
	Transports    []domain.TransportID                   `json:"transports"`
	Producers     []domain.ProducerID                    `json:"producers"`
	Consumers     []domain.ConsumerID                    `json:"consumers"`
}

// PeerCount sums peers over all rooms.
func (s WorkerStatus) PeerCount() int {
	n := 0
	for _, ids := range s.Peers {
		n += len(ids)
	}
	return n
}

type CreateRoomRequest struct {
	RoomName domain.RoomName `json:"roomName" binding:"required"`
}

// CreateRoomResponse is what a worker answers on POST /rooms. The balancer
// strips MediaWorkerStatus before relaying to its own caller and merges it
// into the registry.
type CreateRoomResponse struct {
	RouterRtpCapabilities json.RawMessage `json:"routerRtpCapabilities"`
	MediaWorkerStatus     *WorkerStatus   `json:"mediaWorkerStatus,omitempty"`
}

type AddPeerRequest struct {
	SocketID domain.SocketID `json:"socketId" binding:"required"`
}

type CreateTransportRequest struct {
	FromSocketID domain.SocketID  `json:"fromSocketId" binding:"required"`
	Direction    domain.Direction `json:"direction" binding:"required"`
	ToSocketID   domain.SocketID  `json:"toSocketId,omitempty"`
}

// TransportOptions is the client-facing description of a freshly created
// transport, opaque to everything but the media engine and the client.
type TransportOptions struct {
	ID             domain.TransportID `json:"id"`
	IceParameters  json.RawMessage    `json:"iceParameters"`
	IceCandidates  json.RawMessage    `json:"iceCandidates"`
	DtlsParameters json.RawMessage    `json:"dtlsParameters"`
}

type CreateTransportResponse struct {
	TransportOptions TransportOptions `json:"transportOptions"`
}

type ConnectTransportRequest struct {
	FromSocketID   domain.SocketID `json:"fromSocketId" binding:"required"`
	DtlsParameters json.RawMessage `json:"dtlsParameters" binding:"required"`
}

type CreateProducerRequest struct {
	SocketID      domain.SocketID  `json:"socketId" binding:"required"`
	Kind          domain.MediaKind `json:"kind" binding:"required"`
	RtpParameters json.RawMessage  `json:"rtpParameters" binding:"required"`
	Paused        bool             `json:"paused"`
	AppData       map[string]any   `json:"appData,omitempty"`
}

type CreateProducerResponse struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type CreateConsumerRequest struct {
	FromSocketID    domain.SocketID `json:"fromSocketId" binding:"required"`
	ToSocketID      domain.SocketID `json:"toSocketId" binding:"required"`
	MediaTag        string          `json:"mediaTag"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities" binding:"required"`
}

type CreateConsumerResponse struct {
	ProducerID     domain.ProducerID `json:"producerId"`
	ID             domain.ConsumerID `json:"id"`
	Kind           domain.MediaKind  `json:"kind"`
	RtpParameters  json.RawMessage   `json:"rtpParameters"`
	Type           string            `json:"type"`
	ProducerPaused bool              `json:"producerPaused"`
}

// ErrorResponse is the uniform error body of every HTTP surface.
type ErrorResponse struct {
	Error string `json:"error"`
}
