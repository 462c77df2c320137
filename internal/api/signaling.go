package api

import (
	"encoding/json"

	"github.com/dkprog/poc-mediasoup-room/internal/domain"
)

// Gateway protocol event types. Each client request carries a correlation id
// and expects exactly one acknowledgement with the same id.
const (
	EventWelcome          = "welcome"
	EventJoin             = "join"
	EventLeave            = "leave"
	EventCreateTransport  = "create-transport"
	EventConnectTransport = "connect-transport"
	EventSendTrack        = "send-track"
	EventRecvTrack        = "recv-track"
	EventCloseTransport   = "close-transport"
	EventAck              = "ack"
	EventPeerJoined       = "peer-joined"
	EventPeerLeft         = "peer-left"
)

// SignalRequest is the envelope of every client-originated message.
type SignalRequest struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SignalAck answers one SignalRequest. Either Payload or Error is set.
type SignalAck struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SignalEvent is a server-pushed notification, not tied to a request.
type SignalEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type WelcomePayload struct {
	RoomName domain.RoomName `json:"roomName"`
}

type WelcomeAck struct {
	RouterRtpCapabilities json.RawMessage `json:"routerRtpCapabilities"`
}

type JoinPayload struct {
	RoomName domain.RoomName `json:"roomName"`
}

type JoinAck struct {
	OnlinePeers []domain.SocketID `json:"onlinePeers"`
}

type CreateTransportPayload struct {
	Direction  domain.Direction `json:"direction"`
	ToSocketID domain.SocketID  `json:"toSocketId,omitempty"`
}

type ConnectTransportPayload struct {
	TransportID    domain.TransportID `json:"transportId"`
	DtlsParameters json.RawMessage    `json:"dtlsParameters"`
}

type SendTrackPayload struct {
	TransportID   domain.TransportID `json:"transportId"`
	Kind          domain.MediaKind   `json:"kind"`
	RtpParameters json.RawMessage    `json:"rtpParameters"`
	Paused        bool               `json:"paused"`
	AppData       map[string]any     `json:"appData,omitempty"`
}

type SendTrackAck struct {
	ID domain.ProducerID `json:"id"`
}

type RecvTrackPayload struct {
	ToSocketID      domain.SocketID    `json:"toSocketId"`
	MediaTag        string             `json:"mediaTag"`
	RtpCapabilities json.RawMessage    `json:"rtpCapabilities"`
	TransportID     domain.TransportID `json:"transportId"`
}

type CloseTransportPayload struct {
	TransportID domain.TransportID `json:"transportId"`
}

type PeerPresencePayload struct {
	SocketID domain.SocketID `json:"socketId"`
}
