// Package engine is the capability boundary in front of the media engine
// that performs the actual ICE/DTLS/SRTP work. The control plane only ever
// sees opaque parameter blobs and close events.
package engine

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// CodecCapability describes one codec a router supports.
type CodecCapability struct {
	Kind       string         `json:"kind"`
	MimeType   string         `json:"mimeType"`
	ClockRate  int            `json:"clockRate"`
	Channels   int            `json:"channels,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// DefaultMediaCodecs mirrors the codec table every router is created with.
func DefaultMediaCodecs() []CodecCapability {
	return []CodecCapability{
		{
			Kind:      "audio",
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      "video",
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		{
			Kind:      "video",
			MimeType:  webrtc.MimeTypeH264,
			ClockRate: 90000,
			Parameters: map[string]any{
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": 1,
			},
		},
	}
}

// Engine owns routers. A fatal engine failure is delivered through the
// OnDied hook and is not recoverable in-process.
type Engine interface {
	CreateRouter(codecs []CodecCapability) (Router, error)
	OnDied(fn func())
	Close()
}

// Router hosts the transports of one room.
type Router interface {
	ID() string
	RtpCapabilities() json.RawMessage
	CreateTransport() (Transport, error)
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool
	Close()
}

// TransportInfo is what a client needs to establish the media path.
type TransportInfo struct {
	ID             string
	IceParameters  json.RawMessage
	IceCandidates  json.RawMessage
	DtlsParameters json.RawMessage
}

// Transport is one negotiated media path. Close is idempotent and closes
// every producer and consumer riding on the transport.
type Transport interface {
	ID() string
	Info() TransportInfo
	Connect(dtlsParameters json.RawMessage) error
	Produce(kind string, rtpParameters json.RawMessage, paused bool) (Producer, error)
	Consume(producerID string, rtpCapabilities json.RawMessage) (Consumer, error)
	OnClose(fn func())
	Close()
}

// Producer is an inbound track the engine forwards to consumers.
type Producer interface {
	ID() string
	Kind() string
	Paused() bool
	RtpParameters() json.RawMessage
	OnClose(fn func())
	Close()
}

// Consumer forwards one producer's track to one subscriber. It closes itself
// when its source producer closes.
type Consumer interface {
	ID() string
	Kind() string
	Type() string
	ProducerID() string
	RtpParameters() json.RawMessage
	OnClose(fn func())
	Close()
}
