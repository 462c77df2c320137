package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed        = errors.New("engine resource closed")
	ErrCannotConsume = errors.New("capabilities cannot consume this producer")
)

// MemoryEngine is an in-process implementation of the facade. It performs no
// real networking; transports carry synthesized ICE/DTLS parameter blobs so
// the control plane above it behaves exactly as with a real engine.
type MemoryEngine struct {
	mu      sync.Mutex
	closed  bool
	diedFns []func()
}

func NewMemory() *MemoryEngine {
	return &MemoryEngine{}
}

func (e *MemoryEngine) CreateRouter(codecs []CodecCapability) (Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	caps, err := json.Marshal(map[string]any{
		"codecs":           codecs,
		"headerExtensions": []any{},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal router capabilities: %w", err)
	}
	r := &memoryRouter{
		id:        uuid.NewString(),
		caps:      caps,
		producers: make(map[string]*memoryProducer),
	}
	log.Debug().Str("module", "engine").Str("router", r.id).Msg("router created")
	return r, nil
}

func (e *MemoryEngine) OnDied(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.diedFns = append(e.diedFns, fn)
}

func (e *MemoryEngine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// closable is the shared close/subscription state of every engine resource.
// Subscribers registered after close run immediately.
type closable struct {
	mu     sync.Mutex
	closed bool
	subs   []func()
}

func (c *closable) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

func (c *closable) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// doClose flips the flag once and runs subscribers outside the lock.
func (c *closable) doClose() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
	return true
}

type memoryRouter struct {
	closable
	id   string
	caps json.RawMessage

	regMu      sync.Mutex
	producers  map[string]*memoryProducer
	transports []*memoryTransport
}

func (r *memoryRouter) ID() string                       { return r.id }
func (r *memoryRouter) RtpCapabilities() json.RawMessage { return r.caps }

func (r *memoryRouter) CreateTransport() (Transport, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	t := &memoryTransport{
		id:     uuid.NewString(),
		router: r,
		info:   synthesizeTransportInfo(),
	}
	t.info.ID = t.id
	r.regMu.Lock()
	r.transports = append(r.transports, t)
	r.regMu.Unlock()
	return t, nil
}

func (r *memoryRouter) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	r.regMu.Lock()
	p, ok := r.producers[producerID]
	r.regMu.Unlock()
	if !ok || p.isClosed() {
		return false
	}
	var caps struct {
		Codecs []struct {
			MimeType string `json:"mimeType"`
		} `json:"codecs"`
	}
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	for _, c := range caps.Codecs {
		if strings.HasPrefix(strings.ToLower(c.MimeType), p.kind+"/") {
			return true
		}
	}
	return false
}

func (r *memoryRouter) Close() {
	if !r.doClose() {
		return
	}
	r.regMu.Lock()
	transports := r.transports
	r.transports = nil
	r.regMu.Unlock()
	for _, t := range transports {
		t.Close()
	}
}

type memoryTransport struct {
	closable
	id     string
	router *memoryRouter
	info   TransportInfo

	stateMu   sync.Mutex
	connected bool
	producers []*memoryProducer
	consumers []*memoryConsumer
}

func (t *memoryTransport) ID() string          { return t.id }
func (t *memoryTransport) Info() TransportInfo { return t.info }

func (t *memoryTransport) Connect(dtlsParameters json.RawMessage) error {
	if t.isClosed() {
		return ErrClosed
	}
	if len(dtlsParameters) == 0 {
		return errors.New("empty dtls parameters")
	}
	t.stateMu.Lock()
	t.connected = true
	t.stateMu.Unlock()
	return nil
}

func (t *memoryTransport) Produce(kind string, rtpParameters json.RawMessage, paused bool) (Producer, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	p := &memoryProducer{
		id:     uuid.NewString(),
		kind:   kind,
		rtp:    rtpParameters,
		paused: paused,
	}
	t.stateMu.Lock()
	t.producers = append(t.producers, p)
	t.stateMu.Unlock()
	t.router.regMu.Lock()
	t.router.producers[p.id] = p
	t.router.regMu.Unlock()
	p.OnClose(func() {
		t.router.regMu.Lock()
		delete(t.router.producers, p.id)
		t.router.regMu.Unlock()
	})
	return p, nil
}

func (t *memoryTransport) Consume(producerID string, rtpCapabilities json.RawMessage) (Consumer, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	if !t.router.CanConsume(producerID, rtpCapabilities) {
		return nil, ErrCannotConsume
	}
	t.router.regMu.Lock()
	p := t.router.producers[producerID]
	t.router.regMu.Unlock()
	if p == nil {
		return nil, ErrCannotConsume
	}
	c := &memoryConsumer{
		id:         uuid.NewString(),
		kind:       p.kind,
		producerID: p.id,
		rtp:        p.rtp,
	}
	t.stateMu.Lock()
	t.consumers = append(t.consumers, c)
	t.stateMu.Unlock()
	// A consumer never outlives its source producer.
	p.OnClose(c.Close)
	return c, nil
}

func (t *memoryTransport) Close() {
	if !t.doClose() {
		return
	}
	t.stateMu.Lock()
	producers := t.producers
	consumers := t.consumers
	t.producers, t.consumers = nil, nil
	t.stateMu.Unlock()
	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
}

type memoryProducer struct {
	closable
	id     string
	kind   string
	rtp    json.RawMessage
	paused bool
}

func (p *memoryProducer) ID() string                     { return p.id }
func (p *memoryProducer) Kind() string                   { return p.kind }
func (p *memoryProducer) Paused() bool                   { return p.paused }
func (p *memoryProducer) RtpParameters() json.RawMessage { return p.rtp }
func (p *memoryProducer) Close()                         { p.doClose() }

type memoryConsumer struct {
	closable
	id         string
	kind       string
	producerID string
	rtp        json.RawMessage
}

func (c *memoryConsumer) ID() string                     { return c.id }
func (c *memoryConsumer) Kind() string                   { return c.kind }
func (c *memoryConsumer) Type() string                   { return "simple" }
func (c *memoryConsumer) ProducerID() string             { return c.producerID }
func (c *memoryConsumer) RtpParameters() json.RawMessage { return c.rtp }
func (c *memoryConsumer) Close()                         { c.doClose() }

func synthesizeTransportInfo() TransportInfo {
	ice, _ := json.Marshal(map[string]any{
		"usernameFragment": uuid.NewString()[:8],
		"password":         uuid.NewString(),
		"iceLite":          true,
	})
	candidates, _ := json.Marshal([]map[string]any{{
		"foundation": "udpcandidate",
		"ip":         "127.0.0.1",
		"port":       40000,
		"priority":   1076302079,
		"protocol":   "udp",
		"type":       "host",
	}})
	dtls, _ := json.Marshal(map[string]any{
		"role": "auto",
		"fingerprints": []map[string]any{{
			"algorithm": "sha-256",
			"value":     uuid.NewString(),
		}},
	})
	return TransportInfo{
		IceParameters:  ice,
		IceCandidates:  candidates,
		DtlsParameters: dtls,
	}
}
