package worker

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkprog/poc-mediasoup-room/internal/api"
	"github.com/dkprog/poc-mediasoup-room/internal/domain"
	"github.com/dkprog/poc-mediasoup-room/internal/engine"
	"github.com/dkprog/poc-mediasoup-room/internal/metrics"
)

type transportEntry struct {
	meta domain.Transport
	eng  engine.Transport
}

type producerEntry struct {
	meta domain.Producer
	eng  engine.Producer
	seq  uint64
}

type consumerEntry struct {
	meta domain.Consumer
	eng  engine.Consumer
}

// Registry owns this worker's rooms and every resource riding on them.
// The mutex guards only map state; engine calls happen outside it, and
// cascade cleanup runs through on-close subscriptions recorded at creation
// time so its ordering is deterministic.
type Registry struct {
	eng    engine.Engine
	codecs []engine.CodecCapability

	mu         sync.Mutex
	routers    map[domain.RoomName]engine.Router
	peers      map[domain.RoomName]map[domain.SocketID]struct{}
	transports map[domain.TransportID]*transportEntry
	producers  map[domain.ProducerID]*producerEntry
	consumers  map[domain.ConsumerID]*consumerEntry
	seq        uint64
}

func NewRegistry(eng engine.Engine) *Registry {
	return &Registry{
		eng:        eng,
		codecs:     engine.DefaultMediaCodecs(),
		routers:    make(map[domain.RoomName]engine.Router),
		peers:      make(map[domain.RoomName]map[domain.SocketID]struct{}),
		transports: make(map[domain.TransportID]*transportEntry),
		producers:  make(map[domain.ProducerID]*producerEntry),
		consumers:  make(map[domain.ConsumerID]*consumerEntry),
	}
}

// CreateOrGetRoom returns the room's router, creating it on first reference.
// The router is created outside the lock; a racing duplicate is closed.
func (r *Registry) CreateOrGetRoom(roomName domain.RoomName) (engine.Router, error) {
	r.mu.Lock()
	if router, ok := r.routers[roomName]; ok {
		r.mu.Unlock()
		return router, nil
	}
	r.mu.Unlock()

	router, err := r.eng.CreateRouter(r.codecs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngine, err)
	}

	r.mu.Lock()
	if existing, ok := r.routers[roomName]; ok {
		r.mu.Unlock()
		router.Close()
		return existing, nil
	}
	r.routers[roomName] = router
	if _, ok := r.peers[roomName]; !ok {
		r.peers[roomName] = make(map[domain.SocketID]struct{})
	}
	r.updateGaugesLocked()
	r.mu.Unlock()
	log.Info().Str("module", "worker.registry").Str("room", string(roomName)).Msg("room created")
	return router, nil
}

// AddPeer records peer membership; every later resource referencing the
// socket id is checked against it.
func (r *Registry) AddPeer(roomName domain.RoomName, socketID domain.SocketID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routers[roomName]; !ok {
		return fmt.Errorf("%w: room %q", domain.ErrNotFound, roomName)
	}
	r.peers[roomName][socketID] = struct{}{}
	r.updateGaugesLocked()
	log.Info().Str("module", "worker.registry").Str("room", string(roomName)).Str("socket", string(socketID)).Msg("peer added")
	return nil
}

// CreateTransport creates a media path owned by fromSocketID. For recv
// transports toSocketID names the remote peer whose tracks will flow here.
func (r *Registry) CreateTransport(roomName domain.RoomName, fromSocketID domain.SocketID, direction domain.Direction, toSocketID domain.SocketID) (domain.Transport, engine.TransportInfo, error) {
	if !direction.Valid() {
		return domain.Transport{}, engine.TransportInfo{}, domain.ErrBadDirection
	}
	r.mu.Lock()
	router, ok := r.routers[roomName]
	r.mu.Unlock()
	if !ok {
		return domain.Transport{}, engine.TransportInfo{}, fmt.Errorf("%w: room %q", domain.ErrNotFound, roomName)
	}

	tr, err := router.CreateTransport()
	if err != nil {
		return domain.Transport{}, engine.TransportInfo{}, fmt.Errorf("%w: %v", domain.ErrEngine, err)
	}

	meta := domain.Transport{
		ID:            domain.TransportID(tr.ID()),
		OwnerSocketID: fromSocketID,
		Direction:     direction,
		RoomName:      roomName,
		PeerSocketID:  toSocketID,
	}
	entry := &transportEntry{meta: meta, eng: tr}
	r.mu.Lock()
	r.transports[meta.ID] = entry
	r.updateGaugesLocked()
	r.mu.Unlock()

	tr.OnClose(func() {
		r.mu.Lock()
		delete(r.transports, meta.ID)
		r.updateGaugesLocked()
		r.mu.Unlock()
	})

	log.Info().Str("module", "worker.registry").Str("room", string(roomName)).
		Str("transport", string(meta.ID)).Str("direction", string(direction)).Msg("transport created")
	return meta, tr.Info(), nil
}

// ConnectTransport finishes the DTLS handshake. Only the owner may connect.
func (r *Registry) ConnectTransport(transportID domain.TransportID, fromSocketID domain.SocketID, dtlsParameters json.RawMessage) error {
	r.mu.Lock()
	entry, ok := r.transports[transportID]
	if ok && entry.meta.OwnerSocketID != fromSocketID {
		r.mu.Unlock()
		return domain.ErrForbidden
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: transport %q", domain.ErrNotFound, transportID)
	}
	if err := entry.eng.Connect(dtlsParameters); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEngine, err)
	}
	return nil
}

// CreateProducer attaches an outbound track to a send transport. The closed
// observer unregisters the producer and closes every dependent consumer.
func (r *Registry) CreateProducer(transportID domain.TransportID, fromSocketID domain.SocketID, kind domain.MediaKind, rtpParameters json.RawMessage, paused bool, appData map[string]any) (domain.Producer, error) {
	r.mu.Lock()
	entry, ok := r.transports[transportID]
	if ok && entry.meta.OwnerSocketID != fromSocketID {
		r.mu.Unlock()
		return domain.Producer{}, domain.ErrForbidden
	}
	r.mu.Unlock()
	if !ok {
		return domain.Producer{}, fmt.Errorf("%w: transport %q", domain.ErrNotFound, transportID)
	}

	producer, err := entry.eng.Produce(string(kind), rtpParameters, paused)
	if err != nil {
		return domain.Producer{}, fmt.Errorf("%w: %v", domain.ErrEngine, err)
	}

	mediaTag, _ := appData["mediaTag"].(string)
	meta := domain.Producer{
		ID:            domain.ProducerID(producer.ID()),
		Kind:          kind,
		OwnerSocketID: fromSocketID,
		RoomName:      entry.meta.RoomName,
		TransportID:   transportID,
		MediaTag:      mediaTag,
		Paused:        paused,
	}
	r.mu.Lock()
	r.seq++
	r.producers[meta.ID] = &producerEntry{meta: meta, eng: producer, seq: r.seq}
	r.updateGaugesLocked()
	r.mu.Unlock()

	producer.OnClose(func() { r.onProducerClosed(meta.ID) })

	log.Info().Str("module", "worker.registry").Str("room", string(meta.RoomName)).
		Str("producer", string(meta.ID)).Str("kind", string(kind)).Str("media_tag", mediaTag).Msg("producer created")
	return meta, nil
}

// onProducerClosed removes the producer and closes every consumer reading
// from it, so no consumer outlives its source.
func (r *Registry) onProducerClosed(producerID domain.ProducerID) {
	r.mu.Lock()
	delete(r.producers, producerID)
	var dependents []*consumerEntry
	for _, ce := range r.consumers {
		if ce.meta.ProducerID == producerID {
			dependents = append(dependents, ce)
		}
	}
	r.updateGaugesLocked()
	r.mu.Unlock()
	for _, ce := range dependents {
		ce.eng.Close()
	}
}

// CreateConsumer subscribes fromSocketID to the most recent producer
// published by toSocketID under mediaTag.
func (r *Registry) CreateConsumer(transportID domain.TransportID, roomName domain.RoomName, fromSocketID, toSocketID domain.SocketID, mediaTag string, rtpCapabilities json.RawMessage) (api.CreateConsumerResponse, error) {
	r.mu.Lock()
	entry, ok := r.transports[transportID]
	if ok && entry.meta.OwnerSocketID != fromSocketID {
		r.mu.Unlock()
		return api.CreateConsumerResponse{}, domain.ErrForbidden
	}
	var source *producerEntry
	for _, pe := range r.producers {
		if pe.meta.RoomName != roomName || pe.meta.OwnerSocketID != toSocketID {
			continue
		}
		if mediaTag != "" && pe.meta.MediaTag != mediaTag {
			continue
		}
		if source == nil || pe.seq > source.seq {
			source = pe
		}
	}
	r.mu.Unlock()
	if !ok {
		return api.CreateConsumerResponse{}, fmt.Errorf("%w: transport %q", domain.ErrNotFound, transportID)
	}
	if source == nil {
		return api.CreateConsumerResponse{}, fmt.Errorf("%w: no producer for %q/%q", domain.ErrNotFound, toSocketID, mediaTag)
	}

	consumer, err := entry.eng.Consume(string(source.meta.ID), rtpCapabilities)
	if err != nil {
		return api.CreateConsumerResponse{}, fmt.Errorf("%w: %v", domain.ErrEngine, err)
	}

	meta := domain.Consumer{
		ID:            domain.ConsumerID(consumer.ID()),
		ProducerID:    source.meta.ID,
		OwnerSocketID: fromSocketID,
		RoomName:      roomName,
		TransportID:   transportID,
	}
	r.mu.Lock()
	r.consumers[meta.ID] = &consumerEntry{meta: meta, eng: consumer}
	r.updateGaugesLocked()
	r.mu.Unlock()

	consumer.OnClose(func() {
		r.mu.Lock()
		delete(r.consumers, meta.ID)
		r.updateGaugesLocked()
		r.mu.Unlock()
	})

	log.Info().Str("module", "worker.registry").Str("room", string(roomName)).
		Str("consumer", string(meta.ID)).Str("producer", string(meta.ProducerID)).Msg("consumer created")
	return api.CreateConsumerResponse{
		ProducerID:     meta.ProducerID,
		ID:             meta.ID,
		Kind:           domain.MediaKind(consumer.Kind()),
		RtpParameters:  consumer.RtpParameters(),
		Type:           consumer.Type(),
		ProducerPaused: source.meta.Paused,
	}, nil
}

// CloseTransport tears down one transport and everything riding on it.
// Closing is idempotent; cascades may race explicit close requests.
func (r *Registry) CloseTransport(transportID domain.TransportID, fromSocketID domain.SocketID) error {
	r.mu.Lock()
	entry, ok := r.transports[transportID]
	if ok && entry.meta.OwnerSocketID != fromSocketID {
		r.mu.Unlock()
		return domain.ErrForbidden
	}
	r.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "worker.registry").Str("transport", string(transportID)).Msg("close of unknown transport ignored")
		return nil
	}
	entry.eng.Close()
	return nil
}

// ClosePeer removes every transport the peer owns, plus every recv transport
// pointed at it, then drops the membership. The last peer out closes the
// room's router and purges the room.
func (r *Registry) ClosePeer(socketID domain.SocketID) {
	r.mu.Lock()
	var doomed []*transportEntry
	for _, te := range r.transports {
		if te.meta.OwnerSocketID == socketID ||
			(te.meta.Direction == domain.DirectionRecv && te.meta.PeerSocketID == socketID) {
			doomed = append(doomed, te)
		}
	}
	var emptied []domain.RoomName
	for roomName, members := range r.peers {
		if _, ok := members[socketID]; !ok {
			continue
		}
		delete(members, socketID)
		if len(members) == 0 {
			emptied = append(emptied, roomName)
		}
	}
	var routers []engine.Router
	for _, roomName := range emptied {
		if router, ok := r.routers[roomName]; ok {
			routers = append(routers, router)
			delete(r.routers, roomName)
			delete(r.peers, roomName)
		}
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	for _, te := range doomed {
		te.eng.Close()
	}
	for _, router := range routers {
		router.Close()
	}
	if len(doomed) > 0 || len(emptied) > 0 {
		log.Info().Str("module", "worker.registry").Str("socket", string(socketID)).
			Int("transports_closed", len(doomed)).Int("rooms_purged", len(emptied)).Msg("peer closed")
	}
}

// Status snapshots the full inventory for the heartbeat.
func (r *Registry) Status(id domain.WorkerID, baseURL string, cpuPercentage float64) api.WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := api.WorkerStatus{
		UUID:          id,
		URL:           baseURL,
		CPUPercentage: cpuPercentage,
		Rooms:         make([]domain.RoomName, 0, len(r.routers)),
		Peers:         make(map[domain.RoomName][]domain.SocketID, len(r.peers)),
		Transports:    make([]domain.TransportID, 0, len(r.transports)),
		Producers:     make([]domain.ProducerID, 0, len(r.producers)),
		Consumers:     make([]domain.ConsumerID, 0, len(r.consumers)),
	}
	for roomName := range r.routers {
		status.Rooms = append(status.Rooms, roomName)
	}
	for roomName, members := range r.peers {
		ids := make([]domain.SocketID, 0, len(members))
		for socketID := range members {
			ids = append(ids, socketID)
		}
		status.Peers[roomName] = ids
	}
	for id := range r.transports {
		status.Transports = append(status.Transports, id)
	}
	for id := range r.producers {
		status.Producers = append(status.Producers, id)
	}
	for id := range r.consumers {
		status.Consumers = append(status.Consumers, id)
	}
	return status
}

func (r *Registry) updateGaugesLocked() {
	metrics.ActiveRooms.Set(float64(len(r.routers)))
	peerCount := 0
	for _, members := range r.peers {
		peerCount += len(members)
	}
	metrics.ActivePeers.Set(float64(peerCount))
	metrics.ActiveTransports.Set(float64(len(r.transports)))
	metrics.ActiveProducers.Set(float64(len(r.producers)))
	metrics.ActiveConsumers.Set(float64(len(r.consumers)))
}
