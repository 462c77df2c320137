package worker

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkprog/poc-mediasoup-room/internal/domain"
	"github.com/dkprog/poc-mediasoup-room/internal/engine"
)

const (
	alice = domain.SocketID("socket-alice")
	bob   = domain.SocketID("socket-bob")
	earth = domain.RoomName("earth")
)

func videoCaps() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"mimeType":"video/VP8","clockRate":90000}]}`)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(engine.NewMemory())
	if _, err := reg.CreateOrGetRoom(earth); err != nil {
		t.Fatalf("CreateOrGetRoom failed: %v", err)
	}
	return reg
}

func addPeer(t *testing.T, reg *Registry, socketID domain.SocketID) {
	t.Helper()
	if err := reg.AddPeer(earth, socketID); err != nil {
		t.Fatalf("AddPeer(%s) failed: %v", socketID, err)
	}
}

func createTransport(t *testing.T, reg *Registry, owner domain.SocketID, direction domain.Direction, to domain.SocketID) domain.Transport {
	t.Helper()
	meta, _, err := reg.CreateTransport(earth, owner, direction, to)
	if err != nil {
		t.Fatalf("CreateTransport(%s, %s) failed: %v", owner, direction, err)
	}
	return meta
}

func createProducer(t *testing.T, reg *Registry, transportID domain.TransportID, owner domain.SocketID, tag string) domain.Producer {
	t.Helper()
	producer, err := reg.CreateProducer(transportID, owner, domain.KindVideo, json.RawMessage(`{}`), false, map[string]any{"mediaTag": tag})
	if err != nil {
		t.Fatalf("CreateProducer failed: %v", err)
	}
	return producer
}

func TestCreateOrGetRoomIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	first, err := reg.CreateOrGetRoom(earth)
	if err != nil {
		t.Fatalf("second CreateOrGetRoom failed: %v", err)
	}
	second, _ := reg.CreateOrGetRoom(earth)
	if first.ID() != second.ID() {
		t.Error("repeated room creation must return the same router")
	}
}

func TestAddPeerUnknownRoom(t *testing.T) {
	reg := newTestRegistry(t)
	if err := reg.AddPeer("venus", alice); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("AddPeer on unknown room = %v, want ErrNotFound", err)
	}
}

func TestTransportUnknownRoom(t *testing.T) {
	reg := newTestRegistry(t)
	if _, _, err := reg.CreateTransport("venus", alice, domain.DirectionSend, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("CreateTransport on unknown room = %v, want ErrNotFound", err)
	}
}

func TestOwnershipChecks(t *testing.T) {
	reg := newTestRegistry(t)
	addPeer(t, reg, alice)
	tr := createTransport(t, reg, alice, domain.DirectionSend, "")

	dtls := json.RawMessage(`{"role":"client"}`)
	if err := reg.ConnectTransport(tr.ID, bob, dtls); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("connect by non-owner = %v, want ErrForbidden", err)
	}
	if err := reg.ConnectTransport("ghost", alice, dtls); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("connect unknown transport = %v, want ErrNotFound", err)
	}
	if err := reg.ConnectTransport(tr.ID, alice, dtls); err != nil {
		t.Errorf("connect by owner failed: %v", err)
	}

	if _, err := reg.CreateProducer(tr.ID, bob, domain.KindVideo, json.RawMessage(`{}`), false, nil); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("produce by non-owner = %v, want ErrForbidden", err)
	}
	if err := reg.CloseTransport(tr.ID, bob); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("close by non-owner = %v, want ErrForbidden", err)
	}
}

func TestConsumerLifecycle(t *testing.T) {
	reg := newTestRegistry(t)
	addPeer(t, reg, alice)
	addPeer(t, reg, bob)

	sendTr := createTransport(t, reg, alice, domain.DirectionSend, "")
	producer := createProducer(t, reg, sendTr.ID, alice, "cam-video")
	recvTr := createTransport(t, reg, bob, domain.DirectionRecv, alice)

	resp, err := reg.CreateConsumer(recvTr.ID, earth, bob, alice, "cam-video", videoCaps())
	if err != nil {
		t.Fatalf("CreateConsumer failed: %v", err)
	}
	if resp.ProducerID != producer.ID {
		t.Errorf("consumer reads from %s, want %s", resp.ProducerID, producer.ID)
	}
	if resp.Kind != domain.KindVideo {
		t.Errorf("consumer kind = %s, want video", resp.Kind)
	}

	status := reg.Status("w1", "http://w1", 0)
	if len(status.Producers) != 1 || len(status.Consumers) != 1 {
		t.Fatalf("inventory = %d producers / %d consumers, want 1/1", len(status.Producers), len(status.Consumers))
	}

	// Closing the producer's transport must cascade through the producer to
	// the consumer in the same cleanup pass.
	if err := reg.CloseTransport(sendTr.ID, alice); err != nil {
		t.Fatalf("CloseTransport failed: %v", err)
	}
	status = reg.Status("w1", "http://w1", 0)
	if len(status.Producers) != 0 {
		t.Error("producer should be unregistered after its transport closed")
	}
	if len(status.Consumers) != 0 {
		t.Error("consumer must not persist referencing a closed producer")
	}
}

func TestConsumerMatchesMostRecentProducer(t *testing.T) {
	reg := newTestRegistry(t)
	addPeer(t, reg, alice)
	addPeer(t, reg, bob)

	sendTr := createTransport(t, reg, alice, domain.DirectionSend, "")
	createProducer(t, reg, sendTr.ID, alice, "cam-video")
	latest := createProducer(t, reg, sendTr.ID, alice, "cam-video")
	recvTr := createTransport(t, reg, bob, domain.DirectionRecv, alice)

	resp, err := reg.CreateConsumer(recvTr.ID, earth, bob, alice, "cam-video", videoCaps())
	if err != nil {
		t.Fatalf("CreateConsumer failed: %v", err)
	}
	if resp.ProducerID != latest.ID {
		t.Errorf("consumer reads from %s, want the most recent producer %s", resp.ProducerID, latest.ID)
	}
}

func TestConsumerErrors(t *testing.T) {
	reg := newTestRegistry(t)
	addPeer(t, reg, alice)
	addPeer(t, reg, bob)

	sendTr := createTransport(t, reg, alice, domain.DirectionSend, "")
	recvTr := createTransport(t, reg, bob, domain.DirectionRecv, alice)

	if _, err := reg.CreateConsumer(recvTr.ID, earth, bob, alice, "cam-video", videoCaps()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("consume without producer = %v, want ErrNotFound", err)
	}

	createProducer(t, reg, sendTr.ID, alice, "cam-video")
	audioOnly := json.RawMessage(`{"codecs":[{"mimeType":"audio/opus"}]}`)
	if _, err := reg.CreateConsumer(recvTr.ID, earth, bob, alice, "cam-video", audioOnly); !errors.Is(err, domain.ErrEngine) {
		t.Errorf("consume with incompatible capabilities = %v, want ErrEngine", err)
	}
}

func TestClosePeerCascade(t *testing.T) {
	reg := newTestRegistry(t)
	addPeer(t, reg, alice)
	addPeer(t, reg, bob)

	sendTr := createTransport(t, reg, alice, domain.DirectionSend, "")
	createProducer(t, reg, sendTr.ID, alice, "cam-video")
	recvTr := createTransport(t, reg, bob, domain.DirectionRecv, alice)
	if _, err := reg.CreateConsumer(recvTr.ID, earth, bob, alice, "cam-video", videoCaps()); err != nil {
		t.Fatalf("CreateConsumer failed: %v", err)
	}

	// Alice leaving takes her send transport and also bob's recv transport
	// that pointed at her.
	reg.ClosePeer(alice)

	status := reg.Status("w1", "http://w1", 0)
	if len(status.Transports) != 0 {
		t.Errorf("transports left = %d, want 0", len(status.Transports))
	}
	if len(status.Producers) != 0 || len(status.Consumers) != 0 {
		t.Error("producers and consumers should be gone with their transports")
	}
	if len(status.Rooms) != 1 {
		t.Errorf("room should survive while bob is present, rooms = %v", status.Rooms)
	}

	// Last peer out purges the room.
	reg.ClosePeer(bob)
	status = reg.Status("w1", "http://w1", 0)
	if len(status.Rooms) != 0 {
		t.Errorf("rooms left = %v, want none", status.Rooms)
	}
	if _, _, err := reg.CreateTransport(earth, alice, domain.DirectionSend, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("transport on purged room = %v, want ErrNotFound", err)
	}
}

func TestCloseTransportIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	addPeer(t, reg, alice)
	tr := createTransport(t, reg, alice, domain.DirectionSend, "")

	if err := reg.CloseTransport(tr.ID, alice); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	// A repeat close races cascades in production; it must be swallowed.
	if err := reg.CloseTransport(tr.ID, alice); err != nil {
		t.Errorf("second close = %v, want nil", err)
	}
}

func TestStatusInventory(t *testing.T) {
	reg := newTestRegistry(t)
	addPeer(t, reg, alice)
	createTransport(t, reg, alice, domain.DirectionSend, "")

	status := reg.Status("w1", "http://w1:3031", 42.5)
	if status.UUID != "w1" || status.URL != "http://w1:3031" {
		t.Errorf("identity = %s/%s", status.UUID, status.URL)
	}
	if status.CPUPercentage != 42.5 {
		t.Errorf("cpu = %f, want 42.5", status.CPUPercentage)
	}
	if status.PeerCount() != 1 {
		t.Errorf("peer count = %d, want 1", status.PeerCount())
	}
	if len(status.Rooms) != 1 || status.Rooms[0] != earth {
		t.Errorf("rooms = %v, want [earth]", status.Rooms)
	}
	if len(status.Transports) != 1 {
		t.Errorf("transports = %d, want 1", len(status.Transports))
	}
}
