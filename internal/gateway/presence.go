package gateway

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkprog/poc-mediasoup-room/internal/api"
	"github.com/dkprog/poc-mediasoup-room/internal/domain"
)

// Presence is the gateway's room membership table. Join and Leave mutate the
// table and notify roommates inside one critical section, so nobody ever
// observes a peer-left event for someone still counted present.
type Presence struct {
	mu    sync.Mutex
	rooms map[domain.RoomName]map[domain.SocketID]*Session
}

func NewPresence() *Presence {
	return &Presence{rooms: make(map[domain.RoomName]map[domain.SocketID]*Session)}
}

// Join adds the session to the room, announces peer-joined to everyone else
// and returns the peers that were already online.
func (p *Presence) Join(roomName domain.RoomName, sess *Session) []domain.SocketID {
	p.mu.Lock()
	defer p.mu.Unlock()
	members, ok := p.rooms[roomName]
	if !ok {
		members = make(map[domain.SocketID]*Session)
		p.rooms[roomName] = members
	}
	online := make([]domain.SocketID, 0, len(members))
	joined := mustMarshalEvent(api.EventPeerJoined, api.PeerPresencePayload{SocketID: sess.SocketID})
	for socketID, other := range members {
		online = append(online, socketID)
		other.conn.trySendLogged(joined)
	}
	members[sess.SocketID] = sess
	return online
}

// Leave announces peer-left to the remaining members and then removes the
// session, in that order, under the table lock.
func (p *Presence) Leave(roomName domain.RoomName, socketID domain.SocketID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	members, ok := p.rooms[roomName]
	if !ok {
		return
	}
	if _, ok := members[socketID]; !ok {
		return
	}
	left := mustMarshalEvent(api.EventPeerLeft, api.PeerPresencePayload{SocketID: socketID})
	for otherID, other := range members {
		if otherID == socketID {
			continue
		}
		other.conn.trySendLogged(left)
	}
	delete(members, socketID)
	if len(members) == 0 {
		delete(p.rooms, roomName)
	}
}

// MemberCount is used by tests and inspection endpoints.
func (p *Presence) MemberCount(roomName domain.RoomName) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms[roomName])
}

func mustMarshalEvent(eventType string, payload any) []byte {
	b, err := json.Marshal(api.SignalEvent{Type: eventType, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "gateway.presence").Str("type", eventType).Msg("marshal event")
		return nil
	}
	return b
}
