package gateway

import (
	"sync"

	"github.com/dkprog/poc-mediasoup-room/internal/domain"
)

// Session is the per-connection protocol state. The current room is an
// explicit field set by join and cleared by leave/disconnect, never derived
// from group membership.
type Session struct {
	SocketID domain.SocketID
	conn     *Conn

	mu          sync.Mutex
	currentRoom domain.RoomName
	transports  map[domain.TransportID]domain.Direction
}

func NewSession(socketID domain.SocketID, conn *Conn) *Session {
	return &Session{
		SocketID:   socketID,
		conn:       conn,
		transports: make(map[domain.TransportID]domain.Direction),
	}
}

func (s *Session) Room() domain.RoomName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoom
}

// EnterRoom sets the current room; it fails if the session is already in one.
func (s *Session) EnterRoom(roomName domain.RoomName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentRoom != "" {
		return domain.ErrAlreadyJoined
	}
	s.currentRoom = roomName
	return nil
}

// LeaveRoom clears the current room and returns what it was.
func (s *Session) LeaveRoom() (domain.RoomName, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomName := s.currentRoom
	if roomName == "" {
		return "", false
	}
	s.currentRoom = ""
	return roomName, true
}

func (s *Session) TrackTransport(id domain.TransportID, direction domain.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports[id] = direction
}

func (s *Session) ForgetTransport(id domain.TransportID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transports, id)
}

// TakeTransports removes and returns the session's transports of the given
// direction, so cleanup closes each at most once.
func (s *Session) TakeTransports(direction domain.Direction) []domain.TransportID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TransportID
	for id, d := range s.transports {
		if d == direction {
			out = append(out, id)
			delete(s.transports, id)
		}
	}
	return out
}
