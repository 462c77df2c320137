// Package domain contains entities without logic, just meta-data.
package domain

// Peer is one client's participation in a room.
type Peer struct {
	SocketID SocketID
	RoomName RoomName
}

// Transport records ownership of a negotiated media path. Only the owning
// socket may connect or close it. For recv transports PeerSocketID names the
// remote side whose tracks flow over it.
type Transport struct {
	ID            TransportID
	OwnerSocketID SocketID
	Direction     Direction
	RoomName      RoomName
	PeerSocketID  SocketID
}

// Producer is an outbound track attached to a send transport.
type Producer struct {
	ID            ProducerID
	Kind          MediaKind
	OwnerSocketID SocketID
	RoomName      RoomName
	TransportID   TransportID
	MediaTag      string
	Paused        bool
}

// Consumer reads from exactly one Producer.
type Consumer struct {
	ID            ConsumerID
	ProducerID    ProducerID
	OwnerSocketID SocketID
	RoomName      RoomName
	TransportID   TransportID
}
