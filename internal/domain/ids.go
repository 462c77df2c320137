package domain

// Typed identifiers for everything the control plane tracks. Transport,
// producer and consumer ids are unique within a single worker process.
type (
	RoomName    string
	SocketID    string
	WorkerID    string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// Direction of a transport from the client's point of view.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}

// MediaKind of a produced track.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}
