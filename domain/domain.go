package domain

import "encoding/json"

const (
	TypePing        = "ping"
	TypePong        = "pong"
	TypeCreateRoom  = "createRoom"
	TypeRoomCreated = "roomCreated"
	TypeJoinRoom    = "joinRoom"
	TypeRoomJoined  = "roomJoined"
	TypeLeaveRoom   = "leaveRoom"
	TypeRoomLeft    = "roomLeft"
	TypeSyncMedia   = "syncMedia"
	TypeUserJoined  = "userJoined"
	TypeUserLeft    = "userLeft"
	TypeRoomError   = "roomError"
)

// IsInbound reports whether clients may send msgType.
func IsInbound(msgType string) bool {
	switch msgType {
	case TypePing, TypeCreateRoom, TypeJoinRoom, TypeLeaveRoom, TypeSyncMedia:
		return true
	}
	return false
}

// Frame is the envelope of every message on the wire in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Ping struct {
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"clientId,omitempty"`
}

type RoomRef struct {
	RoomCode  string `json:"roomCode"`
	UserCount int    `json:"userCount,omitempty"`
}

// SyncRequest is the client's syncMedia payload. RoomCode is accepted as an
// alias of RoomID.
type SyncRequest struct {
	RoomID     string          `json:"roomId"`
	RoomCode   string          `json:"roomCode,omitempty"`
	MediaState json.RawMessage `json:"mediaState"`
	SyncType   string          `json:"syncType,omitempty"`
}

func (r SyncRequest) Room() string {
	if r.RoomID != "" {
		return r.RoomID
	}
	return r.RoomCode
}

// SyncBroadcast is what other members (and late joiners) receive.
type SyncBroadcast struct {
	MediaState json.RawMessage `json:"mediaState"`
	SenderID   string          `json:"senderId"`
	SyncType   string          `json:"syncType,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	Resync     bool            `json:"resync,omitempty"`
}

type Presence struct {
	UserID    string `json:"userId"`
	UserCount int    `json:"userCount"`
}

type RoomError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CachedState is the last accepted media state of a room.
type CachedState struct {
	State      json.RawMessage
	ProducerID string
	SyncType   string
	Timestamp  int64 // unix millis, server clock
}

func (c CachedState) Broadcast(resync bool) SyncBroadcast {
	return SyncBroadcast{
		MediaState: c.State,
		SenderID:   c.ProducerID,
		SyncType:   c.SyncType,
		Timestamp:  c.Timestamp,
		Resync:     resync,
	}
}

type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

type MessageHandler interface {
	Connect(conn Connection)
	Handle(conn Connection, data []byte)
	Disconnect(conn Connection)
}

// Encode builds a wire frame. It only fails for payloads that cannot be
// marshalled, which none of the types above are.
func Encode(msgType string, payload any) ([]byte, error) {
	frame := Frame{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		frame.Payload = raw
	}
	return json.Marshal(frame)
}

// RemoteSync is an accepted update travelling between relay instances.
type RemoteSync struct {
	Instance   string          `json:"instance"`
	RoomCode   string          `json:"roomCode"`
	SenderID   string          `json:"senderId"`
	SyncType   string          `json:"syncType,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	MediaState json.RawMessage `json:"mediaState"`
}
