package core

import "github.com/vovakirdan/wirechat-rooms/internal/store"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventSession tells a freshly authenticated connection who it is.
	EventSession EventKind = iota
	// EventRooms delivers the rooms (with history) of the identity.
	EventRooms
	// EventNewMessage carries a message appended to a room.
	EventNewMessage
	// EventMessageStatus announces a delivery status change.
	EventMessageStatus
	// EventTyping announces a typing indicator change.
	EventTyping
	// EventUserJoined notifies room members about a new member.
	EventUserJoined
	// EventUserLeft notifies room members about a departed member.
	EventUserLeft
	// EventUserStatus announces a presence change.
	EventUserStatus
	// EventUsernameUpdated announces a rename to everyone.
	EventUsernameUpdated
	// EventRoomCreated tells the creator's other connections about a new room.
	EventRoomCreated
	// EventRoomJoined tells the joiner's other connections about a joined room.
	EventRoomJoined
	// EventAck acknowledges a client request.
	EventAck
	// EventError reports a failure that has no acknowledgement path.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind EventKind

	Room     string
	User     string
	Username string

	RoomView  *store.RoomView
	Rooms     []store.RoomView
	Member    *store.RoomUser
	Message   *store.Message
	MessageID string
	Status    store.MessageStatus
	IsTyping  bool
	IsOnline  bool
	// LastActive is in Unix milliseconds.
	LastActive int64
	SessionID  string

	// AckID and Reply are set for EventAck.
	AckID string
	Reply *Reply
	// Error is set for EventError.
	Error *CoreError
}
