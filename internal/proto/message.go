package proto

import (
	"encoding/json"

	"github.com/vovakirdan/wirechat-rooms/internal/store"
)

// Inbound is the envelope for frames coming from the client. A non-empty Ack
// asks for an acknowledgement frame carrying the same id.
type Inbound struct {
	Type string          `json:"type"`
	Ack  string          `json:"ack,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello            = "hello"
	InboundTypeCreateRoom       = "create_room"
	InboundTypeJoinRoom         = "join_room"
	InboundTypeLeaveRoom        = "leave_room"
	InboundTypeSendMessage      = "send_message"
	InboundTypeMessageDelivered = "message_delivered"
	InboundTypeMessageRead      = "message_read"
	InboundTypeTyping           = "typing"
	InboundTypeUpdateUsername   = "update_username"

	OutboundTypeEvent = "event"
	OutboundTypeAck   = "ack"
	OutboundTypeError = "error"

	EventSession         = "session"
	EventRooms           = "rooms"
	EventNewMessage      = "new_message"
	EventMessageStatus   = "message_status"
	EventTyping          = "typing"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventUserStatus      = "user_status"
	EventUsernameUpdated = "username_updated"
	EventRoomCreated     = "room_created"
	EventRoomJoined      = "room_joined"
)

// HelloData opens the handshake: either a resumable session or a fresh name.
type HelloData struct {
	SessionID string `json:"sessionId,omitempty"`
	Username  string `json:"username,omitempty"`
	Protocol  int    `json:"protocol,omitempty"`
}

// CreateRoomData asks for a new room; a password makes it private.
type CreateRoomData struct {
	RoomName string `json:"roomName"`
	Password string `json:"password,omitempty"`
}

// JoinRoomData requests membership of an existing room.
type JoinRoomData struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password,omitempty"`
}

// RoomRef names a room. leave_room also accepts a bare JSON string.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// SendMessageData is a chat message from the client. To is accepted as an
// alias of RoomID.
type SendMessageData struct {
	RoomID      string             `json:"roomId,omitempty"`
	To          string             `json:"to,omitempty"`
	Content     string             `json:"content"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
}

// MessageRefData identifies a message for delivery acknowledgements.
type MessageRefData struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

// TypingData toggles the typing indicator of the sender.
type TypingData struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// UsernameData is the object form of update_username.
type UsernameData struct {
	Username string `json:"username"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Ack   string `json:"ack,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error describes a protocol-level error with no acknowledgement path.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// AckError is the structured error carried inside an acknowledgement.
type AckError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AckData is the acknowledgement payload. Exactly the fields relevant to the
// acknowledged request are set.
type AckData struct {
	Room    *store.RoomView `json:"room,omitempty"`
	Message *store.Message  `json:"message,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Error   *AckError       `json:"error,omitempty"`
}

// EventSessionData tells a client which identity it is bound to.
type EventSessionData struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

// EventRoomsData rehydrates the client's rooms after (re)connecting.
type EventRoomsData struct {
	JoinedRooms []store.RoomView `json:"joinedRooms"`
}

// EventMessageData carries a new message.
type EventMessageData struct {
	Message store.Message `json:"message"`
}

// EventMessageStatusData announces a delivery status change.
type EventMessageStatusData struct {
	RoomID    string              `json:"roomId"`
	MessageID string              `json:"messageId"`
	Status    store.MessageStatus `json:"status"`
}

// EventTypingData announces a typing change of UserID.
type EventTypingData struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// EventUserJoinedData notifies that a user joined a room.
type EventUserJoinedData struct {
	RoomID string         `json:"roomId"`
	User   store.RoomUser `json:"user"`
}

// EventUserLeftData notifies that a user left a room.
type EventUserLeftData struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// UserStatus is the presence part of a user_status event.
type UserStatus struct {
	IsOnline   bool  `json:"isOnline"`
	LastActive int64 `json:"lastActive"`
}

// EventUserStatusData announces a presence change.
type EventUserStatusData struct {
	UserID string     `json:"userId"`
	Status UserStatus `json:"status"`
}

// EventUsernameUpdatedData announces a rename.
type EventUsernameUpdatedData struct {
	UserID      string `json:"userId"`
	NewUsername string `json:"newUsername"`
}

// EventRoomData carries a room to the other connections of the same identity.
type EventRoomData struct {
	Room store.RoomView `json:"room"`
}
