package store

import "time"

// Session binds a resumable session identifier to a user identity.
type Session struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	IsConnected bool   `json:"isConnected"`
	LastActive  int64  `json:"lastActive"` // Unix milliseconds
}

// MessageStatus is the delivery lifecycle stage of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Terminal reports whether no transition may leave s.
func (s MessageStatus) Terminal() bool {
	return s == StatusRead || s == StatusFailed
}

// CanTransition reports whether s -> next is an edge of the delivery state machine:
//
//	sending -> sent -> delivered -> read
//	sending -> failed
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	switch s {
	case StatusSending:
		return next == StatusSent || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered
	case StatusDelivered:
		return next == StatusRead
	default:
		return false
	}
}

// Attachment references a file already published by the upload service.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Message is an entry of a room's append-only log. Only Status ever changes.
type Message struct {
	ID          string        `json:"id"`
	RoomID      string        `json:"roomId"`
	SenderID    string        `json:"senderId"`
	Content     string        `json:"content"`
	Timestamp   int64         `json:"timestamp"` // Unix milliseconds
	Status      MessageStatus `json:"status"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Seq         uint64        `json:"seq"`
}

// RoomUser is the per-room projection of an identity's presence.
type RoomUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	IsOnline   bool   `json:"isOnline"`
	IsTyping   bool   `json:"isTyping"`
	LastActive int64  `json:"lastActive"`
}

// Room is the raw room record, secret included. It never leaves the process.
type Room struct {
	ID        string
	Name      string
	CreatorID string
	IsPrivate bool
	Password  string
	// Hashed marks Password as a bcrypt hash rather than a verbatim secret.
	Hashed   bool
	Users    []RoomUser
	Messages []Message
	Seq      uint64 // creation order among rooms
	NextMsg  uint64
	Created  time.Time
}

// RoomView is the sanitized room shape handed to clients; it carries no secret.
type RoomView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatorID string     `json:"creatorId"`
	IsPrivate bool       `json:"isPrivate"`
	Users     []RoomUser `json:"users"`
	Messages  []Message  `json:"messages"`
}

// NowMillis returns the current time as Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
