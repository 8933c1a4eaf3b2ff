package core

import "github.com/vovakirdan/wirechat-rooms/internal/store"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandCreateRoom creates a room with the caller as first member.
	CommandCreateRoom CommandKind = iota
	// CommandJoinRoom adds the caller to an existing room.
	CommandJoinRoom
	// CommandLeaveRoom removes the caller from a room.
	CommandLeaveRoom
	// CommandSendMessage appends a message to a room and fans it out.
	CommandSendMessage
	// CommandMessageDelivered acknowledges receipt of a message.
	CommandMessageDelivered
	// CommandMessageRead marks a message as read.
	CommandMessageRead
	// CommandTyping toggles the caller's typing indicator.
	CommandTyping
	// CommandUpdateUsername renames the caller's identity.
	CommandUpdateUsername
)

var commandNames = [...]string{
	CommandCreateRoom:       "create_room",
	CommandJoinRoom:         "join_room",
	CommandLeaveRoom:        "leave_room",
	CommandSendMessage:      "send_message",
	CommandMessageDelivered: "message_delivered",
	CommandMessageRead:      "message_read",
	CommandTyping:           "typing",
	CommandUpdateUsername:   "update_username",
}

func (k CommandKind) String() string {
	if k < 0 || int(k) >= len(commandNames) {
		return "unknown"
	}
	return commandNames[k]
}

// roomScoped reports whether the command must pass the membership guard.
func (k CommandKind) roomScoped() bool {
	switch k {
	case CommandSendMessage, CommandMessageDelivered, CommandMessageRead, CommandTyping:
		return true
	default:
		return false
	}
}

// Command represents an action requested by a client. Only the payload
// fields of its Kind are meaningful.
type Command struct {
	Kind CommandKind
	Room string

	// create_room
	RoomName string
	// create_room, join_room
	Password string
	// send_message
	Content     string
	Attachments []store.Attachment
	// message_delivered, message_read
	MessageID string
	// typing
	IsTyping bool
	// update_username
	Username string
}

// Reply is the acknowledgement of a command.
type Reply struct {
	Room    *store.RoomView
	Message *store.Message
	Success *bool
	Error   *CoreError
}

func okReply(success bool) *Reply {
	return &Reply{Success: &success}
}

func errReply(err *CoreError) *Reply {
	return &Reply{Error: err}
}
