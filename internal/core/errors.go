package core

import (
	"errors"

	"github.com/vovakirdan/wirechat-rooms/internal/store"
)

// Error codes sent to clients.
const (
	ErrCodeRoomNotFound       = "room-not-found"
	ErrCodeAlreadyInRoom      = "already-in-room"
	ErrCodePasswordRequired   = "password-required"
	ErrCodeInvalidPassword    = "invalid-password"
	ErrCodeAccessDenied       = "access-denied"
	ErrCodeUsernameRequired   = "username-required"
	ErrCodeMalformedEvent     = "malformed-event"
	ErrCodeUnsupportedVersion = "unsupported-version"
	ErrCodeRateLimited        = "rate-limited"
)

var (
	// ErrUsernameRequired fails a handshake that neither resumes a session nor names the user.
	ErrUsernameRequired = coreError(ErrCodeUsernameRequired, "Username required")
	// ErrUnsupportedVersion fails a handshake announcing another protocol version.
	ErrUnsupportedVersion = coreError(ErrCodeUnsupportedVersion, "Unsupported protocol version")
	// ErrRateLimited refuses frames over the per-connection budget.
	ErrRateLimited = coreError(ErrCodeRateLimited, "Too many messages")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// Malformed reports a missing or invalid field of an inbound event.
func Malformed(msg string) *CoreError {
	return coreError(ErrCodeMalformedEvent, msg)
}

func accessDenied() *CoreError {
	return coreError(ErrCodeAccessDenied, "The room does not exist or you are not a member")
}

// fromStore maps RoomStore errors to client-facing codes.
func fromStore(err error) *CoreError {
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		return coreError(ErrCodeRoomNotFound, "Room not found")
	case errors.Is(err, store.ErrAlreadyMember):
		return coreError(ErrCodeAlreadyInRoom, "Already in room")
	case errors.Is(err, store.ErrPasswordRequired):
		return coreError(ErrCodePasswordRequired, "Password required")
	case errors.Is(err, store.ErrInvalidPassword):
		return coreError(ErrCodeInvalidPassword, "Invalid password")
	default:
		return Malformed(err.Error())
	}
}
