package store

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrAlreadyMember    = errors.New("already in room")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
)
