package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-rooms/internal/auth"
)

// RoomStore keeps rooms, their members and message logs in memory.
// A room exists exactly as long as it has at least one member.
type RoomStore struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	nextRoom uint64
}

// NewRoomStore creates an empty room store.
func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*Room),
	}
}

// CreateRoom creates a room seeded with its creator as the only member.
// An empty password makes the room public.
func (s *RoomStore) CreateRoom(name, creatorID, creatorUsername, password string) RoomView {
	return s.insert(name, NewRoomUser(creatorID, creatorUsername), password, false)
}

// CreateRoomWithSecret creates a room whose secret is stored as a bcrypt hash.
// The creator entry is stored as given, including its online flag.
func (s *RoomStore) CreateRoomWithSecret(name string, creator RoomUser, password string) (RoomView, error) {
	hash, err := HashSecret(password)
	if err != nil {
		return RoomView{}, err
	}
	return s.CreateHashedRoom(name, creator, hash), nil
}

// HashSecret hashes a room password. An empty password stays empty.
func HashSecret(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	return auth.HashPassword(password)
}

// CreateHashedRoom creates a room from a secret already produced by HashSecret.
func (s *RoomStore) CreateHashedRoom(name string, creator RoomUser, hash string) RoomView {
	return s.insert(name, creator, hash, hash != "")
}

func (s *RoomStore) insert(name string, creator RoomUser, secret string, hashed bool) RoomView {
	id := uuid.NewString()
	if name == "" {
		name = "Room - " + id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRoom++
	room := &Room{
		ID:        id,
		Name:      name,
		CreatorID: creator.ID,
		IsPrivate: secret != "",
		Password:  secret,
		Hashed:    hashed,
		Users:     []RoomUser{creator},
		Messages:  make([]Message, 0),
		Seq:       s.nextRoom,
		Created:   time.Now(),
	}
	s.rooms[id] = room
	return room.view()
}

// NewRoomUser builds the presence entry of a freshly joined, online identity.
func NewRoomUser(id, username string) RoomUser {
	return RoomUser{
		ID:         id,
		Username:   username,
		IsOnline:   true,
		LastActive: NowMillis(),
	}
}

// GetRoom returns the sanitized room view.
func (s *RoomStore) GetRoom(id string) (RoomView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return RoomView{}, false
	}
	return room.view(), true
}

// GetRoomWithSecret returns a copy of the raw record for membership and auth checks.
func (s *RoomStore) GetRoomWithSecret(id string) (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return Room{}, false
	}
	cp := *room
	cp.Users = append([]RoomUser(nil), room.Users...)
	cp.Messages = copyMessages(room.Messages)
	return cp, true
}

// VerifyPassword checks candidate against the room secret.
func (s *RoomStore) VerifyPassword(id, candidate string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return false
	}
	return room.verify(candidate)
}

// Join adds user to the room and returns the sanitized view.
func (s *RoomStore) Join(roomID string, user RoomUser, password string) (RoomView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return RoomView{}, ErrRoomNotFound
	}
	if room.indexOf(user.ID) >= 0 {
		return RoomView{}, ErrAlreadyMember
	}
	if room.IsPrivate {
		if password == "" {
			return RoomView{}, ErrPasswordRequired
		}
		if !room.verify(password) {
			return RoomView{}, ErrInvalidPassword
		}
	}

	user.LastActive = NowMillis()
	room.Users = append(room.Users, user)
	return room.view(), nil
}

// Leave removes the membership and deletes the room once nobody is left.
// It reports whether a membership was removed.
func (s *RoomStore) Leave(roomID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	idx := room.indexOf(userID)
	if idx < 0 {
		return false
	}
	room.Users = append(room.Users[:idx], room.Users[idx+1:]...)
	if len(room.Users) == 0 {
		delete(s.rooms, roomID)
	}
	return true
}

// AppendMessage appends msg to the room log, assigning its sequence number.
// A message for a room that no longer exists is dropped.
func (s *RoomStore) AppendMessage(roomID string, msg Message) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return Message{}, false
	}
	room.NextMsg++
	msg.RoomID = roomID
	msg.Seq = room.NextMsg
	room.Messages = append(room.Messages, msg)
	return copyMessage(msg), true
}

// MessageStatus returns the message with its current delivery status.
func (s *RoomStore) MessageStatus(roomID, messageID string) (Message, bool) {
	return s.GetMessage(roomID, messageID)
}

// GetMessage looks up a single message.
func (s *RoomStore) GetMessage(roomID, messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return Message{}, false
	}
	for i := range room.Messages {
		if room.Messages[i].ID == messageID {
			return copyMessage(room.Messages[i]), true
		}
	}
	return Message{}, false
}

// TransitionMessageStatus overwrites the status of a message. Any transition is
// accepted here; callers decide which ones are legal.
func (s *RoomStore) TransitionMessageStatus(roomID, messageID string, status MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	for i := range room.Messages {
		if room.Messages[i].ID == messageID {
			room.Messages[i].Status = status
			return true
		}
	}
	return false
}

// AdvanceMessageStatus applies status only if it is a legal transition from the
// current one, checking and writing under the same lock.
func (s *RoomStore) AdvanceMessageStatus(roomID, messageID string, status MessageStatus) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return Message{}, false
	}
	for i := range room.Messages {
		m := &room.Messages[i]
		if m.ID != messageID {
			continue
		}
		if !m.Status.CanTransition(status) {
			return copyMessage(*m), false
		}
		m.Status = status
		return copyMessage(*m), true
	}
	return Message{}, false
}

// SetTyping updates the typing flag of a member.
func (s *RoomStore) SetTyping(roomID, userID string, isTyping bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	idx := room.indexOf(userID)
	if idx < 0 {
		return false
	}
	room.Users[idx].IsTyping = isTyping
	room.Users[idx].LastActive = NowMillis()
	return true
}

// SetPresence updates the online flag of userID in every room it belongs to and
// returns the ids of those rooms. Going offline also clears typing.
func (s *RoomStore) SetPresence(userID string, isOnline bool) ([]string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := NowMillis()
	var affected []string
	for _, room := range s.sortedLocked() {
		idx := room.indexOf(userID)
		if idx < 0 {
			continue
		}
		u := &room.Users[idx]
		u.IsOnline = isOnline
		if !isOnline {
			u.IsTyping = false
		}
		u.LastActive = now
		affected = append(affected, room.ID)
	}
	return affected, now
}

// RenameMember changes the username of userID in every room it belongs to.
func (s *RoomStore) RenameMember(userID, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := false
	for _, room := range s.rooms {
		if idx := room.indexOf(userID); idx >= 0 {
			room.Users[idx].Username = username
			updated = true
		}
	}
	return updated
}

// RoomsFor returns every room userID is a member of, in creation order.
func (s *RoomStore) RoomsFor(userID string) []RoomView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]RoomView, 0)
	for _, room := range s.sortedLocked() {
		if room.indexOf(userID) >= 0 {
			views = append(views, room.view())
		}
	}
	return views
}

// Members returns the ids of the room's members in join order, or nil if the
// room is gone.
func (s *RoomStore) Members(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, len(room.Users))
	for i := range room.Users {
		ids[i] = room.Users[i].ID
	}
	return ids
}

// IsMember reports whether userID belongs to roomID. False if the room is gone.
func (s *RoomStore) IsMember(roomID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	return ok && room.indexOf(userID) >= 0
}

// Exists reports whether the room is live.
func (s *RoomStore) Exists(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Len returns the number of live rooms.
func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *RoomStore) sortedLocked() []*Room {
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Seq < rooms[j].Seq })
	return rooms
}

func (r *Room) indexOf(userID string) int {
	for i := range r.Users {
		if r.Users[i].ID == userID {
			return i
		}
	}
	return -1
}

func (r *Room) verify(candidate string) bool {
	if r.Hashed {
		return auth.ComparePassword(r.Password, candidate) == nil
	}
	return r.Password == candidate
}

func (r *Room) view() RoomView {
	return RoomView{
		ID:        r.ID,
		Name:      r.Name,
		CreatorID: r.CreatorID,
		IsPrivate: r.IsPrivate,
		Users:     append(make([]RoomUser, 0, len(r.Users)), r.Users...),
		Messages:  copyMessages(r.Messages),
	}
}

func copyMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i := range msgs {
		out[i] = copyMessage(msgs[i])
	}
	return out
}

func copyMessage(m Message) Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return m
}
