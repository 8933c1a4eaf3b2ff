package core

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rooms/internal/metrics"
	"github.com/vovakirdan/wirechat-rooms/internal/store"
)

// Hub is the connection gateway. It authenticates connections against the
// session store, keeps the registries of live connections per identity and per
// room, applies commands to the room store and fans events out.
type Hub struct {
	rooms    *store.RoomStore
	sessions *store.SessionStore
	log      *zerolog.Logger
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	all    group
	byUser map[string]group
	byRoom map[string]group
	// seq serializes append + fan-out per room so every member sees one order.
	seq map[string]*sync.Mutex

	// connMu serializes connect and disconnect so presence flips of one
	// identity never interleave.
	connMu sync.Mutex
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.log = logger
		}
	}
}

// WithMetrics sets the collectors updated by the hub.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a hub over the given stores.
func NewHub(rooms *store.RoomStore, sessions *store.SessionStore, opts ...Option) *Hub {
	nop := zerolog.Nop()
	h := &Hub{
		rooms:    rooms,
		sessions: sessions,
		log:      &nop,
		all:      make(group),
		byUser:   make(map[string]group),
		byRoom:   make(map[string]group),
		seq:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run blocks until ctx is done and then closes every live connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.all))
	for c := range h.all {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
	h.log.Info().Int("connections", len(clients)).Msg("hub stopped")
}

// Authenticate resolves the handshake: a known session is resumed, otherwise
// a username is mandatory and a new identity is minted.
func (h *Hub) Authenticate(sessionID, username string) (Identity, error) {
	if sessionID != "" {
		if sess, ok := h.sessions.Resolve(sessionID); ok {
			return Identity{SessionID: sess.ID, UserID: sess.UserID, Username: sess.Username}, nil
		}
	}

	username = strings.TrimSpace(username)
	if username == "" {
		h.metrics.Error(ErrCodeUsernameRequired)
		return Identity{}, ErrUsernameRequired
	}
	return Identity{
		SessionID: uuid.NewString(),
		UserID:    uuid.NewString(),
		Username:  username,
	}, nil
}

// Connect activates c for ident: persists the session, registers the
// connection under its identity and rooms, queues the session and rooms
// events, and announces the identity online.
func (h *Hub) Connect(ctx context.Context, c *Client, ident Identity) {
	h.connMu.Lock()
	defer h.connMu.Unlock()

	c.identity = ident
	h.sessions.Upsert(ctx, ident.SessionID, ident.UserID, ident.Username, true)

	// Only the first connection of an identity flips it online.
	first := h.Connections(ident.UserID) == 0
	var (
		affected   []string
		lastActive int64
	)
	if first {
		affected, lastActive = h.rooms.SetPresence(ident.UserID, true)
	}

	h.metrics.ConnectionOpened()

	// A message appended while this snapshot is taken may show up both in the
	// history and as a live message; clients dedupe by message id.
	h.mu.Lock()
	joined := h.rooms.RoomsFor(ident.UserID)
	h.all.add(c)
	h.userGroupLocked(ident.UserID).add(c)
	for _, room := range joined {
		h.roomGroupLocked(room.ID).add(c)
	}
	c.SetState(StateActive)
	// The queue of a new client is empty, so both fit before any broadcast.
	c.deliver(&Event{Kind: EventSession, User: ident.UserID, Username: ident.Username, SessionID: ident.SessionID})
	c.deliver(&Event{Kind: EventRooms, Rooms: joined})
	h.mu.Unlock()

	if first {
		h.broadcastStatus(ident.UserID, affected, true, lastActive)
	}

	h.log.Info().
		Str("client_id", c.ID).
		Str("user_id", ident.UserID).
		Int("rooms", len(joined)).
		Msg("connection active")
}

// Disconnect deregisters c. The identity goes offline only when c was its
// last live connection.
func (h *Hub) Disconnect(ctx context.Context, c *Client) {
	h.connMu.Lock()
	defer h.connMu.Unlock()

	prev := c.State()
	if prev == StateDisconnected {
		return
	}
	c.SetState(StateDisconnected)
	c.close()
	if prev != StateActive {
		return
	}

	userID := c.UserID()
	h.mu.Lock()
	h.all.remove(c)
	remaining := 0
	if g, ok := h.byUser[userID]; ok {
		g.remove(c)
		remaining = len(g)
		if remaining == 0 {
			delete(h.byUser, userID)
		}
	}
	for roomID, g := range h.byRoom {
		if g.remove(c) && len(g) == 0 {
			delete(h.byRoom, roomID)
		}
	}
	h.mu.Unlock()
	h.metrics.ConnectionClosed()

	if remaining > 0 {
		h.log.Debug().Str("client_id", c.ID).Str("user_id", userID).Int("remaining", remaining).Msg("connection closed, identity still online")
		return
	}

	h.sessions.Upsert(ctx, c.SessionID(), userID, h.usernameOf(c), false)
	affected, lastActive := h.rooms.SetPresence(userID, false)
	h.broadcastStatus(userID, affected, false, lastActive)

	h.log.Info().Str("client_id", c.ID).Str("user_id", userID).Msg("identity offline")
}

// Online reports whether the identity has at least one live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// Connections returns the number of live connections of an identity.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Dispatch applies a command from c and returns its acknowledgement.
// Room-scoped commands on a room the caller does not belong to never reach the store.
func (h *Hub) Dispatch(ctx context.Context, c *Client, cmd *Command) *Reply {
	if c.State() != StateActive {
		return h.fail(accessDenied())
	}
	h.metrics.Command(cmd.Kind.String())

	if cmd.Kind.roomScoped() {
		if cmd.Room == "" {
			return h.fail(Malformed("Missing roomId or to field"))
		}
		if !h.rooms.IsMember(cmd.Room, c.UserID()) {
			h.log.Warn().Str("user_id", c.UserID()).Str("room_id", cmd.Room).Str("command", cmd.Kind.String()).Msg("access denied")
			return h.fail(accessDenied())
		}
	}

	switch cmd.Kind {
	case CommandCreateRoom:
		return h.createRoom(c, cmd)
	case CommandJoinRoom:
		return h.joinRoom(c, cmd)
	case CommandLeaveRoom:
		return h.leaveRoom(c, cmd)
	case CommandSendMessage:
		return h.sendMessage(c, cmd)
	case CommandMessageDelivered:
		return h.markMessage(c, cmd, store.StatusDelivered)
	case CommandMessageRead:
		return h.markMessage(c, cmd, store.StatusRead)
	case CommandTyping:
		return h.typing(c, cmd)
	case CommandUpdateUsername:
		return h.updateUsername(ctx, c, cmd)
	default:
		return h.fail(Malformed("unknown command"))
	}
}

// CreateRoomFor creates a room on behalf of an identity outside the websocket
// (HTTP). The creator is stored online only while it has a live connection;
// every such connection joins the room and is told about it.
func (h *Hub) CreateRoomFor(userID, username, name, password string) (store.RoomView, error) {
	hash, err := store.HashSecret(password)
	if err != nil {
		return store.RoomView{}, err
	}
	creator := store.NewRoomUser(userID, username)

	// connMu keeps the presence of the creator from flipping in between.
	h.connMu.Lock()
	creator.IsOnline = h.Connections(userID) > 0
	h.mu.Lock()
	view := h.rooms.CreateHashedRoom(strings.TrimSpace(name), creator, hash)
	h.attachUserLocked(userID, view.ID)
	h.mu.Unlock()
	h.connMu.Unlock()

	h.toUser(userID, &Event{Kind: EventRoomCreated, RoomView: &view}, nil)
	h.log.Info().Str("room_id", view.ID).Str("user_id", userID).Bool("online", creator.IsOnline).Msg("room created for identity")
	return view, nil
}

func (h *Hub) createRoom(c *Client, cmd *Command) *Reply {
	userID := c.UserID()

	h.mu.Lock()
	view := h.rooms.CreateRoom(strings.TrimSpace(cmd.RoomName), userID, h.usernameOf(c), cmd.Password)
	h.attachUserLocked(userID, view.ID)
	h.mu.Unlock()

	h.toUser(userID, &Event{Kind: EventRoomCreated, RoomView: &view}, c)
	h.log.Info().Str("room_id", view.ID).Str("user_id", userID).Bool("private", view.IsPrivate).Msg("room created")
	return &Reply{Room: &view}
}

func (h *Hub) joinRoom(c *Client, cmd *Command) *Reply {
	if cmd.Room == "" {
		return h.fail(Malformed("Missing roomId"))
	}
	userID := c.UserID()
	member := store.NewRoomUser(userID, h.usernameOf(c))

	// Holding the room lock keeps appends out between the history snapshot
	// and the attach, so a message is either in the view or delivered live.
	lock := h.roomLock(cmd.Room)
	lock.Lock()
	h.mu.Lock()
	view, err := h.rooms.Join(cmd.Room, member, cmd.Password)
	if err == nil {
		h.attachUserLocked(userID, cmd.Room)
	} else {
		h.dropRoomLocked(cmd.Room)
	}
	h.mu.Unlock()
	if err != nil {
		lock.Unlock()
		return h.fail(fromStore(err))
	}

	h.toRoom(cmd.Room, &Event{Kind: EventUserJoined, Room: cmd.Room, Member: &member}, skipUser(userID))
	h.toUser(userID, &Event{Kind: EventRoomJoined, RoomView: &view}, c)
	lock.Unlock()
	h.log.Info().Str("room_id", cmd.Room).Str("user_id", userID).Msg("room joined")
	return &Reply{Room: &view}
}

func (h *Hub) leaveRoom(c *Client, cmd *Command) *Reply {
	if cmd.Room == "" {
		return h.fail(Malformed("Missing roomId"))
	}
	userID := c.UserID()

	h.mu.Lock()
	left := h.rooms.Leave(cmd.Room, userID)
	if left {
		if g, ok := h.byRoom[cmd.Room]; ok {
			for conn := range h.byUser[userID] {
				g.remove(conn)
			}
			if len(g) == 0 {
				delete(h.byRoom, cmd.Room)
			}
		}
		h.dropRoomLocked(cmd.Room)
	}
	h.mu.Unlock()

	if left {
		h.toRoom(cmd.Room, &Event{Kind: EventUserLeft, Room: cmd.Room, User: userID}, nil)
		h.log.Info().Str("room_id", cmd.Room).Str("user_id", userID).Msg("room left")
	}
	return okReply(left)
}

func (h *Hub) sendMessage(c *Client, cmd *Command) *Reply {
	if strings.TrimSpace(cmd.Content) == "" && len(cmd.Attachments) == 0 {
		return h.fail(Malformed("Message content is required"))
	}

	lock := h.roomLock(cmd.Room)
	lock.Lock()
	defer lock.Unlock()

	msg, ok := h.rooms.AppendMessage(cmd.Room, store.Message{
		ID:          uuid.NewString(),
		SenderID:    c.UserID(),
		Content:     cmd.Content,
		Timestamp:   store.NowMillis(),
		Status:      store.StatusSent,
		Attachments: cmd.Attachments,
	})
	if !ok {
		h.mu.Lock()
		h.dropRoomLocked(cmd.Room)
		h.mu.Unlock()
		return h.fail(fromStore(store.ErrRoomNotFound))
	}
	h.metrics.MessageAppended()

	h.toRoom(cmd.Room, &Event{Kind: EventNewMessage, Room: cmd.Room, Message: &msg}, skipClient(c))
	return &Reply{Message: &msg}
}

func (h *Hub) markMessage(c *Client, cmd *Command, status store.MessageStatus) *Reply {
	if cmd.MessageID == "" {
		return h.fail(Malformed("Missing messageId"))
	}

	msg, ok := h.rooms.MessageStatus(cmd.Room, cmd.MessageID)
	if !ok || msg.SenderID == c.UserID() {
		return okReply(false)
	}
	if _, ok := h.rooms.AdvanceMessageStatus(cmd.Room, cmd.MessageID, status); !ok {
		h.log.Debug().Str("message_id", cmd.MessageID).Str("from", string(msg.Status)).Str("to", string(status)).Msg("status transition ignored")
		return okReply(false)
	}

	h.toRoom(cmd.Room, &Event{Kind: EventMessageStatus, Room: cmd.Room, MessageID: cmd.MessageID, Status: status}, nil)
	return okReply(true)
}

func (h *Hub) typing(c *Client, cmd *Command) *Reply {
	userID := c.UserID()
	h.rooms.SetTyping(cmd.Room, userID, cmd.IsTyping)
	h.toRoom(cmd.Room, &Event{Kind: EventTyping, Room: cmd.Room, User: userID, IsTyping: cmd.IsTyping}, skipClient(c))
	return okReply(true)
}

func (h *Hub) updateUsername(ctx context.Context, c *Client, cmd *Command) *Reply {
	name := strings.TrimSpace(cmd.Username)
	if name == "" {
		return okReply(false)
	}
	if !h.sessions.Rename(ctx, c.SessionID(), name) {
		return okReply(false)
	}
	userID := c.UserID()
	h.rooms.RenameMember(userID, name)

	h.toAll(&Event{Kind: EventUsernameUpdated, User: userID, Username: name})
	return okReply(true)
}

// Refuse counts err and wraps it as a reply, for failures detected before dispatch.
func (h *Hub) Refuse(err *CoreError) *Reply {
	return h.fail(err)
}

func (h *Hub) fail(err *CoreError) *Reply {
	h.metrics.Error(err.Code)
	return errReply(err)
}

// usernameOf returns the current name of the identity behind c; renames go
// through the session store.
func (h *Hub) usernameOf(c *Client) string {
	if sess, ok := h.sessions.Resolve(c.SessionID()); ok {
		return sess.Username
	}
	return c.identity.Username
}

func (h *Hub) roomLock(roomID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.seq[roomID]
	if !ok {
		m = &sync.Mutex{}
		h.seq[roomID] = m
	}
	return m
}

// dropRoomLocked forgets the lock and connection group of a room the store
// no longer has.
func (h *Hub) dropRoomLocked(roomID string) {
	if h.rooms.Exists(roomID) {
		return
	}
	delete(h.seq, roomID)
	delete(h.byRoom, roomID)
}

func (h *Hub) userGroupLocked(userID string) group {
	g, ok := h.byUser[userID]
	if !ok {
		g = make(group)
		h.byUser[userID] = g
	}
	return g
}

func (h *Hub) roomGroupLocked(roomID string) group {
	g, ok := h.byRoom[roomID]
	if !ok {
		g = make(group)
		h.byRoom[roomID] = g
	}
	return g
}

func (h *Hub) attachUserLocked(userID, roomID string) {
	conns := h.byUser[userID]
	if len(conns) == 0 {
		return
	}
	g := h.roomGroupLocked(roomID)
	for c := range conns {
		g.add(c)
	}
}

func (h *Hub) broadcastStatus(userID string, roomIDs []string, online bool, lastActive int64) {
	if len(roomIDs) == 0 {
		return
	}
	h.toRooms(roomIDs, &Event{
		Kind:       EventUserStatus,
		User:       userID,
		IsOnline:   online,
		LastActive: lastActive,
	}, skipUser(userID))
}

func (h *Hub) toRoom(roomID string, ev *Event, skip func(*Client) bool) {
	h.toRooms([]string{roomID}, ev, skip)
}

func (h *Hub) toRooms(roomIDs []string, ev *Event, skip func(*Client) bool) {
	h.mu.RLock()
	seen := make(map[*Client]struct{})
	var targets []*Client
	for _, id := range roomIDs {
		if g, ok := h.byRoom[id]; ok {
			targets = g.collect(targets, seen, skip)
		}
	}
	h.mu.RUnlock()

	h.fanout(targets, ev)
}

func (h *Hub) toUser(userID string, ev *Event, except *Client) {
	h.mu.RLock()
	targets := h.byUser[userID].collect(nil, make(map[*Client]struct{}), skipClient(except))
	h.mu.RUnlock()

	h.fanout(targets, ev)
}

func (h *Hub) toAll(ev *Event) {
	h.mu.RLock()
	targets := h.all.collect(nil, make(map[*Client]struct{}), nil)
	h.mu.RUnlock()

	h.fanout(targets, ev)
}

func (h *Hub) fanout(targets []*Client, ev *Event) {
	dropped := 0
	for _, c := range targets {
		if !c.deliver(ev) {
			dropped++
		}
	}
	if dropped > 0 {
		h.metrics.Dropped(dropped)
		h.log.Debug().Int("dropped", dropped).Int("kind", int(ev.Kind)).Msg("event dropped for slow consumers")
	}
}

func skipClient(c *Client) func(*Client) bool {
	if c == nil {
		return nil
	}
	return func(other *Client) bool { return other == c }
}

func skipUser(userID string) func(*Client) bool {
	return func(other *Client) bool { return other.UserID() == userID }
}
