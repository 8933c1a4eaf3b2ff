package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vovakirdan/wirechat-rooms/internal/store"
)

func TestAuthenticateRequiresUsername(t *testing.T) {
	hub := newTestHub(t)

	if _, err := hub.Authenticate("", "   "); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("expected ErrUsernameRequired, got %v", err)
	}
	if _, err := hub.Authenticate("unknown-session", ""); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("unknown session without username should fail, got %v", err)
	}

	ident, err := hub.Authenticate("unknown-session", "alice")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ident.SessionID == "unknown-session" || ident.UserID == "" || ident.Username != "alice" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestHubCreateJoinSendAndLeave(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice, _ := connect(t, hub, "a", "", "alice")
	bob, _ := connect(t, hub, "b", "", "bob")

	room := mustRoom(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandCreateRoom, RoomName: "general"}))
	if room.Name != "general" || room.CreatorID != alice.UserID() || room.IsPrivate {
		t.Fatalf("unexpected room: %+v", room)
	}

	joined := mustRoom(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandJoinRoom, Room: room.ID}))
	if len(joined.Users) != 2 {
		t.Fatalf("expected 2 members, got %d", len(joined.Users))
	}

	joinEv := mustEvent(t, alice.Events(), EventUserJoined)
	if joinEv.Room != room.ID || joinEv.Member == nil || joinEv.Member.ID != bob.UserID() || joinEv.Member.Username != "bob" {
		t.Fatalf("unexpected join event: %+v", joinEv)
	}

	reply := hub.Dispatch(ctx, bob, &Command{Kind: CommandSendMessage, Room: room.ID, Content: "hi"})
	if reply.Error != nil || reply.Message == nil {
		t.Fatalf("unexpected send reply: %+v", reply)
	}
	if reply.Message.Status != store.StatusSent || reply.Message.SenderID != bob.UserID() || reply.Message.Seq != 1 {
		t.Fatalf("unexpected message: %+v", reply.Message)
	}

	msgEv := mustEvent(t, alice.Events(), EventNewMessage)
	if msgEv.Message.ID != reply.Message.ID || msgEv.Message.Content != "hi" {
		t.Fatalf("unexpected message event: %+v", msgEv)
	}
	noEvent(t, bob.Events(), EventNewMessage)

	mustSuccess(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandLeaveRoom, Room: room.ID}), true)
	leftEv := mustEvent(t, alice.Events(), EventUserLeft)
	if leftEv.User != bob.UserID() || leftEv.Room != room.ID {
		t.Fatalf("unexpected leave event: %+v", leftEv)
	}

	mustSuccess(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandLeaveRoom, Room: room.ID}), false)
}

func TestHubJoinErrors(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice, _ := connect(t, hub, "a", "", "alice")
	bob, _ := connect(t, hub, "b", "", "bob")

	room := mustRoom(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandCreateRoom, RoomName: "secret", Password: "pw"}))
	if !room.IsPrivate {
		t.Fatal("room with password must be private")
	}

	tests := []struct {
		name string
		cmd  *Command
		who  *Client
		code string
	}{
		{"missing room", &Command{Kind: CommandJoinRoom, Room: "nope"}, bob, ErrCodeRoomNotFound},
		{"already member", &Command{Kind: CommandJoinRoom, Room: room.ID, Password: "pw"}, alice, ErrCodeAlreadyInRoom},
		{"no password", &Command{Kind: CommandJoinRoom, Room: room.ID}, bob, ErrCodePasswordRequired},
		{"wrong password", &Command{Kind: CommandJoinRoom, Room: room.ID, Password: "bad"}, bob, ErrCodeInvalidPassword},
		{"empty room id", &Command{Kind: CommandJoinRoom}, bob, ErrCodeMalformedEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mustCode(t, hub.Dispatch(ctx, tt.who, tt.cmd), tt.code)
		})
	}

	mustRoom(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandJoinRoom, Room: room.ID, Password: "pw"}))
}

func TestHubNonMemberIsDenied(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice, _ := connect(t, hub, "a", "", "alice")
	mallory, _ := connect(t, hub, "m", "", "mallory")

	room := mustRoom(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandCreateRoom, RoomName: "general"}))

	for _, cmd := range []*Command{
		{Kind: CommandSendMessage, Room: room.ID, Content: "spam"},
		{Kind: CommandTyping, Room: room.ID, IsTyping: true},
		{Kind: CommandMessageRead, Room: room.ID, MessageID: "x"},
		{Kind: CommandSendMessage, Room: "missing", Content: "spam"},
	} {
		mustCode(t, hub.Dispatch(ctx, mallory, cmd), ErrCodeAccessDenied)
	}

	view, _ := hub.rooms.GetRoom(room.ID)
	if len(view.Messages) != 0 {
		t.Fatalf("denied send must not append, got %d messages", len(view.Messages))
	}
	noEvent(t, alice.Events(), EventNewMessage)
}

func TestHubDeliveryStatus(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice, _ := connect(t, hub, "a", "", "alice")
	bob, _ := connect(t, hub, "b", "", "bob")

	room := mustRoom(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandCreateRoom}))
	mustRoom(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandJoinRoom, Room: room.ID}))

	sent := hub.Dispatch(ctx, alice, &Command{Kind: CommandSendMessage, Room: room.ID, Content: "hello"})
	msgID := sent.Message.ID

	// The sender cannot acknowledge its own message.
	mustSuccess(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandMessageDelivered, Room: room.ID, MessageID: msgID}), false)
	// sent -> read skips delivered.
	mustSuccess(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandMessageRead, Room: room.ID, MessageID: msgID}), false)

	mustSuccess(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandMessageDelivered, Room: room.ID, MessageID: msgID}), true)
	for _, c := range []*Client{alice, bob} {
		ev := mustEvent(t, c.Events(), EventMessageStatus)
		if ev.MessageID != msgID || ev.Status != store.StatusDelivered || ev.Room != room.ID {
			t.Fatalf("unexpected status event: %+v", ev)
		}
	}

	mustSuccess(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandMessageRead, Room: room.ID, MessageID: msgID}), true)
	mustSuccess(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandMessageDelivered, Room: room.ID, MessageID: msgID}), false)
	mustSuccess(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandMessageRead, Room: room.ID, MessageID: "unknown"}), false)

	msg, _ := hub.rooms.GetMessage(room.ID, msgID)
	if msg.Status != store.StatusRead {
		t.Fatalf("expected read, got %s", msg.Status)
	}
}

func TestHubTypingExcludesSender(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice, _ := connect(t, hub, "a", "", "alice")
	bob, _ := connect(t, hub, "b", "", "bob")

	room := mustRoom(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandCreateRoom}))
	mustRoom(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandJoinRoom, Room: room.ID}))

	mustSuccess(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandTyping, Room: room.ID, IsTyping: true}), true)

	ev := mustEvent(t, alice.Events(), EventTyping)
	if ev.User != bob.UserID() || !ev.IsTyping {
		t.Fatalf("unexpected typing event: %+v", ev)
	}
	noEvent(t, bob.Events(), EventTyping)
}

func TestHubTwoTabsPresence(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	tab1, _ := connect(t, hub, "a1", "", "alice")
	bob, _ := connect(t, hub, "b", "", "bob")

	room := mustRoom(t, hub.Dispatch(ctx, tab1, &Command{Kind: CommandCreateRoom}))
	mustRoom(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandJoinRoom, Room: room.ID}))

	tab2, rooms := connect(t, hub, "a2", tab1.SessionID(), "")
	if tab2.UserID() != tab1.UserID() {
		t.Fatalf("second tab must resume the same identity")
	}
	if len(rooms) != 1 || rooms[0].ID != room.ID {
		t.Fatalf("second tab should be rehydrated with the room, got %+v", rooms)
	}
	if hub.Connections(tab1.UserID()) != 2 {
		t.Fatalf("expected 2 connections, got %d", hub.Connections(tab1.UserID()))
	}

	// Both tabs receive room traffic.
	hub.Dispatch(ctx, bob, &Command{Kind: CommandSendMessage, Room: room.ID, Content: "hey"})
	mustEvent(t, tab1.Events(), EventNewMessage)
	mustEvent(t, tab2.Events(), EventNewMessage)

	hub.Disconnect(ctx, tab1)
	noEvent(t, bob.Events(), EventUserStatus)
	if !hub.Online(tab2.UserID()) {
		t.Fatal("identity must stay online while a tab is open")
	}

	hub.Disconnect(ctx, tab2)
	ev := mustEvent(t, bob.Events(), EventUserStatus)
	if ev.User != tab2.UserID() || ev.IsOnline {
		t.Fatalf("unexpected status event: %+v", ev)
	}

	view, _ := hub.rooms.GetRoom(room.ID)
	for _, u := range view.Users {
		if u.ID == tab2.UserID() && u.IsOnline {
			t.Fatal("member should be offline in the room")
		}
	}
	sess, ok := hub.sessions.Resolve(tab2.SessionID())
	if !ok || sess.IsConnected {
		t.Fatalf("session should be kept and marked disconnected: %+v", sess)
	}

	// Disconnecting twice is a no-op.
	hub.Disconnect(ctx, tab2)
}

func TestHubReconnectRehydratesHistory(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice, _ := connect(t, hub, "a", "", "alice")
	bob, _ := connect(t, hub, "b", "", "bob")
	room := mustRoom(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandCreateRoom, RoomName: "history"}))
	mustRoom(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandJoinRoom, Room: room.ID}))

	for _, text := range []string{"one", "two", "three"} {
		hub.Dispatch(ctx, alice, &Command{Kind: CommandSendMessage, Room: room.ID, Content: text})
	}
	hub.Disconnect(ctx, alice)
	mustEvent(t, bob.Events(), EventUserStatus)

	again, rooms := connect(t, hub, "a2", alice.SessionID(), "")
	if again.UserID() != alice.UserID() {
		t.Fatal("resumed connection must keep the identity")
	}
	if len(rooms) != 1 || len(rooms[0].Messages) != 3 {
		t.Fatalf("expected one room with three messages, got %+v", rooms)
	}
	for i, want := range []string{"one", "two", "three"} {
		if rooms[0].Messages[i].Content != want {
			t.Fatalf("message %d: got %q want %q", i, rooms[0].Messages[i].Content, want)
		}
	}

	online := mustEvent(t, bob.Events(), EventUserStatus)
	if !online.IsOnline || online.User != alice.UserID() {
		t.Fatalf("unexpected status event: %+v", online)
	}
}

func TestHubLastLeaveDeletesRoom(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice, _ := connect(t, hub, "a", "", "alice")
	room := mustRoom(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandCreateRoom}))

	mustSuccess(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandLeaveRoom, Room: room.ID}), true)
	if hub.rooms.Exists(room.ID) {
		t.Fatal("room should be deleted after its last member left")
	}

	bob, _ := connect(t, hub, "b", "", "bob")
	mustCode(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandJoinRoom, Room: room.ID}), ErrCodeRoomNotFound)
}

func TestHubUpdateUsername(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice, _ := connect(t, hub, "a", "", "alice")
	stranger, _ := connect(t, hub, "s", "", "stranger")
	room := mustRoom(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandCreateRoom}))

	mustSuccess(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandUpdateUsername, Username: "  "}), false)
	mustSuccess(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandUpdateUsername, Username: "alicia"}), true)

	for _, c := range []*Client{alice, stranger} {
		ev := mustEvent(t, c.Events(), EventUsernameUpdated)
		if ev.User != alice.UserID() || ev.Username != "alicia" {
			t.Fatalf("unexpected rename event: %+v", ev)
		}
	}

	view, _ := hub.rooms.GetRoom(room.ID)
	if view.Users[0].Username != "alicia" {
		t.Fatalf("member not renamed: %+v", view.Users[0])
	}
	sess, _ := hub.sessions.Resolve(alice.SessionID())
	if sess.Username != "alicia" {
		t.Fatalf("session not renamed: %+v", sess)
	}
}

func TestHubCreatorTabsReceiveRoom(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	tab1, _ := connect(t, hub, "a1", "", "alice")
	tab2, _ := connect(t, hub, "a2", tab1.SessionID(), "")

	room := mustRoom(t, hub.Dispatch(ctx, tab1, &Command{Kind: CommandCreateRoom, RoomName: "tabs"}))
	ev := mustEvent(t, tab2.Events(), EventRoomCreated)
	if ev.RoomView == nil || ev.RoomView.ID != room.ID {
		t.Fatalf("unexpected room_created: %+v", ev)
	}
	noEvent(t, tab1.Events(), EventRoomCreated)

	view, err := hub.CreateRoomFor(tab1.UserID(), "alice", "from-http", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !view.Users[0].IsOnline {
		t.Fatalf("creator with live tabs must be online: %+v", view.Users[0])
	}
	for _, c := range []*Client{tab1, tab2} {
		ev := mustEvent(t, c.Events(), EventRoomCreated)
		if ev.RoomView.ID != view.ID {
			t.Fatalf("unexpected adopted room: %+v", ev)
		}
	}

	bob, _ := connect(t, hub, "b", "", "bob")
	mustRoom(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandJoinRoom, Room: view.ID}))
	hub.Dispatch(ctx, bob, &Command{Kind: CommandSendMessage, Room: view.ID, Content: "hi"})
	mustEvent(t, tab2.Events(), EventNewMessage)
}

func TestHubCreateRoomForOfflineCreator(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice, _ := connect(t, hub, "a", "", "alice")
	hub.Disconnect(ctx, alice)

	view, err := hub.CreateRoomFor(alice.UserID(), "alice", "  later  ", "pw")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if view.Name != "later" || !view.IsPrivate {
		t.Fatalf("unexpected room: %+v", view)
	}
	if len(view.Users) != 1 || view.Users[0].IsOnline {
		t.Fatalf("creator without connections must be offline: %+v", view.Users)
	}

	_, rooms := connect(t, hub, "a2", alice.SessionID(), "")
	if len(rooms) != 1 || !rooms[0].Users[0].IsOnline {
		t.Fatalf("reconnect must flip the creator online: %+v", rooms)
	}
}

func TestHubVanishedRoomReleasesLock(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice, _ := connect(t, hub, "a", "", "alice")
	room := mustRoom(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandCreateRoom}))
	hub.Dispatch(ctx, alice, &Command{Kind: CommandSendMessage, Room: room.ID, Content: "hi"})
	mustSuccess(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandLeaveRoom, Room: room.ID}), true)

	// A send that passed the membership check before the room vanished.
	mustCode(t, hub.sendMessage(alice, &Command{Kind: CommandSendMessage, Room: room.ID, Content: "late"}), ErrCodeRoomNotFound)
	mustCode(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandJoinRoom, Room: room.ID}), ErrCodeRoomNotFound)
	mustCode(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandJoinRoom, Room: "never-existed"}), ErrCodeRoomNotFound)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if len(hub.seq) != 0 || len(hub.byRoom) != 0 {
		t.Fatalf("vanished rooms must not keep registries: seq=%d byRoom=%d", len(hub.seq), len(hub.byRoom))
	}
}

func TestHubJoinDuringSendsSeesEachMessageOnce(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		hub := newTestHub(t)
		alice, _ := connect(t, hub, "a", "", "alice")
		bob, _ := connect(t, hub, "b", "", "bob")
		room := mustRoom(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandCreateRoom}))

		const total = 40
		sent := make(chan string, total)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total; i++ {
				reply := hub.Dispatch(ctx, alice, &Command{Kind: CommandSendMessage, Room: room.ID, Content: "m"})
				sent <- reply.Message.ID
			}
		}()
		view := mustRoom(t, hub.Dispatch(ctx, bob, &Command{Kind: CommandJoinRoom, Room: room.ID}))
		wg.Wait()
		close(sent)

		seen := make(map[string]int)
		for _, m := range view.Messages {
			seen[m.ID]++
		}
	drain:
		for {
			select {
			case ev := <-bob.Events():
				if ev.Kind == EventNewMessage {
					seen[ev.Message.ID]++
				}
			default:
				break drain
			}
		}

		for id := range sent {
			if seen[id] != 1 {
				t.Fatalf("round %d: message %s seen %d times", round, id, seen[id])
			}
		}
	}
}

func TestHubDispatchBeforeHandshake(t *testing.T) {
	hub := newTestHub(t)
	c := NewClient("x", 8)

	mustCode(t, hub.Dispatch(context.Background(), c, &Command{Kind: CommandCreateRoom}), ErrCodeAccessDenied)
	// Disconnecting a connection that never authenticated must not touch presence.
	hub.Disconnect(context.Background(), c)
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", c.State())
	}
}

func TestHubConcurrentSendsKeepOrder(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)

	alice, _ := connect(t, hub, "a", "", "alice")
	room := mustRoom(t, hub.Dispatch(ctx, alice, &Command{Kind: CommandCreateRoom}))

	const senders, perSender = 4, 25
	clients := make([]*Client, senders)
	for i := range clients {
		c, _ := connect(t, hub, "s"+string(rune('a'+i)), "", "sender")
		mustRoom(t, hub.Dispatch(ctx, c, &Command{Kind: CommandJoinRoom, Room: room.ID}))
		clients[i] = c
		go func() {
			for range c.Events() {
			}
		}()
	}
	go func() {
		for range alice.Events() {
		}
	}()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				hub.Dispatch(ctx, c, &Command{Kind: CommandSendMessage, Room: room.ID, Content: "m"})
			}
		}(c)
	}
	wg.Wait()

	view, _ := hub.rooms.GetRoom(room.ID)
	if len(view.Messages) != senders*perSender {
		t.Fatalf("expected %d messages, got %d", senders*perSender, len(view.Messages))
	}
	for i, m := range view.Messages {
		if m.Seq != uint64(i+1) {
			t.Fatalf("message %d has seq %d", i, m.Seq)
		}
	}
}

func TestHubRunClosesClients(t *testing.T) {
	hub := newTestHub(t)
	alice, _ := connect(t, hub, "a", "", "alice")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	select {
	case <-alice.Done():
	default:
		t.Fatal("client should be closed when the hub stops")
	}
}
