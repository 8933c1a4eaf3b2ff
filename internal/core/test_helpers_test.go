package core

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-rooms/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// noEvent drains ch for a short while and fails if an event of kind shows up.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()

	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		case <-deadline:
			return
		}
	}
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(store.NewRoomStore(), store.NewSessionStore(nil, nil))
}

// connect authenticates a new connection for username (or resumes sessionID)
// and drains its session and rooms events.
func connect(t *testing.T, h *Hub, id, sessionID, username string) (*Client, []store.RoomView) {
	t.Helper()

	ident, err := h.Authenticate(sessionID, username)
	if err != nil {
		t.Fatalf("authenticate %s: %v", id, err)
	}
	c := NewClient(id, 64)
	c.SetState(StateAuthenticating)
	h.Connect(context.Background(), c, ident)

	mustEvent(t, c.Events(), EventSession)
	rooms := mustEvent(t, c.Events(), EventRooms)
	return c, rooms.Rooms
}

func mustRoom(t *testing.T, reply *Reply) store.RoomView {
	t.Helper()
	if reply.Error != nil {
		t.Fatalf("unexpected error reply: %+v", reply.Error)
	}
	if reply.Room == nil {
		t.Fatalf("reply carries no room: %+v", reply)
	}
	return *reply.Room
}

func mustSuccess(t *testing.T, reply *Reply, want bool) {
	t.Helper()
	if reply.Error != nil {
		t.Fatalf("unexpected error reply: %+v", reply.Error)
	}
	if reply.Success == nil || *reply.Success != want {
		t.Fatalf("expected success=%v, got %+v", want, reply)
	}
}

func mustCode(t *testing.T, reply *Reply, code string) {
	t.Helper()
	if reply.Error == nil || reply.Error.Code != code {
		t.Fatalf("expected error %q, got %+v", code, reply)
	}
}
