package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-rooms/internal/proto"
	"github.com/vovakirdan/wirechat-rooms/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Ack   string          `json:"ack"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func run() error {
	addr := flag.String("addr", "ws://localhost:3001/ws", "WebSocket address")
	user := flag.String("user", "tester", "username to announce with hello")
	session := flag.String("session", "", "session id to resume")
	room := flag.String("room", "smoke", "name of the room to create")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ, ack string, data any) error {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Ack: ack, Data: raw}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	// await prints every frame until one satisfies match.
	await := func(match func(frame) bool) (frame, error) {
		for {
			var f frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				return f, fmt.Errorf("read: %w", err)
			}
			log.Printf("<- %s %s%s %s", f.Type, f.Event, f.Ack, f.Data)
			if f.Type == proto.OutboundTypeError {
				return f, fmt.Errorf("server error %s: %s", f.Error.Code, f.Error.Msg)
			}
			if match(f) {
				return f, nil
			}
		}
	}

	if err := send(proto.InboundTypeHello, "", proto.HelloData{
		SessionID: *session,
		Username:  *user,
		Protocol:  proto.ProtocolVersion,
	}); err != nil {
		return err
	}
	f, err := await(func(f frame) bool { return f.Event == proto.EventSession })
	if err != nil {
		return err
	}
	var sess proto.EventSessionData
	if err := json.Unmarshal(f.Data, &sess); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	log.Printf("session %s user %s", sess.SessionID, sess.UserID)

	if err := send(proto.InboundTypeCreateRoom, "create", proto.CreateRoomData{RoomName: *room}); err != nil {
		return err
	}
	f, err = await(func(f frame) bool { return f.Type == proto.OutboundTypeAck && f.Ack == "create" })
	if err != nil {
		return err
	}
	var created struct {
		Room store.RoomView `json:"room"`
	}
	if err := json.Unmarshal(f.Data, &created); err != nil {
		return fmt.Errorf("decode room: %w", err)
	}

	if err := send(proto.InboundTypeSendMessage, "msg", proto.SendMessageData{RoomID: created.Room.ID, Content: *text}); err != nil {
		return err
	}
	if _, err := await(func(f frame) bool { return f.Type == proto.OutboundTypeAck && f.Ack == "msg" }); err != nil {
		return err
	}

	if err := send(proto.InboundTypeLeaveRoom, "leave", created.Room.ID); err != nil {
		return err
	}
	if _, err := await(func(f frame) bool { return f.Type == proto.OutboundTypeAck && f.Ack == "leave" }); err != nil {
		return err
	}

	log.Printf("smoke test passed (room %s)", created.Room.ID)
	return nil
}
