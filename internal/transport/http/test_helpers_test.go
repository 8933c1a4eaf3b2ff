package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rooms/internal/auth"
	"github.com/vovakirdan/wirechat-rooms/internal/config"
	"github.com/vovakirdan/wirechat-rooms/internal/core"
	"github.com/vovakirdan/wirechat-rooms/internal/metrics"
	"github.com/vovakirdan/wirechat-rooms/internal/proto"
	"github.com/vovakirdan/wirechat-rooms/internal/store"
)

type testEnv struct {
	server   *httptest.Server
	hub      *core.Hub
	rooms    *store.RoomStore
	sessions *store.SessionStore
	auth     *auth.Service
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.server.URL, "http", "ws", 1) + "/ws"
}

func startTestServer(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = "test-secret"
	for _, m := range mutate {
		m(&cfg)
	}

	logger := zerolog.Nop()
	rooms := store.NewRoomStore()
	sessions := store.NewSessionStore(nil, &logger)
	reg := prometheus.NewRegistry()
	hub := core.NewHub(rooms, sessions, core.WithLogger(&logger), core.WithMetrics(metrics.New(reg, rooms.Len)))
	authService := auth.NewService(&auth.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	server := NewServer(Deps{
		Hub:      hub,
		Rooms:    rooms,
		Sessions: sessions,
		Auth:     authService,
		Gatherer: reg,
	}, &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, hub: hub, rooms: rooms, sessions: sessions, auth: authService}
}

// wsClient is a protocol-level test peer.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	ctx  context.Context
}

func dial(t *testing.T, env *testEnv) *wsClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, env.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return &wsClient{t: t, conn: conn, ctx: ctx}
}

func (c *wsClient) send(typ, ack string, data any) {
	c.t.Helper()

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			c.t.Fatalf("marshal %s: %v", typ, err)
		}
		raw = b
	}
	if err := wsjson.Write(c.ctx, c.conn, proto.Inbound{Type: typ, Ack: ack, Data: raw}); err != nil {
		c.t.Fatalf("write %s: %v", typ, err)
	}
}

// frame is the decoded form of an outbound envelope.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Ack   string          `json:"ack"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func (c *wsClient) read() frame {
	c.t.Helper()

	var f frame
	if err := wsjson.Read(c.ctx, c.conn, &f); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return f
}

// next skips frames until one matches.
func (c *wsClient) next(match func(frame) bool) frame {
	c.t.Helper()
	for {
		f := c.read()
		if match(f) {
			return f
		}
	}
}

func (c *wsClient) event(name string, dst any) {
	c.t.Helper()
	f := c.next(func(f frame) bool { return f.Type == proto.OutboundTypeEvent && f.Event == name })
	if dst != nil {
		if err := json.Unmarshal(f.Data, dst); err != nil {
			c.t.Fatalf("decode %s: %v", name, err)
		}
	}
}

func (c *wsClient) ack(id string) ackFrame {
	c.t.Helper()
	f := c.next(func(f frame) bool { return f.Type == proto.OutboundTypeAck && f.Ack == id })
	var data ackFrame
	if err := json.Unmarshal(f.Data, &data); err != nil {
		c.t.Fatalf("decode ack %s: %v", id, err)
	}
	return data
}

func (c *wsClient) errorFrame() *proto.Error {
	c.t.Helper()
	f := c.next(func(f frame) bool { return f.Type == proto.OutboundTypeError })
	return f.Error
}

type ackFrame struct {
	Room    *store.RoomView `json:"room"`
	Message *store.Message  `json:"message"`
	Success *bool           `json:"success"`
	Error   *proto.AckError `json:"error"`
}

// hello performs the handshake and returns the session event.
func (c *wsClient) hello(sessionID, username string) (proto.EventSessionData, proto.EventRoomsData) {
	c.t.Helper()

	c.send(proto.InboundTypeHello, "", proto.HelloData{SessionID: sessionID, Username: username, Protocol: proto.ProtocolVersion})
	var sess proto.EventSessionData
	c.event(proto.EventSession, &sess)
	var rooms proto.EventRoomsData
	c.event(proto.EventRooms, &rooms)
	return sess, rooms
}
