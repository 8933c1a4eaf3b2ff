package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-rooms/internal/config"
	"github.com/vovakirdan/wirechat-rooms/internal/core"
	"github.com/vovakirdan/wirechat-rooms/internal/proto"
)

const handshakeTimeout = 10 * time.Second

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub *core.Hub
	cfg *config.Config
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, cfg: cfg, log: logger}
}

func (h *WSHandler) acceptOptions() *websocket.AcceptOptions {
	if len(h.cfg.AllowedOrigins) == 0 || slices.Contains(h.cfg.AllowedOrigins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: h.cfg.AllowedOrigins}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := core.NewClient(uuid.NewString(), h.cfg.SendBuffer)
	client.SetState(core.StateAuthenticating)

	ident, refused, err := h.handshake(ctx, conn)
	if err != nil {
		h.log.Debug().Err(err).Str("client_id", client.ID).Msg("handshake aborted")
		client.SetState(core.StateDisconnected)
		return
	}
	if refused != nil {
		h.log.Info().Str("client_id", client.ID).Str("code", refused.Code).Msg("handshake refused")
		client.SetState(core.StateDisconnected)
		wctx, cancel := context.WithTimeout(ctx, time.Second)
		_ = wsjson.Write(wctx, conn, errorFrame(refused))
		cancel()
		conn.Close(websocket.StatusPolicyViolation, refused.Code)
		return
	}

	h.hub.Connect(ctx, client, ident)
	// The request context is gone once the peer hangs up; offline bookkeeping must still run.
	defer h.hub.Disconnect(context.WithoutCancel(ctx), client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := newRateLimiter(h.cfg.MessagesPerMinute)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshake reads the hello frame. A refusal is reported to the peer; err
// means the connection is unusable.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (core.Identity, *core.CoreError, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	inbound, refused, err := readInbound(ctx, conn)
	if err != nil {
		return core.Identity{}, nil, err
	}
	if refused != nil {
		return core.Identity{}, refused, nil
	}
	if inbound.Type != proto.InboundTypeHello {
		return core.Identity{}, core.Malformed("first frame must be hello"), nil
	}

	var hello proto.HelloData
	if err := decode(inbound.Data, &hello); err != nil {
		return core.Identity{}, core.Malformed("invalid hello payload"), nil
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		return core.Identity{}, core.ErrUnsupportedVersion, nil
	}

	ident, err := h.hub.Authenticate(hello.SessionID, hello.Username)
	if err != nil {
		var coreErr *core.CoreError
		if errors.As(err, &coreErr) {
			return core.Identity{}, coreErr, nil
		}
		return core.Identity{}, nil, err
	}
	return ident, nil, nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, limiter *rate.Limiter) error {
	for {
		inbound, malformed, err := readInbound(ctx, conn)
		if err != nil {
			return err
		}
		if malformed != nil {
			h.respond(ctx, client, "", h.hub.Refuse(malformed))
			continue
		}
		if !allowFrame(limiter) {
			h.log.Debug().Str("client_id", client.ID).Msg("rate limited")
			h.respond(ctx, client, inbound.Ack, h.hub.Refuse(core.ErrRateLimited))
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			h.log.Debug().Str("client_id", client.ID).Str("type", inbound.Type).Str("reason", protoErr.Message).Msg("rejected inbound")
			h.respond(ctx, client, inbound.Ack, h.hub.Refuse(protoErr))
			continue
		}
		h.respond(ctx, client, inbound.Ack, h.hub.Dispatch(ctx, client, cmd))
	}
}

// respond acknowledges a request when the client asked for it. Failures of
// unacknowledged requests become error frames.
func (h *WSHandler) respond(ctx context.Context, client *core.Client, ack string, reply *core.Reply) {
	switch {
	case ack != "":
		client.Send(ctx, &core.Event{Kind: core.EventAck, AckID: ack, Reply: reply})
	case reply != nil && reply.Error != nil:
		client.Send(ctx, &core.Event{Kind: core.EventError, Error: reply.Error})
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events():
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readInbound reads one text frame. Undecodable frames are reported as
// malformed instead of tearing the connection down.
func readInbound(ctx context.Context, conn *websocket.Conn) (proto.Inbound, *core.CoreError, error) {
	var inbound proto.Inbound
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return inbound, nil, err
	}
	if typ != websocket.MessageText {
		return inbound, core.Malformed("expected a text frame"), nil
	}
	if err := json.Unmarshal(data, &inbound); err != nil {
		return inbound, core.Malformed("invalid JSON"), nil
	}
	if inbound.Type == "" {
		return inbound, core.Malformed("missing type"), nil
	}
	return inbound, nil, nil
}
