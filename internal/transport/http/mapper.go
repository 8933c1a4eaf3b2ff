package http

import (
	"bytes"
	"encoding/json"

	"github.com/vovakirdan/wirechat-rooms/internal/core"
	"github.com/vovakirdan/wirechat-rooms/internal/proto"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *core.CoreError) {
	switch inbound.Type {
	case proto.InboundTypeCreateRoom:
		var data proto.CreateRoomData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, core.Malformed("invalid create_room payload")
		}
		return &core.Command{
			Kind:     core.CommandCreateRoom,
			RoomName: data.RoomName,
			Password: data.Password,
		}, nil
	case proto.InboundTypeJoinRoom:
		var data proto.JoinRoomData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, core.Malformed("invalid join_room payload")
		}
		if data.RoomID == "" {
			return nil, core.Malformed("Missing roomId")
		}
		return &core.Command{
			Kind:     core.CommandJoinRoom,
			Room:     data.RoomID,
			Password: data.Password,
		}, nil
	case proto.InboundTypeLeaveRoom:
		roomID, err := stringOrField(inbound.Data, func(raw json.RawMessage) (string, error) {
			var ref proto.RoomRef
			err := json.Unmarshal(raw, &ref)
			return ref.RoomID, err
		})
		if err != nil || roomID == "" {
			return nil, core.Malformed("Missing roomId")
		}
		return &core.Command{Kind: core.CommandLeaveRoom, Room: roomID}, nil
	case proto.InboundTypeSendMessage:
		var data proto.SendMessageData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, core.Malformed("invalid send_message payload")
		}
		roomID := data.RoomID
		if roomID == "" {
			roomID = data.To
		}
		return &core.Command{
			Kind:        core.CommandSendMessage,
			Room:        roomID,
			Content:     data.Content,
			Attachments: data.Attachments,
		}, nil
	case proto.InboundTypeMessageDelivered, proto.InboundTypeMessageRead:
		var data proto.MessageRefData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, core.Malformed("invalid message reference")
		}
		kind := core.CommandMessageDelivered
		if inbound.Type == proto.InboundTypeMessageRead {
			kind = core.CommandMessageRead
		}
		return &core.Command{Kind: kind, Room: data.RoomID, MessageID: data.MessageID}, nil
	case proto.InboundTypeTyping:
		var data proto.TypingData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, core.Malformed("invalid typing payload")
		}
		return &core.Command{Kind: core.CommandTyping, Room: data.RoomID, IsTyping: data.IsTyping}, nil
	case proto.InboundTypeUpdateUsername:
		name, err := stringOrField(inbound.Data, func(raw json.RawMessage) (string, error) {
			var data proto.UsernameData
			err := json.Unmarshal(raw, &data)
			return data.Username, err
		})
		if err != nil {
			return nil, core.Malformed("invalid update_username payload")
		}
		return &core.Command{Kind: core.CommandUpdateUsername, Username: name}, nil
	case proto.InboundTypeHello:
		return nil, core.Malformed("already authenticated")
	default:
		return nil, core.Malformed("unknown message type")
	}
}

// decode tolerates a missing payload; the command handlers validate fields.
func decode(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// stringOrField accepts either a bare JSON string or an object parsed by field.
func stringOrField(raw json.RawMessage, field func(json.RawMessage) (string, error)) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	return field(raw)
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventSession:
		return eventFrame(proto.EventSession, proto.EventSessionData{
			UserID:    event.User,
			Username:  event.Username,
			SessionID: event.SessionID,
		})
	case core.EventRooms:
		return eventFrame(proto.EventRooms, proto.EventRoomsData{JoinedRooms: event.Rooms})
	case core.EventNewMessage:
		return eventFrame(proto.EventNewMessage, proto.EventMessageData{Message: *event.Message})
	case core.EventMessageStatus:
		return eventFrame(proto.EventMessageStatus, proto.EventMessageStatusData{
			RoomID:    event.Room,
			MessageID: event.MessageID,
			Status:    event.Status,
		})
	case core.EventTyping:
		return eventFrame(proto.EventTyping, proto.EventTypingData{
			RoomID:   event.Room,
			UserID:   event.User,
			IsTyping: event.IsTyping,
		})
	case core.EventUserJoined:
		return eventFrame(proto.EventUserJoined, proto.EventUserJoinedData{RoomID: event.Room, User: *event.Member})
	case core.EventUserLeft:
		return eventFrame(proto.EventUserLeft, proto.EventUserLeftData{RoomID: event.Room, UserID: event.User})
	case core.EventUserStatus:
		return eventFrame(proto.EventUserStatus, proto.EventUserStatusData{
			UserID: event.User,
			Status: proto.UserStatus{IsOnline: event.IsOnline, LastActive: event.LastActive},
		})
	case core.EventUsernameUpdated:
		return eventFrame(proto.EventUsernameUpdated, proto.EventUsernameUpdatedData{
			UserID:      event.User,
			NewUsername: event.Username,
		})
	case core.EventRoomCreated:
		return eventFrame(proto.EventRoomCreated, proto.EventRoomData{Room: *event.RoomView})
	case core.EventRoomJoined:
		return eventFrame(proto.EventRoomJoined, proto.EventRoomData{Room: *event.RoomView})
	case core.EventAck:
		return proto.Outbound{Type: proto.OutboundTypeAck, Ack: event.AckID, Data: ackData(event.Reply)}
	case core.EventError:
		return errorFrame(event.Error)
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func eventFrame(name string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
}

func errorFrame(err *core.CoreError) proto.Outbound {
	if err == nil {
		return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
	}
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: err.Code, Msg: err.Message},
	}
}

func ackData(reply *core.Reply) proto.AckData {
	if reply == nil {
		return proto.AckData{}
	}
	data := proto.AckData{
		Room:    reply.Room,
		Message: reply.Message,
		Success: reply.Success,
	}
	if reply.Error != nil {
		data.Error = &proto.AckError{Type: reply.Error.Code, Message: reply.Error.Message}
	}
	return data
}
