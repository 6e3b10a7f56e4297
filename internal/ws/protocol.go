package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/valyala/fastjson"

	"chat-relay/internal/models"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

// DecodeClientEvent parses a {"event": ..., "data": {...}} frame into one of
// the models.ClientEvent types.
func DecodeClientEvent(p *fastjson.Parser, frame []byte) (models.ClientEvent, error) {
	v, err := p.ParseBytes(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: frame is not an object", ErrMalformedFrame)
	}
	name := string(v.GetStringBytes("event"))
	if name == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	}
	data := v.Get("data")
	if data == nil || data.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: %s: data must be an object", ErrMalformedFrame, name)
	}
	raw := data.MarshalTo(nil)

	switch name {
	case models.EventAuthenticate:
		var ev models.Authenticate
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}
		if strings.TrimSpace(ev.ID) == "" {
			return nil, fmt.Errorf("%w: authenticate requires id", ErrInvalidPayload)
		}
		return ev, nil
	case models.EventJoinRoom:
		var ev models.JoinRoom
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}
		return checkRoom(ev, ev.RoomID)
	case models.EventSendMessage:
		var ev models.SendMessage
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}
		if err := requireRoom(name, ev.RoomID); err != nil {
			return nil, err
		}
		if strings.TrimSpace(ev.Content) == "" && len(ev.Attachments) == 0 {
			return nil, fmt.Errorf("%w: send-message requires content or attachments", ErrInvalidPayload)
		}
		return ev, nil
	case models.EventTyping:
		var ev models.Typing
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}
		return checkRoom(ev, ev.RoomID)
	case models.EventMarkRead:
		var ev models.MarkRead
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}
		return checkRoom(ev, ev.RoomID)
	case models.EventShareFile:
		var ev models.ShareFile
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}
		if err := requireRoom(name, ev.RoomID); err != nil {
			return nil, err
		}
		if ev.File.URL == "" {
			return nil, fmt.Errorf("%w: share-file requires file.url", ErrInvalidPayload)
		}
		return ev, nil
	case models.EventScreenShareStart:
		var ev models.ScreenShareStart
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}
		return checkRoom(ev, ev.RoomID)
	case models.EventScreenShareStop:
		var ev models.ScreenShareStop
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}
		return checkRoom(ev, ev.RoomID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func checkRoom(ev models.ClientEvent, roomID string) (models.ClientEvent, error) {
	if err := requireRoom(ev.Name(), roomID); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodePayload(raw []byte, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func requireRoom(event, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("%w: %s requires roomId", ErrInvalidPayload, event)
	}
	return nil
}
