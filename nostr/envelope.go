package nostr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotArray       = errors.New("message must be a JSON array")
	ErrTooShort       = errors.New("message must have at least 2 elements")
	ErrBadMessageType = errors.New("message type must be a string")
	ErrUnknownType    = errors.New("unknown message type")
)

// Client message type labels.
const (
	TypeEvent  = "EVENT"
	TypeReq    = "REQ"
	TypeClose  = "CLOSE"
	TypeEOSE   = "EOSE"
	TypeOK     = "OK"
	TypeNotice = "NOTICE"
)

// ClientMessage is one of *EventEnvelope, *ReqEnvelope or *CloseEnvelope.
type ClientMessage interface {
	Label() string
}

// EventEnvelope carries a submitted event. The event is kept as raw JSON so that it can
// be structurally validated before being decoded.
type EventEnvelope struct {
	Event json.RawMessage
}

// ReqEnvelope opens (or replaces) a subscription. Filters are kept raw; see ParseFilters.
type ReqEnvelope struct {
	SubscriptionID string
	Filters        []json.RawMessage
}

// CloseEnvelope ends a subscription.
type CloseEnvelope struct {
	SubscriptionID string
}

func (*EventEnvelope) Label() string { return TypeEvent }
func (*ReqEnvelope) Label() string   { return TypeReq }
func (*CloseEnvelope) Label() string { return TypeClose }

// ParseClientMessage decodes a single client frame. Only framing is checked here; the
// contents of EVENT and REQ bodies are checked by the caller.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, ErrNotArray
	}
	if arr == nil {
		return nil, ErrNotArray
	}
	if len(arr) < 2 {
		return nil, ErrTooShort
	}

	var typ string
	if err := json.Unmarshal(arr[0], &typ); err != nil || !isJSONString(arr[0]) {
		return nil, ErrBadMessageType
	}

	switch typ {
	case TypeEvent:
		return &EventEnvelope{Event: arr[1]}, nil
	case TypeReq:
		subID, err := decodeSubscriptionID(arr[1])
		if err != nil {
			return nil, err
		}
		return &ReqEnvelope{SubscriptionID: subID, Filters: arr[2:]}, nil
	case TypeClose:
		subID, err := decodeSubscriptionID(arr[1])
		if err != nil {
			return nil, err
		}
		return &CloseEnvelope{SubscriptionID: subID}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
}

func decodeSubscriptionID(raw json.RawMessage) (string, error) {
	var subID string
	if !isJSONString(raw) {
		return "", fmt.Errorf("subscription id must be a string")
	}
	if err := json.Unmarshal(raw, &subID); err != nil {
		return "", fmt.Errorf("subscription id must be a string")
	}
	return subID, nil
}

// ParseFilters decodes the raw filters of a REQ.
func (req *ReqEnvelope) ParseFilters() (Filters, error) {
	out := make(Filters, 0, len(req.Filters))
	for _, raw := range req.Filters {
		var f Filter
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// PeekEventID extracts the "id" field from a raw event if it is a string, so that a
// rejection can be addressed to it even when the rest of the event is malformed.
func PeekEventID(raw json.RawMessage) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	idRaw, ok := obj["id"]
	if !ok || !isJSONString(idRaw) {
		return "", false
	}
	var id string
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return "", false
	}
	return id, true
}

func isJSONString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

// EventMessage encodes ["EVENT",<subID>,<event>] from an already-serialized event.
func EventMessage(subID string, rawEvent []byte) []byte {
	buf := make([]byte, 0, len(rawEvent)+len(subID)+16)
	buf = append(buf, `["EVENT",`...)
	buf = appendJSONString(buf, subID)
	buf = append(buf, ',')
	buf = append(buf, rawEvent...)
	return append(buf, ']')
}

// EOSEMessage encodes ["EOSE",<subID>].
func EOSEMessage(subID string) []byte {
	buf := append([]byte(`["EOSE",`), appendJSONString(nil, subID)...)
	return append(buf, ']')
}

// OKMessage encodes ["OK",<eventID>,<accepted>,<message>].
func OKMessage(eventID string, accepted bool, message string) []byte {
	buf := append([]byte(`["OK",`), appendJSONString(nil, eventID)...)
	if accepted {
		buf = append(buf, ",true,"...)
	} else {
		buf = append(buf, ",false,"...)
	}
	buf = appendJSONString(buf, message)
	return append(buf, ']')
}

// NoticeMessage encodes ["NOTICE",<message>].
func NoticeMessage(message string) []byte {
	buf := append([]byte(`["NOTICE",`), appendJSONString(nil, message)...)
	return append(buf, ']')
}
