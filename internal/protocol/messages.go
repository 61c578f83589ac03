package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientSend    MessageType = "client_send"
	TypeClientControl MessageType = "client_control"
	TypeUserTurn      MessageType = "user_turn"
	TypeModelTurn     MessageType = "model_turn"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientSend carries one user message. TransientContext shapes the single
// response and is never echoed back as a turn.
type ClientSend struct {
	Type             MessageType `json:"type"`
	TurnID           string      `json:"turn_id,omitempty"`
	Text             string      `json:"text"`
	TransientContext string      `json:"transient_context,omitempty"`
}

// ClientControl asks the server to manage the session: "clear" wipes the
// transcript, "restart" reopens the session per the flags.
type ClientControl struct {
	Type          MessageType `json:"type"`
	Action        string      `json:"action"`
	KeepHistory   *bool       `json:"keep_history,omitempty"`
	ReloadIfEmpty *bool       `json:"reload_if_empty,omitempty"`
}

// UserTurn echoes the recorded user turn after a successful exchange.
type UserTurn struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id,omitempty"`
	Text   string      `json:"text"`
}

// ModelTurn carries the model reply of a successful exchange.
type ModelTurn struct {
	Type      MessageType `json:"type"`
	TurnID    string      `json:"turn_id,omitempty"`
	Text      string      `json:"text"`
	LatencyMs int64       `json:"latency_ms"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

// ErrorEvent reports a failed exchange. Code is the failure kind
// (configuration, validation, transport); Blocked marks provider-refused
// content.
type ErrorEvent struct {
	Type    MessageType `json:"type"`
	TurnID  string      `json:"turn_id,omitempty"`
	Code    string      `json:"code"`
	Blocked bool        `json:"blocked"`
	Detail  string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientSend:
		var msg ClientSend
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid client_send: empty text")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action != "clear" && msg.Action != "restart" {
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
