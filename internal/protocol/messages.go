package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl  MessageType = "client_control"
	TypeClientText     MessageType = "client_text"
	TypeStateEvent     MessageType = "state_event"
	TypeVisemeFrame    MessageType = "viseme_frame"
	TypeTranscriptItem MessageType = "transcript_item"
	TypeErrorEvent     MessageType = "error_event"
)

const (
	ActionStart = "start"
	ActionStop  = "stop"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	Reason string      `json:"reason,omitempty"`
	TSMs   int64       `json:"ts_ms,omitempty"`
}

type ClientText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type StateEvent struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	State      string      `json:"state"`
	Speaking   bool        `json:"speaking"`
	RetryCount int         `json:"retry_count"`
	Retrying   bool        `json:"retrying"`
	Error      string      `json:"error,omitempty"`
	StartedAt  int64       `json:"started_at_ms,omitempty"`
}

type VisemeFrame struct {
	Type   MessageType `json:"type"`
	Viseme string      `json:"viseme"`
	Volume float64     `json:"volume"`
	TSMs   int64       `json:"ts_ms"`
}

type TranscriptItem struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	Role      string      `json:"role"`
	Text      string      `json:"text"`
	Timestamp int64       `json:"timestamp"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		if msg.Action != ActionStart && msg.Action != ActionStop {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
