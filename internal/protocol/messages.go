package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientMessage     MessageType = "client_message"
	TypeClientAudio       MessageType = "client_audio"
	TypeAssistantDelta    MessageType = "assistant_delta"
	TypeAssistantComplete MessageType = "assistant_complete"
	TypeErrorEvent        MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientMessage is an inbound text turn; an empty session id asks the server
// to allocate one.
type ClientMessage struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id,omitempty"`
	Message      string      `json:"message"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
}

// ClientAudio is an inbound audio turn to be transcribed before relaying.
type ClientAudio struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id,omitempty"`
	AudioBase64  string      `json:"audio_base64"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
}

type AssistantDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TextDelta string      `json:"text_delta"`
}

type AssistantComplete struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Transcript string      `json:"transcript,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound websocket payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Message == "" {
			return nil, errors.New("invalid client_message: empty message")
		}
		return msg, nil
	case TypeClientAudio:
		var msg ClientAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioBase64 == "" {
			return nil, errors.New("invalid client_audio: empty audio")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf extracts the message type of a parsed or outbound payload.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientMessage:
		return m.Type, true
	case ClientAudio:
		return m.Type, true
	case AssistantDelta:
		return m.Type, true
	case AssistantComplete:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
