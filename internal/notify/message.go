package notify

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags the viewer protocol variants.
type MessageType string

const (
	TypeReload MessageType = "reload"
	TypeError  MessageType = "error"
	TypeInfo   MessageType = "info"
)

// Message is one server-to-viewer notification.
type Message struct {
	Type    MessageType
	Detail  string
	Message string
}

func Reload() Message {
	return Message{Type: TypeReload}
}

func Error(detail string) Message {
	return Message{Type: TypeError, Detail: detail}
}

func Info(message string) Message {
	return Message{Type: TypeInfo, Message: message}
}

type reloadPayload struct {
	Type MessageType `json:"type"`
}

type errorPayload struct {
	Type   MessageType `json:"type"`
	Detail string      `json:"detail"`
}

type infoPayload struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// MarshalJSON emits only the field that belongs to the variant.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeReload:
		return json.Marshal(reloadPayload{Type: m.Type})
	case TypeError:
		return json.Marshal(errorPayload{Type: m.Type, Detail: m.Detail})
	case TypeInfo:
		return json.Marshal(infoPayload{Type: m.Type, Message: m.Message})
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var payload struct {
		Type    MessageType `json:"type"`
		Detail  string      `json:"detail"`
		Message string      `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	switch payload.Type {
	case TypeReload:
		*m = Reload()
	case TypeError:
		*m = Error(payload.Detail)
	case TypeInfo:
		*m = Info(payload.Message)
	case "":
		return errors.New("message type is required")
	default:
		return fmt.Errorf("unknown message type %q", payload.Type)
	}
	return nil
}
