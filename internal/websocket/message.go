package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	// Server to Client
	MessageTypeAuthStatus     MessageType = "auth_status"
	MessageTypeUploadProgress MessageType = "upload_progress"
	MessageTypeSignRequest    MessageType = "sign_request"
	MessageTypeError          MessageType = "error"

	// Client to Server
	MessageTypeSignResponse MessageType = "sign_response"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// SignRequestPayload asks the tab's wallet to personal_sign Message (hex encoded).
type SignRequestPayload struct {
	RequestID string `json:"requestId"`
	Address   string `json:"address"`
	Message   string `json:"message"`
}

type SignResponsePayload struct {
	RequestID string `json:"requestId"`
	Signature string `json:"signature,omitempty"`
	Rejected  bool   `json:"rejected,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
