package websocket

import (
	"encoding/json"
	"time"

	"recipe-sync-server/internal/domain"
)

type MessageType string

const (
	TypeChangesRequest  MessageType = "changes_request"
	TypeChangesResponse MessageType = "changes_response"
	TypeDocumentChange  MessageType = "document_change"
	TypeConflict        MessageType = "conflict"
	TypeAck             MessageType = "ack"
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
)

type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ChangesRequestPayload asks for the change feed over the socket. A nil
// SinceVersion means the device's tracked version.
type ChangesRequestPayload struct {
	Collections  []string `json:"collections"`
	SinceVersion *int64   `json:"since_version,omitempty"`
}

type ChangesResponsePayload struct {
	Changes  []domain.ChangeRecord `json:"changes"`
	SyncTime time.Time             `json:"sync_time"`
}

// DocumentChangePayload is pushed to a user's other devices after a write.
type DocumentChangePayload struct {
	domain.ChangeRecord
	DeviceID string `json:"device_id"`
}

type ConflictPayload struct {
	ConflictID    string               `json:"conflict_id"`
	Collection    string               `json:"collection"`
	DocumentID    string               `json:"document_id"`
	Kind          domain.OperationKind `json:"kind"`
	BaseVersion   int64                `json:"base_version"`
	RemoteVersion int64                `json:"remote_version"`
	RemoteData    map[string]any       `json:"remote_data,omitempty"`
	DeviceID      string               `json:"device_id"`
}

type AckPayload struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

func newConflictPayload(deviceID string, c *domain.SyncConflict) ConflictPayload {
	return ConflictPayload{
		ConflictID:    c.ID,
		Collection:    c.Collection,
		DocumentID:    c.DocumentID,
		Kind:          c.Kind,
		BaseVersion:   c.BaseVersion,
		RemoteVersion: c.RemoteNumber,
		RemoteData:    c.RemoteVersion,
		DeviceID:      deviceID,
	}
}
