package event

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/vanneszias/Safe-Chat/internal/model"
)

// Client to server message types
const (
	TypePing         = "ping"
	TypeMarkTyping   = "mark_typing"
	TypeSendMessage  = "send_message"
	TypeUpdateStatus = "update_status"
)

// Server to client message types
const (
	TypeNewMessage   = "new_message"
	TypeStatusUpdate = "status_update"
	TypeUserOnline   = "user_online"
	TypeUserOffline  = "user_offline"
)

// UpdatedByServer is the actor reported on the acknowledgement of a send.
const UpdatedByServer = "server"

// Frame is the envelope of every websocket text frame, in both directions.
type Frame struct {
	MessageType string          `json:"message_type"`
	Data        json.RawMessage `json:"data"`
}

// SendMessageData is the payload of send_message
type SendMessageData struct {
	MessageID        string `json:"message_id" validate:"required"`
	ReceiverID       string `json:"receiver_id" validate:"required"`
	Type             string `json:"type"`
	EncryptedContent string `json:"encrypted_content"`
	IV               string `json:"iv"`
}

// UpdateStatusData is the payload of update_status
type UpdateStatusData struct {
	MessageID string `json:"message_id" validate:"required"`
	Status    string `json:"status" validate:"required"`
}

// NewMessageData is the payload of new_message. Binary fields travel as
// standard base64 and the timestamp as a decimal string.
type NewMessageData struct {
	ID               string `json:"id"`
	Timestamp        string `json:"timestamp"`
	SenderID         string `json:"sender_id"`
	ReceiverID       string `json:"receiver_id"`
	Status           string `json:"status"`
	Type             string `json:"type"`
	EncryptedContent string `json:"encrypted_content"`
	IV               string `json:"iv"`
}

// StatusUpdateData is the payload of status_update
type StatusUpdateData struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	UpdatedBy string `json:"updated_by"`
}

// PresenceData is the payload of user_online and user_offline
type PresenceData struct {
	UserID string `json:"user_id"`
}

// NewMessageFromModel builds the wire form of a stored message.
func NewMessageFromModel(m model.Message) NewMessageData {
	return NewMessageData{
		ID:               m.ID.String(),
		Timestamp:        strconv.FormatInt(m.Timestamp, 10),
		SenderID:         m.SenderID.String(),
		ReceiverID:       m.ReceiverID.String(),
		Status:           m.Status.String(),
		Type:             m.Type,
		EncryptedContent: base64.StdEncoding.EncodeToString(m.EncryptedContent),
		IV:               base64.StdEncoding.EncodeToString(m.IV),
	}
}
