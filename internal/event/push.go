package event

import (
	"encoding/json"
	"fmt"

	"github.com/vanneszias/Safe-Chat/internal/model"
)

// Kind tags the variant carried by an Event
type Kind int

const (
	KindNewMessage Kind = iota + 1
	KindStatusUpdate
	KindUserOnline
	KindUserOffline
)

func (k Kind) String() string {
	switch k {
	case KindNewMessage:
		return TypeNewMessage
	case KindStatusUpdate:
		return TypeStatusUpdate
	case KindUserOnline:
		return TypeUserOnline
	case KindUserOffline:
		return TypeUserOffline
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a transient notification pushed into a session's mailbox.
// Exactly one payload field is set, according to Kind.
type Event struct {
	Kind    Kind
	Message *model.Message
	Status  *StatusUpdateData
	UserID  string
}

func NewMessage(m model.Message) Event {
	return Event{Kind: KindNewMessage, Message: &m}
}

func StatusUpdate(messageID string, status model.Status, updatedBy string) Event {
	return Event{Kind: KindStatusUpdate, Status: &StatusUpdateData{
		MessageID: messageID,
		Status:    status.String(),
		UpdatedBy: updatedBy,
	}}
}

func UserOnline(userID string) Event {
	return Event{Kind: KindUserOnline, UserID: userID}
}

func UserOffline(userID string) Event {
	return Event{Kind: KindUserOffline, UserID: userID}
}

// ToFrame maps an event to its wire envelope.
func (e Event) ToFrame() (Frame, error) {
	var payload any
	switch e.Kind {
	case KindNewMessage:
		if e.Message == nil {
			return Frame{}, fmt.Errorf("%s event without message", e.Kind)
		}
		payload = NewMessageFromModel(*e.Message)
	case KindStatusUpdate:
		if e.Status == nil {
			return Frame{}, fmt.Errorf("%s event without status", e.Kind)
		}
		payload = e.Status
	case KindUserOnline, KindUserOffline:
		payload = PresenceData{UserID: e.UserID}
	default:
		return Frame{}, fmt.Errorf("unknown event kind: %s", e.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{MessageType: e.Kind.String(), Data: data}, nil
}
