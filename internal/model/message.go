package model

import (
	"strings"

	"github.com/google/uuid"
)

// Status is the delivery state of a message
type Status string

const (
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
)

var validStatuses = map[Status]struct{}{
	StatusSent:      {},
	StatusDelivered: {},
	StatusRead:      {},
	StatusFailed:    {},
}

// ParseStatus trims and upper-cases s and checks it against the known statuses.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := validStatuses[st]
	return st, ok
}

func (s Status) String() string {
	return string(s)
}

// Message is a single end-to-end encrypted direct message.
// EncryptedContent and IV are opaque to the server.
type Message struct {
	ID               uuid.UUID `json:"id"`
	Timestamp        int64     `json:"timestamp"` // unix milliseconds, fixed at creation
	SenderID         uuid.UUID `json:"senderId"`
	ReceiverID       uuid.UUID `json:"receiverId"`
	Status           Status    `json:"status"`
	Type             string    `json:"type"`
	EncryptedContent []byte    `json:"encryptedContent"`
	IV               []byte    `json:"iv"`
}

// Parties are the two users a message belongs to
type Parties struct {
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
}
