package thread

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks a client-issued, not-yet-confirmed message id. A
// provisional message carries one until the push or poll path delivers the
// server-issued id for the same logical message.
const TempIDPrefix = "temp-"

type Message struct {
	ID          string     `json:"id"`
	SenderID    int        `json:"sender_id"`
	RecipientID int        `json:"recipient_id"`
	Body        string     `json:"body"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

func (m Message) Provisional() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

func (m Message) Unread() bool {
	return m.ReadAt == nil
}

// NewProvisional builds the optimistic local entry for a send. The UI renders
// it immediately; network dispatch happens after.
func NewProvisional(senderID, recipientID int, body string) Message {
	return Message{
		ID:          TempIDPrefix + uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   time.Now(),
	}
}

func NewServerID() string {
	return uuid.NewString()
}
