package chat

import (
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/inbox"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/thread"
)

// ---------------------------------------------
// Client -> server control messages
// ---------------------------------------------

// ControlMessage is the simplified JSON the frontend sends over the socket.
type ControlMessage struct {
	Type       string `json:"type"`
	PeerID     int    `json:"peer_id,omitempty"`
	EventID    int    `json:"event_id,omitempty"`
	Body       string `json:"body,omitempty"`
	Foreground bool   `json:"foreground,omitempty"`
}

const (
	ctrlOpenConversation  = "open_conversation"
	ctrlCloseConversation = "close_conversation"
	ctrlSend              = "send"
	ctrlMarkRead          = "mark_read"
	ctrlEventSend         = "event_send"
	ctrlEventRead         = "event_read"
	ctrlDismiss           = "dismiss"
	ctrlVisibility        = "visibility"
)

// ---------------------------------------------
// Server -> client payloads
// ---------------------------------------------

type ConversationPayload struct {
	Type        string           `json:"type"` // "conversation"
	PeerID      int              `json:"peer_id"`
	Messages    []thread.Message `json:"messages"`
	TailChanged bool             `json:"tail_changed"`
}

type InboxPayload struct {
	Type    string        `json:"type"` // "inbox"
	Entries []inbox.Entry `json:"entries"`
}

type BadgePayload struct {
	Type  string `json:"type"` // "badge"
	Total int    `json:"total"`
}

// SendFailedPayload tells the client its provisional entry was dropped and a
// retry affordance should appear. Retrying is always the user's call.
type SendFailedPayload struct {
	Type   string `json:"type"` // "send_failed"
	PeerID int    `json:"peer_id"`
	TempID string `json:"temp_id"`
}
