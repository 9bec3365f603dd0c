package event

import "time"

// Membership is one approved event-group membership for a viewer. The group
// conversation exists exactly as long as the membership does.
type Membership struct {
	EventID      int       `json:"event_id"`
	Title        string    `json:"title"`
	StartsAt     time.Time `json:"starts_at"`
	Participants int       `json:"participants"`
	ApprovedAt   time.Time `json:"approved_at"`
}

type Message struct {
	ID        string    `json:"id"`
	EventID   int       `json:"event_id"`
	SenderID  int       `json:"sender_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// countUnread states the watermark rule the repository's UnreadCount query
// implements in SQL: messages newer than the viewer's read-up-to mark,
// authored by someone else. Group membership size makes per-message read
// flags unbounded, so a single timestamp stands in.
func countUnread(msgs []Message, watermark time.Time, viewerID int) int {
	n := 0
	for _, m := range msgs {
		if m.SenderID != viewerID && m.CreatedAt.After(watermark) {
			n++
		}
	}
	return n
}
