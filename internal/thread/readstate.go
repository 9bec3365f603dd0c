package thread

import "time"

// MarkRead stamps every currently-unread message from peer to viewer with the
// given timestamp. Idempotent: already-read messages are untouched, so the
// periodic backstop can call it freely. Returns the new log plus how many
// messages it stamped.
func MarkRead(msgs []Message, peerID, viewerID int, now time.Time) ([]Message, int) {
	stamped := 0
	var out []Message
	for i, m := range msgs {
		if m.SenderID == peerID && m.RecipientID == viewerID && m.Unread() {
			if out == nil {
				out = make([]Message, len(msgs))
				copy(out, msgs)
			}
			ts := now
			out[i].ReadAt = &ts
			stamped++
		}
	}
	if out == nil {
		return msgs, 0
	}
	return out, stamped
}

// CountUnread returns how many messages addressed to viewer carry no read
// timestamp.
func CountUnread(msgs []Message, viewerID int) int {
	n := 0
	for _, m := range msgs {
		if m.RecipientID == viewerID && m.Unread() {
			n++
		}
	}
	return n
}
