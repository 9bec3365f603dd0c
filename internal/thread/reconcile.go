package thread

// Reconcile merges the three sources of truth for a conversation: optimistic
// local inserts, push events from the store's realtime channel, and periodic
// poll snapshots, into one ordered log. It is a pure reducer: callers own the
// returned slice and the input is never mutated, which keeps the merge logic
// testable without a network in sight.
//
// The returned bool reports whether the visible tail of the conversation
// changed; the owning view uses it to decide on the auto-scroll/notify side
// effect. In-place updates (read receipts, provisional confirmation) leave the
// tail logically unchanged and report false.

// Event is the closed union of reconciliation inputs.
type Event interface {
	reconcileEvent()
}

// InsertIntent is an optimistic local write. The provisional message lands in
// the log before network dispatch so the UI never blocks on a round-trip.
type InsertIntent struct {
	Msg Message
}

// Push is an authoritative row-level insert or update from the realtime
// channel.
type Push struct {
	Msg Message
}

// Snapshot is a full authoritative re-fetch of the conversation window,
// already ordered by creation time.
type Snapshot struct {
	Msgs []Message
}

func (InsertIntent) reconcileEvent() {}
func (Push) reconcileEvent()         {}
func (Snapshot) reconcileEvent()     {}

func Reconcile(msgs []Message, ev Event) ([]Message, bool) {
	switch e := ev.(type) {
	case InsertIntent:
		out := make([]Message, len(msgs), len(msgs)+1)
		copy(out, msgs)
		return append(out, e.Msg), true

	case Push:
		return reconcilePush(msgs, e.Msg)

	case Snapshot:
		return reconcileSnapshot(msgs, e.Msgs)
	}
	return msgs, false
}

func reconcilePush(msgs []Message, incoming Message) ([]Message, bool) {
	// Same server id already present: replace in place. This covers read
	// receipts, which arrive as the same id with a later read timestamp.
	for i, m := range msgs {
		if m.ID == incoming.ID {
			out := make([]Message, len(msgs))
			copy(out, msgs)
			out[i] = mergeReadAt(m, incoming)
			return out, false
		}
	}

	// No id match: look for the provisional entry this event confirms.
	// Content plus sender equality is the join key, the only identity the
	// client had before the server issued an id.
	for i, m := range msgs {
		if m.Provisional() && m.SenderID == incoming.SenderID && m.Body == incoming.Body {
			out := make([]Message, len(msgs))
			copy(out, msgs)
			out[i] = incoming
			return out, false
		}
	}

	return insertOrdered(msgs, incoming)
}

func reconcileSnapshot(msgs, snapshot []Message) ([]Message, bool) {
	// Cheap idempotence check: the snapshot is authoritative and already
	// ordered, so same length plus same last id means nothing to do. Returning
	// the identical slice lets callers skip the re-render.
	if len(msgs) == len(snapshot) {
		if len(msgs) == 0 || msgs[len(msgs)-1].ID == snapshot[len(snapshot)-1].ID {
			return msgs, false
		}
	}
	out := make([]Message, len(snapshot))
	copy(out, snapshot)
	return out, true
}

// insertOrdered places the message by creation timestamp, after any equal
// timestamps so arrival order breaks ties. The tail changed only when the new
// entry became the last element.
func insertOrdered(msgs []Message, m Message) ([]Message, bool) {
	pos := len(msgs)
	for pos > 0 && msgs[pos-1].CreatedAt.After(m.CreatedAt) {
		pos--
	}
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, msgs[:pos]...)
	out = append(out, m)
	out = append(out, msgs[pos:]...)
	return out, pos == len(msgs)
}

// mergeReadAt applies last-writer-wins at the field level with a monotonic
// guard: a read timestamp never regresses to an earlier one or back to nil.
func mergeReadAt(current, incoming Message) Message {
	if current.ReadAt != nil && (incoming.ReadAt == nil || incoming.ReadAt.Before(*current.ReadAt)) {
		incoming.ReadAt = current.ReadAt
	}
	return incoming
}

// RemoveProvisional drops a provisional entry after its network dispatch
// failed. The caller surfaces a retry affordance; there is no automatic retry.
func RemoveProvisional(msgs []Message, tempID string) []Message {
	for i, m := range msgs {
		if m.ID == tempID {
			out := make([]Message, 0, len(msgs)-1)
			out = append(out, msgs[:i]...)
			out = append(out, msgs[i+1:]...)
			return out
		}
	}
	return msgs
}
