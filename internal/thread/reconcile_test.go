package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func msg(id string, sender, recipient int, body string, at time.Time) Message {
	return Message{ID: id, SenderID: sender, RecipientID: recipient, Body: body, CreatedAt: at}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestReconcileInsertIntent(t *testing.T) {
	provisional := NewProvisional(1, 2, "Ciao!")
	assert.True(t, provisional.Provisional())

	out, tailChanged := Reconcile(nil, InsertIntent{Msg: provisional})
	require.Len(t, out, 1)
	assert.True(t, tailChanged)
	assert.Equal(t, provisional.ID, out[0].ID)
	assert.Nil(t, out[0].ReadAt, "optimistic entry starts unread")
}

func TestReconcilePushConfirmsProvisional(t *testing.T) {
	// Offline send: provisional visible immediately, then the network comes
	// back and the push for the same sender and body arrives.
	provisional := NewProvisional(1, 2, "Ciao!")
	log, _ := Reconcile(nil, InsertIntent{Msg: provisional})

	confirmed := msg("srv-1", 1, 2, "Ciao!", base)
	log, tailChanged := Reconcile(log, Push{Msg: confirmed})

	require.Len(t, log, 1, "provisional and authoritative copies must collapse")
	assert.Equal(t, "srv-1", log[0].ID)
	assert.False(t, log[0].Provisional())
	assert.False(t, tailChanged, "confirmation is not a new tail")
}

func TestReconcilePushJoinRequiresSenderAndBody(t *testing.T) {
	cases := []struct {
		name    string
		push    Message
		wantLen int
	}{
		{"same body different sender", msg("srv-1", 9, 2, "Ciao!", base), 2},
		{"same sender different body", msg("srv-1", 1, 2, "Hallo!", base), 2},
		{"both match", msg("srv-1", 1, 2, "Ciao!", base), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provisional := NewProvisional(1, 2, "Ciao!")
			provisional.CreatedAt = base
			log, _ := Reconcile(nil, InsertIntent{Msg: provisional})
			log, _ = Reconcile(log, Push{Msg: tc.push})
			assert.Len(t, log, tc.wantLen)
		})
	}
}

func TestReconcilePushSameIDReplacesInPlace(t *testing.T) {
	m := msg("srv-1", 2, 1, "hey", base)
	log, _ := Reconcile(nil, Push{Msg: m})

	readAt := base.Add(time.Minute)
	update := m
	update.ReadAt = &readAt
	log, tailChanged := Reconcile(log, Push{Msg: update})

	require.Len(t, log, 1)
	assert.False(t, tailChanged)
	require.NotNil(t, log[0].ReadAt)
	assert.True(t, log[0].ReadAt.Equal(readAt))
}

func TestReconcileReadTimestampNeverRegresses(t *testing.T) {
	later := base.Add(2 * time.Minute)
	earlier := base.Add(time.Minute)

	m := msg("srv-1", 2, 1, "hey", base)
	m.ReadAt = &later
	log, _ := Reconcile(nil, Push{Msg: m})

	cases := []struct {
		name   string
		readAt *time.Time
	}{
		{"earlier timestamp", &earlier},
		{"nil timestamp", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stale := m
			stale.ReadAt = tc.readAt
			out, _ := Reconcile(log, Push{Msg: stale})
			require.NotNil(t, out[0].ReadAt)
			assert.True(t, out[0].ReadAt.Equal(later), "read timestamp regressed")
		})
	}
}

func TestReconcilePushAppendsInTimestampOrder(t *testing.T) {
	m1 := msg("srv-1", 2, 1, "first", base)
	m3 := msg("srv-3", 2, 1, "third", base.Add(2*time.Second))
	log, _ := Reconcile(nil, Snapshot{Msgs: []Message{m1, m3}})

	// Arrives late but belongs in the middle.
	m2 := msg("srv-2", 1, 2, "second", base.Add(time.Second))
	log, tailChanged := Reconcile(log, Push{Msg: m2})

	assert.Equal(t, []string{"srv-1", "srv-2", "srv-3"}, ids(log))
	assert.False(t, tailChanged, "a backfilled message does not move the tail")

	m4 := msg("srv-4", 1, 2, "fourth", base.Add(3*time.Second))
	log, tailChanged = Reconcile(log, Push{Msg: m4})
	assert.Equal(t, []string{"srv-1", "srv-2", "srv-3", "srv-4"}, ids(log))
	assert.True(t, tailChanged)
}

func TestReconcileTiesBreakByArrivalOrder(t *testing.T) {
	m1 := msg("srv-1", 2, 1, "a", base)
	m2 := msg("srv-2", 2, 1, "b", base) // same timestamp
	log, _ := Reconcile(nil, Push{Msg: m1})
	log, _ = Reconcile(log, Push{Msg: m2})
	assert.Equal(t, []string{"srv-1", "srv-2"}, ids(log))
}

func TestReconcileSnapshotIdempotence(t *testing.T) {
	window := []Message{
		msg("srv-1", 1, 2, "a", base),
		msg("srv-2", 2, 1, "b", base.Add(time.Second)),
		msg("srv-3", 1, 2, "c", base.Add(2*time.Second)),
		msg("srv-4", 2, 1, "d", base.Add(3*time.Second)),
		msg("srv-5", 1, 2, "e", base.Add(4*time.Second)),
	}
	log, changed := Reconcile(nil, Snapshot{Msgs: window})
	assert.True(t, changed)

	// Same five messages, same last id: the store reference must not change,
	// so no spurious re-render signal fires.
	again, changed := Reconcile(log, Snapshot{Msgs: window})
	assert.False(t, changed)
	assert.Same(t, &log[0], &again[0], "identical snapshot must return the same slice")
}

func TestReconcileSnapshotReplacesOnDifference(t *testing.T) {
	old := []Message{msg("srv-1", 1, 2, "a", base)}
	log, _ := Reconcile(nil, Snapshot{Msgs: old})

	cases := []struct {
		name string
		next []Message
	}{
		{"longer window", []Message{
			msg("srv-1", 1, 2, "a", base),
			msg("srv-2", 2, 1, "b", base.Add(time.Second)),
		}},
		{"same length different tail", []Message{msg("srv-9", 1, 2, "z", base)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, changed := Reconcile(log, Snapshot{Msgs: tc.next})
			assert.True(t, changed)
			assert.Equal(t, ids(tc.next), ids(out))
		})
	}
}

func TestRemoveProvisional(t *testing.T) {
	provisional := NewProvisional(1, 2, "doomed")
	keep := msg("srv-1", 2, 1, "kept", base)
	log, _ := Reconcile([]Message{keep}, InsertIntent{Msg: provisional})

	log = RemoveProvisional(log, provisional.ID)
	assert.Equal(t, []string{"srv-1"}, ids(log))

	// Unknown id is a no-op.
	log = RemoveProvisional(log, "temp-nope")
	assert.Equal(t, []string{"srv-1"}, ids(log))
}

func TestReconcileDoesNotMutateInput(t *testing.T) {
	orig := []Message{msg("srv-1", 2, 1, "hey", base)}
	readAt := base.Add(time.Minute)
	update := orig[0]
	update.ReadAt = &readAt

	_, _ = Reconcile(orig, Push{Msg: update})
	assert.Nil(t, orig[0].ReadAt, "reducer must not mutate its input")
}
