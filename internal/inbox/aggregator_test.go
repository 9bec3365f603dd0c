package inbox

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/event"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/thread"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/unlock"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/user"
)

var base = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeDirect struct {
	summaries []thread.Summary
}

func (f *fakeDirect) Summaries(context.Context, int) ([]thread.Summary, error) {
	return f.summaries, nil
}

type fakeEvents struct {
	memberships []event.Membership
	unread      map[int]int
	activity    map[int]time.Time
}

func (f *fakeEvents) MembershipsFor(context.Context, int) ([]event.Membership, error) {
	return f.memberships, nil
}

func (f *fakeEvents) UnreadCount(_ context.Context, eventID, _ int) (int, error) {
	return f.unread[eventID], nil
}

func (f *fakeEvents) LastActivity(context.Context, int) (map[int]time.Time, error) {
	return f.activity, nil
}

type fakeSuggestions struct {
	list []unlock.Suggestion
}

func (f *fakeSuggestions) SuggestionsFor(context.Context, int, float64, int) ([]unlock.Suggestion, error) {
	return f.list, nil
}

type fakeProfiles struct {
	missing map[int]bool
	fetches int
}

func (f *fakeProfiles) GetProfile(_ context.Context, id int) (*user.Profile, error) {
	f.fetches++
	if f.missing[id] {
		return nil, user.ErrNotFound
	}
	return &user.Profile{ID: id, Username: "u", DisplayName: "U"}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func summary(peerID int, body string, at time.Time, unread int) thread.Summary {
	return thread.Summary{
		PeerID:      peerID,
		LastMessage: thread.Message{ID: "m", SenderID: peerID, RecipientID: 1, Body: body, CreatedAt: at},
		Unread:      unread,
	}
}

func newTestAggregator(t *testing.T, direct DirectSource, events EventSource,
	suggestions SuggestionSource, profiles ProfileDirectory) *Aggregator {
	t.Helper()
	dismissals, err := OpenDismissalStore(t.TempDir(), 1)
	require.NoError(t, err)
	return NewAggregator(direct, events, suggestions, profiles, dismissals, 2, 0.75, discard())
}

func TestBuildOrdersByRecency(t *testing.T) {
	direct := &fakeDirect{summaries: []thread.Summary{
		summary(2, "old", base, 1),
		summary(3, "new", base.Add(time.Hour), 0),
	}}
	events := &fakeEvents{
		memberships: []event.Membership{{EventID: 7, Title: "Aperitivo"}},
		unread:      map[int]int{7: 2},
		activity:    map[int]time.Time{7: base.Add(30 * time.Minute)},
	}
	a := newTestAggregator(t, direct, events, &fakeSuggestions{}, &fakeProfiles{})

	entries, err := a.Build(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first, direct and event rows interleaved by the same rule.
	assert.Equal(t, KindDirect, entries[0].Kind)
	assert.Equal(t, 3, entries[0].Peer.ID)
	assert.Equal(t, KindEvent, entries[1].Kind)
	assert.Equal(t, 7, entries[1].EventID)
	assert.Equal(t, 2, entries[1].Unread)
	assert.Equal(t, KindDirect, entries[2].Kind)
	assert.Equal(t, 1, entries[2].Unread)
}

func TestBuildSkipsUnresolvableProfiles(t *testing.T) {
	direct := &fakeDirect{summaries: []thread.Summary{
		summary(2, "hello", base, 0),
		summary(3, "there", base.Add(time.Minute), 0),
	}}
	profiles := &fakeProfiles{missing: map[int]bool{2: true}}
	a := newTestAggregator(t, direct, &fakeEvents{}, &fakeSuggestions{}, profiles)

	entries, err := a.Build(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1, "missing profile drops the row until the next cycle")
	assert.Equal(t, 3, entries[0].Peer.ID)
}

func TestSuggestionsFilterAndCap(t *testing.T) {
	direct := &fakeDirect{summaries: []thread.Summary{summary(2, "hi", base, 0)}}
	suggestions := &fakeSuggestions{list: []unlock.Suggestion{
		{TargetID: 2, Score: 0.99}, // already in a conversation
		{TargetID: 4, Score: 0.95}, // dismissed below
		{TargetID: 5, Score: 0.90},
		{TargetID: 6, Score: 0.85},
		{TargetID: 7, Score: 0.80}, // over the cap of 2
	}}
	a := newTestAggregator(t, direct, &fakeEvents{}, suggestions, &fakeProfiles{})
	require.NoError(t, a.Dismiss(4))

	entries, err := a.Build(context.Background(), 1)
	require.NoError(t, err)

	var got []int
	for _, e := range entries {
		if e.Kind == KindSuggestion {
			got = append(got, e.Peer.ID)
		}
	}
	assert.Equal(t, []int{5, 6}, got)
}

func TestProfileCacheAvoidsRefetch(t *testing.T) {
	direct := &fakeDirect{summaries: []thread.Summary{summary(2, "hi", base, 0)}}
	profiles := &fakeProfiles{}
	a := newTestAggregator(t, direct, &fakeEvents{}, &fakeSuggestions{}, profiles)

	ctx := context.Background()
	_, err := a.Build(ctx, 1)
	require.NoError(t, err)
	_, err = a.Build(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, profiles.fetches)
}

func TestDismissalPersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenDismissalStore(dir, 1)
	require.NoError(t, err)
	require.NoError(t, store.Dismiss(4))
	require.NoError(t, store.Dismiss(4), "re-dismissing is a no-op")
	assert.True(t, store.Dismissed(4))

	// A fresh open sees the same set; the suppression survives the session.
	reopened, err := OpenDismissalStore(dir, 1)
	require.NoError(t, err)
	assert.True(t, reopened.Dismissed(4))
	assert.False(t, reopened.Dismissed(5))

	// Sets are per viewer.
	other, err := OpenDismissalStore(dir, 2)
	require.NoError(t, err)
	assert.False(t, other.Dismissed(4))
}

func TestDismissalSurvivesConcurrentStoreInstances(t *testing.T) {
	dir := t.TempDir()

	// The REST handlers open their own store while the viewer's socket
	// session holds one on the same file.
	restStore, err := OpenDismissalStore(dir, 1)
	require.NoError(t, err)
	socketStore, err := OpenDismissalStore(dir, 1)
	require.NoError(t, err)

	require.NoError(t, restStore.Dismiss(9))
	require.NoError(t, socketStore.Dismiss(5))

	// The second save must not erase the first instance's dismissal.
	reopened, err := OpenDismissalStore(dir, 1)
	require.NoError(t, err)
	assert.True(t, reopened.Dismissed(9))
	assert.True(t, reopened.Dismissed(5))
}
