package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/badge"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/config"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/event"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/inbox"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/push"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/thread"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/unlock"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/user"
)

type fakeSessionService struct {
	mu          sync.Mutex
	markReadCtx context.Context
}

func (f *fakeSessionService) Window(context.Context, int, int, int) ([]thread.Message, error) {
	return nil, nil
}

func (f *fakeSessionService) MarkRead(ctx context.Context, _, _ int, _ time.Time) ([]thread.Message, error) {
	f.mu.Lock()
	f.markReadCtx = ctx
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeSessionService) CanSend(context.Context, int, int) (bool, error) { return true, nil }

func (f *fakeSessionService) SendDirect(_ context.Context, m thread.Message) (thread.Message, error) {
	return m, nil
}

func (f *fakeSessionService) SendEventMessage(context.Context, int, int, string) (event.Message, error) {
	return event.Message{}, nil
}

func (f *fakeSessionService) MarkEventRead(context.Context, int, int) error { return nil }

func (f *fakeSessionService) lastMarkReadCtx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markReadCtx
}

type fakeFeed struct{ ch chan push.Envelope }

func (f *fakeFeed) C() <-chan push.Envelope { return f.ch }
func (f *fakeFeed) Close()                  {}

type emptyDirect struct{}

func (emptyDirect) Summaries(context.Context, int) ([]thread.Summary, error) { return nil, nil }

type emptyEvents struct{}

func (emptyEvents) MembershipsFor(context.Context, int) ([]event.Membership, error) {
	return nil, nil
}
func (emptyEvents) UnreadCount(context.Context, int, int) (int, error) { return 0, nil }
func (emptyEvents) LastActivity(context.Context, int) (map[int]time.Time, error) {
	return nil, nil
}

type emptySuggestions struct{}

func (emptySuggestions) SuggestionsFor(context.Context, int, float64, int) ([]unlock.Suggestion, error) {
	return nil, nil
}

type emptyProfiles struct{}

func (emptyProfiles) GetProfile(context.Context, int) (*user.Profile, error) {
	return &user.Profile{}, nil
}

type zeroUnread struct{}

func (zeroUnread) DirectUnread(context.Context, int) (int, error) { return 0, nil }
func (zeroUnread) EventUnread(context.Context, int) (int, error)  { return 0, nil }

// newTestClient wires a client the way ServeWs does, minus the socket, with
// timers parked so nothing ticks during the test.
func newTestClient(t *testing.T, svc SessionService) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := &Deps{
		Service: svc,
		OpenFeed: func(ctx context.Context, viewerID int) Feed {
			return &fakeFeed{ch: make(chan push.Envelope)}
		},
		NewAggregator: func(viewerID int) (*inbox.Aggregator, error) {
			dismissals, err := inbox.OpenDismissalStore(t.TempDir(), viewerID)
			require.NoError(t, err)
			return inbox.NewAggregator(emptyDirect{}, emptyEvents{}, emptySuggestions{},
				emptyProfiles{}, dismissals, 5, 0.75, logger), nil
		},
		NewBadge: func(viewerID int) *badge.Aggregator {
			return badge.NewAggregator(zeroUnread{}, viewerID, time.Hour, time.Hour, logger)
		},
		Sync: config.Sync{
			ConversationPoll: time.Hour,
			InboxPoll:        time.Hour,
			MarkReadBackstop: time.Hour,
			BadgeForeground:  time.Hour,
			BadgeBackground:  time.Hour,
		},
		Logger: logger,
	}
	return &Client{UserID: 1, Username: "viewer", Send: make(chan []byte, 8), deps: deps}
}

func TestControlActionsCarrySessionContext(t *testing.T) {
	svc := &fakeSessionService{}
	c := newTestClient(t, svc)
	require.NoError(t, c.startSession())

	c.handleControl([]byte(`{"type":"mark_read","peer_id":2}`))
	ctx := svc.lastMarkReadCtx()
	require.NotNil(t, ctx)
	assert.NoError(t, ctx.Err(), "control context live while the session is open")

	c.teardown()

	// A control message racing teardown must not issue I/O that outlives the
	// session: the context it carries is already cancelled.
	c.handleControl([]byte(`{"type":"mark_read","peer_id":2}`))
	ctx = svc.lastMarkReadCtx()
	require.NotNil(t, ctx)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
