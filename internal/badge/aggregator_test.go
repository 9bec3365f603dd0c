package badge

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	direct atomic.Int64
	event  atomic.Int64
	calls  atomic.Int64
}

func (f *fakeSource) DirectUnread(context.Context, int) (int, error) {
	f.calls.Add(1)
	return int(f.direct.Load()), nil
}

func (f *fakeSource) EventUnread(context.Context, int) (int, error) {
	return int(f.event.Load()), nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAggregator(src Source) *Aggregator {
	return NewAggregator(src, 1, time.Hour, time.Hour, discard())
}

func TestRefreshSumsBothKinds(t *testing.T) {
	// Two direct conversations with 3 unread each, one event group with 2.
	src := &fakeSource{}
	src.direct.Store(6)
	src.event.Store(2)

	a := newTestAggregator(src)
	require.NoError(t, a.Refresh(context.Background()))
	assert.Equal(t, 8, a.Total())
}

func TestRefreshConvergesUnderConcurrency(t *testing.T) {
	src := &fakeSource{}
	src.direct.Store(4)
	src.event.Store(1)
	a := newTestAggregator(src)

	// Event-driven and timer-driven triggers fire together; every
	// interleaving must land on the same sum because each call reads current
	// state rather than applying a delta.
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Bump()
			_ = a.Refresh(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, a.Total(), "no double counting, no lost updates")
}

func TestBumpIsOverwrittenByRefresh(t *testing.T) {
	src := &fakeSource{}
	src.direct.Store(1)
	a := newTestAggregator(src)
	require.NoError(t, a.Refresh(context.Background()))

	a.Bump()
	assert.Equal(t, 2, a.Total(), "optimistic increment shows immediately")

	// The authoritative recompute wins even when the guess was wrong.
	require.NoError(t, a.Refresh(context.Background()))
	assert.Equal(t, 1, a.Total())
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	src := &fakeSource{}
	src.direct.Store(3)
	a := newTestAggregator(src)

	ch := a.Subscribe()
	assert.Equal(t, 0, <-ch, "subscription starts with the current total")

	require.NoError(t, a.Refresh(context.Background()))
	assert.Equal(t, 3, <-ch)

	a.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open, "unsubscribe closes the channel")

	// Double unsubscribe is harmless.
	a.Unsubscribe(ch)
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	a := NewAggregator(src, 1, 5*time.Millisecond, time.Hour, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return src.calls.Load() > 0 },
		time.Second, time.Millisecond, "foreground ticker drives refreshes")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run leaked after cancel")
	}

	settled := src.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, src.calls.Load(), "no refreshes after teardown")
}

func TestSetForegroundSwitchesCadence(t *testing.T) {
	src := &fakeSource{}
	// Background so slow it never fires within the test.
	a := NewAggregator(src, 1, 5*time.Millisecond, time.Hour, discard())
	a.SetForeground(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	time.Sleep(25 * time.Millisecond)
	assert.Zero(t, src.calls.Load(), "backgrounded page refreshes on the slow cadence")

	a.SetForeground(true)
	assert.Eventually(t, func() bool { return src.calls.Load() > 0 },
		time.Second, time.Millisecond, "foregrounding restores the fast cadence")
}
