// Package badge owns the one process-wide unread number. Every view that
// shows it subscribes on mount and unsubscribes on unmount; nothing reads the
// total through a global.
package badge

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Source supplies the two independently computed unread totals. Each Refresh
// reads current state through it rather than applying a delta, which is what
// makes concurrent refreshes converge.
type Source interface {
	DirectUnread(ctx context.Context, viewerID int) (int, error)
	EventUnread(ctx context.Context, viewerID int) (int, error)
}

type Aggregator struct {
	src      Source
	viewerID int
	logger   *slog.Logger

	foregroundEvery time.Duration
	backgroundEvery time.Duration

	mu         sync.Mutex
	total      int
	foreground bool
	subs       map[chan int]struct{}
	cadence    chan struct{}
}

func NewAggregator(src Source, viewerID int, foregroundEvery, backgroundEvery time.Duration, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		src:             src,
		viewerID:        viewerID,
		logger:          logger,
		foregroundEvery: foregroundEvery,
		backgroundEvery: backgroundEvery,
		foreground:      true,
		subs:            make(map[chan int]struct{}),
		cadence:         make(chan struct{}, 1),
	}
}

// Subscribe registers a listener for badge totals. The channel is buffered
// and receives the current total immediately, then every published change.
func (a *Aggregator) Subscribe() chan int {
	ch := make(chan int, 8)
	a.mu.Lock()
	a.subs[ch] = struct{}{}
	ch <- a.total
	a.mu.Unlock()
	return ch
}

func (a *Aggregator) Unsubscribe(ch chan int) {
	a.mu.Lock()
	if _, ok := a.subs[ch]; ok {
		delete(a.subs, ch)
		close(ch)
	}
	a.mu.Unlock()
}

// Total returns the last published value.
func (a *Aggregator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Bump is the optimistic increment applied when a relevant push event
// arrives. It is advisory only; the caller follows up with Refresh, whose
// authoritative read overwrites whatever Bump guessed.
func (a *Aggregator) Bump() {
	a.mu.Lock()
	a.total++
	a.publishLocked()
	a.mu.Unlock()
}

// Refresh recomputes the badge from current state and publishes it. Safe to
// call concurrently from the event-driven and timer-driven triggers: each
// call reads both totals fresh, so any interleaving lands on the same sum.
func (a *Aggregator) Refresh(ctx context.Context) error {
	direct, err := a.src.DirectUnread(ctx, a.viewerID)
	if err != nil {
		return err
	}
	event, err := a.src.EventUnread(ctx, a.viewerID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.total = direct + event
	a.publishLocked()
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) publishLocked() {
	for ch := range a.subs {
		select {
		case ch <- a.total:
		default:
			// Slow subscriber keeps its stale value; the next publish or its
			// own poll catches it up.
		}
	}
}

// SetForeground switches the refresh cadence with page visibility. A
// backgrounded page still refreshes, just slowly.
func (a *Aggregator) SetForeground(fg bool) {
	a.mu.Lock()
	changed := a.foreground != fg
	a.foreground = fg
	a.mu.Unlock()
	if changed {
		select {
		case a.cadence <- struct{}{}:
		default:
		}
	}
}

func (a *Aggregator) interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.foreground {
		return a.foregroundEvery
	}
	return a.backgroundEvery
}

// Run drives the timer trigger until ctx is cancelled. Refresh failures are
// silent: the next tick re-derives the same state.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.cadence:
			ticker.Reset(a.interval())
		case <-ticker.C:
			if err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
				a.logger.Debug("badge refresh failed", "err", err)
			}
		}
	}
}
