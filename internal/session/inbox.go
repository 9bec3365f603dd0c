package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/badge"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/inbox"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/push"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/user"
)

// InboxBuilder is what the inbox view needs from the conversation aggregator.
type InboxBuilder interface {
	Build(ctx context.Context, viewerID int) ([]inbox.Entry, error)
	ResolvePeer(ctx context.Context, id int) (*user.Profile, bool)
}

// InboxView is the long-lived parent view: it owns the inbox-level poll and
// the badge aggregator's timers. Conversation views come and go underneath it
// without touching these.
type InboxView struct {
	viewerID int

	builder  InboxBuilder
	badge    *badge.Aggregator
	onChange func([]inbox.Entry)
	logger   *slog.Logger

	pollEvery time.Duration

	events  chan push.Envelope
	entries []inbox.Entry

	cancel context.CancelFunc
	done   chan struct{}
}

func OpenInbox(ctx context.Context, viewerID int, builder InboxBuilder, bdg *badge.Aggregator,
	pollEvery time.Duration, onChange func([]inbox.Entry), logger *slog.Logger) *InboxView {
	ctx, cancel := context.WithCancel(ctx)
	v := &InboxView{
		viewerID:  viewerID,
		builder:   builder,
		badge:     bdg,
		onChange:  onChange,
		logger:    logger,
		pollEvery: pollEvery,
		events:    make(chan push.Envelope, 16),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go bdg.Run(ctx)
	go v.run(ctx)
	return v
}

func (v *InboxView) run(ctx context.Context) {
	defer close(v.done)

	poll := time.NewTicker(v.pollEvery)
	defer poll.Stop()

	v.rebuild(ctx)
	if err := v.badge.Refresh(ctx); err != nil && ctx.Err() == nil {
		v.logger.Debug("initial badge refresh failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-v.events:
			v.handlePush(ctx, env)
		case <-poll.C:
			v.rebuild(ctx)
		}
	}
}

// Deliver hands the view a push envelope, non-blocking; the poll recovers
// anything dropped.
func (v *InboxView) Deliver(env push.Envelope) {
	select {
	case v.events <- env:
	case <-v.done:
	default:
	}
}

// Badge exposes the aggregator so the delivery layer can subscribe.
func (v *InboxView) Badge() *badge.Aggregator {
	return v.badge
}

// SetForeground switches the badge refresh cadence with page visibility.
func (v *InboxView) SetForeground(fg bool) {
	v.badge.SetForeground(fg)
}

func (v *InboxView) Close() {
	v.cancel()
	<-v.done
}

func (v *InboxView) handlePush(ctx context.Context, env push.Envelope) {
	switch env.Kind {
	case push.KindMessage, push.KindEventMessage:
		// Optimistic bump first, authoritative recompute right after.
		v.badge.Bump()
		if err := v.badge.Refresh(ctx); err != nil && ctx.Err() == nil {
			v.logger.Debug("badge refresh failed", "err", err)
		}
	case push.KindRead:
		if err := v.badge.Refresh(ctx); err != nil && ctx.Err() == nil {
			v.logger.Debug("badge refresh failed", "err", err)
		}
	}

	// A message from a peer not yet in the list needs their profile before
	// the conversation can render. Best-effort: when the fetch fails the
	// event is dropped and the next poll cycle recovers the row.
	if env.Kind == push.KindMessage && env.Message != nil && env.Message.RecipientID == v.viewerID {
		peer := env.Message.SenderID
		if !v.hasPeer(peer) {
			if _, ok := v.builder.ResolvePeer(ctx, peer); !ok {
				return
			}
		}
	}
	v.rebuild(ctx)
}

func (v *InboxView) hasPeer(id int) bool {
	for _, e := range v.entries {
		if e.Kind == inbox.KindDirect && e.Peer != nil && e.Peer.ID == id {
			return true
		}
	}
	return false
}

func (v *InboxView) rebuild(ctx context.Context) {
	entries, err := v.builder.Build(ctx, v.viewerID)
	if err != nil {
		if ctx.Err() == nil {
			v.logger.Debug("inbox rebuild failed", "err", err)
		}
		return
	}
	v.entries = entries
	v.onChange(entries)
}
