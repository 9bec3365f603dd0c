// Package session owns view lifecycles. Each open view runs one goroutine
// with a select loop; the loop is the only writer of the view's state, so the
// message log needs no lock. Every ticker and subscription a view acquires is
// released when the view closes; a leaked timer would keep mutating a
// detached store, which is a correctness bug rather than a resource leak.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/push"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/thread"
)

// MessageSource is the slice of the backing store a conversation view needs.
type MessageSource interface {
	Window(ctx context.Context, viewerID, peerID, limit int) ([]thread.Message, error)
	MarkRead(ctx context.Context, peerID, viewerID int, now time.Time) ([]thread.Message, error)
}

const windowSize = 100

// ChangeFunc receives the new log whenever it changes. tailChanged reports
// whether the visible tail moved, which is what decides the auto-scroll /
// notify side effect downstream.
type ChangeFunc func(msgs []thread.Message, tailChanged bool)

type command interface{ sessionCommand() }

type applyEvent struct{ ev thread.Event }
type dropProvisional struct{ tempID string }
type snapshotReq struct{ reply chan []thread.Message }

func (applyEvent) sessionCommand()      {}
func (dropProvisional) sessionCommand() {}
func (snapshotReq) sessionCommand()     {}

// ConversationView is one open direct conversation. It owns a fast poll
// ticker (tighter latency than the inbox-level poll), a mark-read backstop
// ticker, and its slot on the viewer's push feed; Close tears all of them
// down and never touches the inbox-level timers, which belong to a
// longer-lived parent.
type ConversationView struct {
	viewerID int
	peerID   int

	src      MessageSource
	onChange ChangeFunc
	logger   *slog.Logger

	pollEvery     time.Duration
	backstopEvery time.Duration

	events chan push.Envelope
	cmds   chan command

	msgs []thread.Message

	cancel context.CancelFunc
	done   chan struct{}
}

func OpenConversation(ctx context.Context, viewerID, peerID int, src MessageSource,
	onChange ChangeFunc, pollEvery, backstopEvery time.Duration, logger *slog.Logger) *ConversationView {
	ctx, cancel := context.WithCancel(ctx)
	v := &ConversationView{
		viewerID:      viewerID,
		peerID:        peerID,
		src:           src,
		onChange:      onChange,
		logger:        logger,
		pollEvery:     pollEvery,
		backstopEvery: backstopEvery,
		events:        make(chan push.Envelope, 16),
		cmds:          make(chan command, 16),
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	go v.run(ctx)
	return v
}

func (v *ConversationView) run(ctx context.Context) {
	defer close(v.done)

	poll := time.NewTicker(v.pollEvery)
	defer poll.Stop()
	backstop := time.NewTicker(v.backstopEvery)
	defer backstop.Stop()

	// Opening the conversation loads the window and acknowledges it.
	v.poll(ctx)
	v.markRead(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-v.events:
			v.handlePush(ctx, env)
		case cmd := <-v.cmds:
			v.handleCommand(cmd)
		case <-poll.C:
			v.poll(ctx)
		case <-backstop.C:
			// Redundant on purpose: the backstop corrects any receipt the
			// push path missed.
			v.markRead(ctx)
		}
	}
}

// Deliver hands the view a push envelope. Non-blocking: if the view's buffer
// is full the event is dropped and the fast poll re-derives it.
func (v *ConversationView) Deliver(env push.Envelope) {
	select {
	case v.events <- env:
	case <-v.done:
	default:
	}
}

// Append applies an optimistic insert intent. The provisional message is
// visible before any network dispatch happens.
func (v *ConversationView) Append(m thread.Message) {
	v.enqueue(applyEvent{ev: thread.InsertIntent{Msg: m}})
}

// Drop removes a provisional entry whose network dispatch failed; the caller
// surfaces the retry affordance.
func (v *ConversationView) Drop(tempID string) {
	v.enqueue(dropProvisional{tempID: tempID})
}

// Messages returns a copy of the current log.
func (v *ConversationView) Messages() []thread.Message {
	req := snapshotReq{reply: make(chan []thread.Message, 1)}
	select {
	case v.cmds <- req:
	case <-v.done:
		return nil
	}
	select {
	case msgs := <-req.reply:
		return msgs
	case <-v.done:
		return nil
	}
}

// Close cancels the poll, the backstop, and the push feed, deterministically.
// Safe to call more than once.
func (v *ConversationView) Close() {
	v.cancel()
	<-v.done
}

func (v *ConversationView) enqueue(cmd command) {
	select {
	case v.cmds <- cmd:
	case <-v.done:
	}
}

func (v *ConversationView) handleCommand(cmd command) {
	switch c := cmd.(type) {
	case applyEvent:
		next, tailChanged := thread.Reconcile(v.msgs, c.ev)
		if !sameSlice(v.msgs, next) {
			v.msgs = next
			v.onChange(v.msgs, tailChanged)
		}
	case dropProvisional:
		next := thread.RemoveProvisional(v.msgs, c.tempID)
		if !sameSlice(v.msgs, next) {
			v.msgs = next
			v.onChange(v.msgs, false)
		}
	case snapshotReq:
		out := make([]thread.Message, len(v.msgs))
		copy(out, v.msgs)
		c.reply <- out
	}
}

func (v *ConversationView) handlePush(ctx context.Context, env push.Envelope) {
	if env.Message == nil || !v.relevant(*env.Message) {
		return
	}

	next, tailChanged := thread.Reconcile(v.msgs, thread.Push{Msg: *env.Message})
	if !sameSlice(v.msgs, next) {
		v.msgs = next
		v.onChange(v.msgs, tailChanged)
	}

	// A message from the peer while the conversation is open is read the
	// moment it lands.
	if env.Kind == push.KindMessage && env.Message.SenderID == v.peerID {
		v.markRead(ctx)
	}
}

func (v *ConversationView) relevant(m thread.Message) bool {
	return (m.SenderID == v.peerID && m.RecipientID == v.viewerID) ||
		(m.SenderID == v.viewerID && m.RecipientID == v.peerID)
}

func (v *ConversationView) poll(ctx context.Context) {
	window, err := v.src.Window(ctx, v.viewerID, v.peerID, windowSize)
	if err != nil {
		if ctx.Err() == nil {
			v.logger.Debug("conversation poll failed", "peer_id", v.peerID, "err", err)
		}
		return
	}
	next, tailChanged := thread.Reconcile(v.msgs, thread.Snapshot{Msgs: window})
	if !sameSlice(v.msgs, next) {
		v.msgs = next
		v.onChange(v.msgs, tailChanged)
	}
}

func (v *ConversationView) markRead(ctx context.Context) {
	// The local log is the state being acknowledged: nothing unread here
	// means nothing to stamp, so the backstop skips the round-trip.
	if thread.CountUnread(v.msgs, v.viewerID) == 0 {
		return
	}
	if _, err := v.src.MarkRead(ctx, v.peerID, v.viewerID, time.Now()); err != nil {
		if ctx.Err() == nil {
			v.logger.Debug("mark read failed", "peer_id", v.peerID, "err", err)
		}
		return
	}
	next, stamped := thread.MarkRead(v.msgs, v.peerID, v.viewerID, time.Now())
	if stamped > 0 {
		v.msgs = next
		v.onChange(v.msgs, false)
	}
}

// sameSlice is identity, not equality: the reconciler returns the input slice
// untouched when nothing changed.
func sameSlice(a, b []thread.Message) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}
