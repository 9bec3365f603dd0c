package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/event"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/push"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/thread"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/unlock"
)

// ErrLocked marks a send refused by the unlock gate. A refused send is inert:
// nothing was written, nothing needs retrying.
var ErrLocked = errors.New("conversation locked")

// ErrNotMember marks a group send from outside the event's membership.
var ErrNotMember = errors.New("not an event member")

// Service is the send/acknowledge path shared by the WebSocket and REST
// surfaces: gate check, persistence, then push fan-out.
type Service struct {
	messages *thread.Repository
	events   *event.Repository
	gate     *unlock.Gate
	pub      *push.Publisher
	logger   *slog.Logger
}

func NewService(messages *thread.Repository, events *event.Repository, gate *unlock.Gate,
	pub *push.Publisher, logger *slog.Logger) *Service {
	return &Service{messages: messages, events: events, gate: gate, pub: pub, logger: logger}
}

// SendDirect persists an already-provisional message under a fresh server id
// and fans it out. The caller appended the provisional entry to its view
// before calling; on error it drops that entry and shows the retry
// affordance.
func (s *Service) SendDirect(ctx context.Context, provisional thread.Message) (thread.Message, error) {
	ok, err := s.gate.CanSend(ctx, provisional.SenderID, provisional.RecipientID)
	if err != nil {
		return thread.Message{}, err
	}
	if !ok {
		return thread.Message{}, ErrLocked
	}

	m := provisional
	m.ID = thread.NewServerID()

	if err := s.messages.Insert(ctx, m); err != nil {
		return thread.Message{}, err
	}

	// The push is what confirms the sender's provisional copy and notifies
	// the recipient. Failure here is fine: the poll path delivers the same
	// message on its next cycle.
	if err := s.pub.PublishMessage(ctx, m); err != nil {
		s.logger.Debug("message push failed", "message_id", m.ID, "err", err)
	}
	return m, nil
}

// CanSend exposes the gate for the compose UI.
func (s *Service) CanSend(ctx context.Context, viewerID, peerID int) (bool, error) {
	return s.gate.CanSend(ctx, viewerID, peerID)
}

// Window delegates to the message repository; together with MarkRead it makes
// the service the conversation views' message source.
func (s *Service) Window(ctx context.Context, viewerID, peerID, limit int) ([]thread.Message, error) {
	return s.messages.Window(ctx, viewerID, peerID, limit)
}

// MarkRead acknowledges everything the peer has sent the viewer, then pushes
// the receipts so the peer's open view updates its ticks.
func (s *Service) MarkRead(ctx context.Context, peerID, viewerID int, now time.Time) ([]thread.Message, error) {
	updated, err := s.messages.MarkRead(ctx, peerID, viewerID, now)
	if err != nil {
		return nil, err
	}
	for _, m := range updated {
		if err := s.pub.PublishRead(ctx, m); err != nil {
			s.logger.Debug("read receipt push failed", "message_id", m.ID, "err", err)
			break
		}
	}
	return updated, nil
}

// SendEventMessage posts into an event group the sender belongs to.
func (s *Service) SendEventMessage(ctx context.Context, senderID, eventID int, body string) (event.Message, error) {
	member, err := s.events.IsMember(ctx, eventID, senderID)
	if err != nil {
		return event.Message{}, err
	}
	if !member {
		return event.Message{}, ErrNotMember
	}

	m := event.Message{
		ID:        thread.NewServerID(),
		EventID:   eventID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := s.events.InsertMessage(ctx, m); err != nil {
		return event.Message{}, err
	}

	members, err := s.events.MemberIDs(ctx, eventID)
	if err != nil {
		s.logger.Debug("member fan-out lookup failed", "event_id", eventID, "err", err)
		return m, nil
	}
	if err := s.pub.PublishEventMessage(ctx, m, members); err != nil {
		s.logger.Debug("event message push failed", "message_id", m.ID, "err", err)
	}
	return m, nil
}

// MarkEventRead advances the viewer's watermark for the event group.
func (s *Service) MarkEventRead(ctx context.Context, viewerID, eventID int) error {
	return s.events.MarkRead(ctx, eventID, viewerID, time.Now())
}

// EventWindow serves the group conversation's recent messages.
func (s *Service) EventWindow(ctx context.Context, eventID, limit int) ([]event.Message, error) {
	return s.events.Window(ctx, eventID, limit)
}

func (s *Service) unreadSource() UnreadSource {
	return UnreadSource{Messages: s.messages, Events: s.events}
}

// UnreadSource adapts the two repositories into the badge aggregator's
// source: each refresh reads both totals fresh.
type UnreadSource struct {
	Messages *thread.Repository
	Events   *event.Repository
}

func (u UnreadSource) DirectUnread(ctx context.Context, viewerID int) (int, error) {
	return u.Messages.UnreadTotal(ctx, viewerID)
}

func (u UnreadSource) EventUnread(ctx context.Context, viewerID int) (int, error) {
	return u.Events.UnreadTotal(ctx, viewerID)
}
