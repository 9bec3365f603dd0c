// Package push is the real-time channel between the backing store and open
// views, carried over Redis pub/sub. It is an accelerator, not a guarantee:
// the poll timers re-derive the same state, so a dropped subscription only
// costs latency.
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/event"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/thread"
)

type Kind string

const (
	KindMessage      Kind = "message"       // direct message insert
	KindRead         Kind = "read"          // read-receipt update, same id later read timestamp
	KindEventMessage Kind = "event_message" // group message insert
)

// Envelope is the wire shape of one row-level change notification.
type Envelope struct {
	Kind         Kind            `json:"kind"`
	Message      *thread.Message `json:"message,omitempty"`
	EventMessage *event.Message  `json:"event_message,omitempty"`
}

func userChannel(id int) string {
	return "chat:user:" + strconv.Itoa(id)
}

type Publisher struct {
	redis *redis.Client
}

func NewPublisher(redisClient *redis.Client) *Publisher {
	return &Publisher{redis: redisClient}
}

// PublishMessage notifies both parties. The sender's own devices need the
// authoritative copy too; that push is what collapses their provisional
// entry into the server-confirmed one.
func (p *Publisher) PublishMessage(ctx context.Context, m thread.Message) error {
	return p.fanout(ctx, Envelope{Kind: KindMessage, Message: &m}, m.RecipientID, m.SenderID)
}

func (p *Publisher) PublishRead(ctx context.Context, m thread.Message) error {
	return p.fanout(ctx, Envelope{Kind: KindRead, Message: &m}, m.RecipientID, m.SenderID)
}

func (p *Publisher) PublishEventMessage(ctx context.Context, m event.Message, memberIDs []int) error {
	return p.fanout(ctx, Envelope{Kind: KindEventMessage, EventMessage: &m}, memberIDs...)
}

func (p *Publisher) fanout(ctx context.Context, env Envelope, userIDs ...int) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	for _, id := range userIDs {
		if err := p.redis.Publish(ctx, userChannel(id), payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Subscription delivers decoded envelopes for one viewer until closed.
type Subscription struct {
	pubsub *redis.PubSub
	ch     chan Envelope
	cancel context.CancelFunc
}

type Subscriber struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewSubscriber(redisClient *redis.Client, logger *slog.Logger) *Subscriber {
	return &Subscriber{redis: redisClient, logger: logger}
}

func (s *Subscriber) Subscribe(ctx context.Context, viewerID int) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := s.redis.Subscribe(ctx, userChannel(viewerID))

	sub := &Subscription{
		pubsub: pubsub,
		ch:     make(chan Envelope, 16),
		cancel: cancel,
	}

	go func() {
		defer close(sub.ch)
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					s.logger.Debug("dropping malformed push payload", "err", err)
					continue
				}
				select {
				case sub.ch <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return sub
}

func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Close unsubscribes and stops the pump. Safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
	_ = s.pubsub.Close()
}
