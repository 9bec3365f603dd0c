package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/badge"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/config"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/event"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/inbox"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/push"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/session"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/thread"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum control message size allowed from peer.
)

// SessionService is the slice of the chat service a client session drives:
// the conversation views' message source plus the send and acknowledge
// operations the control messages map to.
type SessionService interface {
	session.MessageSource
	CanSend(ctx context.Context, viewerID, peerID int) (bool, error)
	SendDirect(ctx context.Context, provisional thread.Message) (thread.Message, error)
	SendEventMessage(ctx context.Context, senderID, eventID int, body string) (event.Message, error)
	MarkEventRead(ctx context.Context, viewerID, eventID int) error
}

// Feed is the viewer's push subscription as the session consumes it.
type Feed interface {
	C() <-chan push.Envelope
	Close()
}

// Deps is everything a client session needs, wired once at startup.
type Deps struct {
	Service       SessionService
	OpenFeed      func(ctx context.Context, viewerID int) Feed
	NewAggregator func(viewerID int) (*inbox.Aggregator, error)
	NewBadge      func(viewerID int) *badge.Aggregator
	Sync          config.Sync
	Logger        *slog.Logger
}

// Client is a middleman between one websocket connection and the viewer's
// session: the push subscription, the inbox view, and any open conversation
// views all live and die with it.
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	UserID   int
	Username string

	deps *Deps

	ctx       context.Context
	cancel    context.CancelFunc
	sub       Feed
	aggr      *inbox.Aggregator
	inboxView *session.InboxView
	badgeCh   chan int

	mu        sync.Mutex
	convViews map[int]*session.ConversationView

	sendMu     sync.Mutex
	sendClosed bool
}

// startSession acquires the session resources. Everything acquired here is
// released in teardown, symmetrically.
func (c *Client) startSession() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.ctx = ctx
	c.cancel = cancel
	c.convViews = make(map[int]*session.ConversationView)

	aggr, err := c.deps.NewAggregator(c.UserID)
	if err != nil {
		cancel()
		return err
	}
	c.aggr = aggr

	c.sub = c.deps.OpenFeed(ctx, c.UserID)

	bdg := c.deps.NewBadge(c.UserID)
	c.inboxView = session.OpenInbox(ctx, c.UserID, aggr, bdg,
		c.deps.Sync.InboxPoll, c.sendInbox, c.deps.Logger)

	c.badgeCh = bdg.Subscribe()
	go c.forwardBadge()
	go c.route(ctx)
	return nil
}

// teardown releases everything startSession acquired. Called exactly once,
// from the hub's unregister path.
func (c *Client) teardown() {
	c.mu.Lock()
	views := make([]*session.ConversationView, 0, len(c.convViews))
	for _, v := range c.convViews {
		views = append(views, v)
	}
	c.convViews = nil
	c.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	if c.inboxView != nil {
		c.inboxView.Badge().Unsubscribe(c.badgeCh)
		c.inboxView.Close()
	}
	if c.sub != nil {
		c.sub.Close()
	}
	if c.cancel != nil {
		c.cancel()
	}
}

// route fans the viewer's push feed out to the inbox view and every open
// conversation view.
func (c *Client) route(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-c.sub.C():
			if !ok {
				return
			}
			c.inboxView.Deliver(env)
			c.mu.Lock()
			for _, v := range c.convViews {
				v.Deliver(env)
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) forwardBadge() {
	for total := range c.badgeCh {
		c.trySend(BadgePayload{Type: "badge", Total: total})
	}
}

func (c *Client) sendInbox(entries []inbox.Entry) {
	c.trySend(InboxPayload{Type: "inbox", Entries: entries})
}

// trySend marshals and queues a payload without ever blocking a view loop. A
// full outbound buffer means a slow socket; dropped payloads are re-derived
// by the next poll or publish.
func (c *Client) trySend(payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.Send <- b:
	default:
	}
}

// closeSend shuts the outbound channel exactly once, after which trySend is a
// no-op. Called by the hub on unregister.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.Send)
	}
}

func (c *Client) handleControl(raw []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.deps.Logger.Debug("malformed control message", "user_id", c.UserID, "err", err)
		return
	}

	// Tied to the session: teardown cancels whatever is still in flight.
	ctx := c.ctx
	switch msg.Type {
	case ctrlOpenConversation:
		c.openConversation(msg.PeerID)
	case ctrlCloseConversation:
		c.closeConversation(msg.PeerID)
	case ctrlSend:
		go c.sendDirect(ctx, msg.PeerID, msg.Body)
	case ctrlMarkRead:
		if _, err := c.deps.Service.MarkRead(ctx, msg.PeerID, c.UserID, time.Now()); err != nil {
			c.deps.Logger.Debug("mark read failed", "user_id", c.UserID, "err", err)
		}
	case ctrlEventSend:
		if _, err := c.deps.Service.SendEventMessage(ctx, c.UserID, msg.EventID, msg.Body); err != nil {
			c.deps.Logger.Debug("event send failed", "user_id", c.UserID, "err", err)
		}
	case ctrlEventRead:
		if err := c.deps.Service.MarkEventRead(ctx, c.UserID, msg.EventID); err != nil {
			c.deps.Logger.Debug("event read failed", "user_id", c.UserID, "err", err)
			return
		}
		if err := c.inboxView.Badge().Refresh(ctx); err != nil {
			c.deps.Logger.Debug("badge refresh failed", "user_id", c.UserID, "err", err)
		}
	case ctrlDismiss:
		if err := c.aggr.Dismiss(msg.PeerID); err != nil {
			c.deps.Logger.Debug("dismiss failed", "user_id", c.UserID, "err", err)
		}
	case ctrlVisibility:
		c.inboxView.SetForeground(msg.Foreground)
	}
}

func (c *Client) openConversation(peerID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.convViews == nil {
		return
	}
	if _, open := c.convViews[peerID]; open {
		return
	}

	onChange := func(msgs []thread.Message, tailChanged bool) {
		c.trySend(ConversationPayload{
			Type:        "conversation",
			PeerID:      peerID,
			Messages:    msgs,
			TailChanged: tailChanged,
		})
	}
	c.convViews[peerID] = session.OpenConversation(c.ctx, c.UserID, peerID,
		c.deps.Service, onChange, c.deps.Sync.ConversationPoll, c.deps.Sync.MarkReadBackstop,
		c.deps.Logger)
}

func (c *Client) closeConversation(peerID int) {
	c.mu.Lock()
	v, ok := c.convViews[peerID]
	if ok {
		delete(c.convViews, peerID)
	}
	c.mu.Unlock()
	if ok {
		v.Close()
	}
}

// sendDirect is the optimistic send: the provisional entry lands in the open
// view immediately, dispatch happens after, and a dispatch failure drops the
// entry and surfaces the retry affordance. A gate refusal creates nothing at
// all.
func (c *Client) sendDirect(ctx context.Context, peerID int, body string) {
	if body == "" {
		return
	}

	ok, err := c.deps.Service.CanSend(ctx, c.UserID, peerID)
	if err != nil {
		c.deps.Logger.Debug("gate check failed", "user_id", c.UserID, "peer_id", peerID, "err", err)
		return
	}
	if !ok {
		// Refusal, not failure: the compose action is inert while locked.
		return
	}

	provisional := thread.NewProvisional(c.UserID, peerID, body)

	c.mu.Lock()
	view := c.convViews[peerID]
	c.mu.Unlock()
	if view != nil {
		view.Append(provisional)
	}

	if _, err := c.deps.Service.SendDirect(ctx, provisional); err != nil {
		if view != nil {
			view.Drop(provisional.ID)
		}
		c.trySend(SendFailedPayload{Type: "send_failed", PeerID: peerID, TempID: provisional.ID})
	}
}

// ReadPump pumps control messages from the websocket connection into the
// session.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.deps.Logger.Debug("websocket read error", "user_id", c.UserID, "err", err)
			}
			break
		}
		c.handleControl(message)
	}
}

// WritePump pumps payloads from the session to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The Hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
