package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	myMiddleware "github.com/RougeDev00/grenbaud-tinder-sub000/internal/middleware"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/thread"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

// Handler exposes the REST surface plus the websocket entry point. REST is
// the poll-friendly half: the endpoints return the same state the socket
// pushes, so a client that lost its socket keeps working on a slower cadence.
type Handler struct {
	hub  *Hub
	svc  *Service
	deps *Deps
}

func NewHandler(hub *Hub, svc *Service, deps *Deps) *Handler {
	return &Handler{hub: hub, svc: svc, deps: deps}
}

func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	username, ok2 := r.Context().Value(myMiddleware.UsernameKey).(string)
	if !ok || !ok2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Logger.Debug("websocket upgrade failed", "err", err)
		return
	}

	client := &Client{
		Hub:      h.hub,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		UserID:   userID,
		Username: username,
		deps:     h.deps,
	}
	if err := client.startSession(); err != nil {
		h.deps.Logger.Error("session start failed", "user_id", userID, "err", err)
		conn.Close()
		return
	}
	client.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// GetMessages serves the poll snapshot for one conversation window.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := viewer(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	peerID, err := strconv.Atoi(r.URL.Query().Get("peer"))
	if err != nil {
		http.Error(w, "invalid peer", http.StatusBadRequest)
		return
	}

	msgs, err := h.svc.Window(r.Context(), viewerID, peerID, 100)
	if err != nil {
		http.Error(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []thread.Message{}
	}
	json.NewEncoder(w).Encode(msgs)
}

type sendRequest struct {
	PeerID int    `json:"peer_id"`
	Body   string `json:"body"`
	TempID string `json:"temp_id"`
}

// SendMessage is the REST send path: same gate, same persistence, same push
// fan-out as the socket path. A 403 here means locked: the client must not
// have created a provisional entry, and nothing is retryable.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := viewer(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	provisional := thread.Message{
		ID:          req.TempID,
		SenderID:    viewerID,
		RecipientID: req.PeerID,
		Body:        req.Body,
		CreatedAt:   time.Now(),
	}
	if provisional.ID == "" {
		provisional = thread.NewProvisional(viewerID, req.PeerID, req.Body)
	}

	m, err := h.svc.SendDirect(r.Context(), provisional)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			http.Error(w, `{"error": "locked"}`, http.StatusForbidden)
			return
		}
		// Transient: the client drops its provisional entry and offers retry.
		http.Error(w, `{"error": "send failed", "retryable": true}`, http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

type markReadRequest struct {
	PeerID int `json:"peer_id"`
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := viewer(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if _, err := h.svc.MarkRead(r.Context(), req.PeerID, viewerID, time.Now()); err != nil {
		http.Error(w, "failed to mark read", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUnlock reports whether the compose control should accept input at all.
func (h *Handler) GetUnlock(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := viewer(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	peerID, err := strconv.Atoi(r.URL.Query().Get("peer"))
	if err != nil {
		http.Error(w, "invalid peer", http.StatusBadRequest)
		return
	}

	unlocked, err := h.svc.CanSend(r.Context(), viewerID, peerID)
	if err != nil {
		http.Error(w, "failed to check gate", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]bool{"unlocked": unlocked})
}

// GetInbox builds the aggregated inbox on demand, the REST mirror of the
// socket's inbox payloads.
func (h *Handler) GetInbox(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := viewer(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	aggr, err := h.deps.NewAggregator(viewerID)
	if err != nil {
		http.Error(w, "failed to build inbox", http.StatusInternalServerError)
		return
	}
	entries, err := aggr.Build(r.Context(), viewerID)
	if err != nil {
		http.Error(w, "failed to build inbox", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(entries)
}

type dismissRequest struct {
	PeerID int `json:"peer_id"`
}

func (h *Handler) DismissSuggestion(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := viewer(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req dismissRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	aggr, err := h.deps.NewAggregator(viewerID)
	if err != nil {
		http.Error(w, "failed to dismiss", http.StatusInternalServerError)
		return
	}
	if err := aggr.Dismiss(req.PeerID); err != nil {
		http.Error(w, "failed to dismiss", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBadge computes the global unread total on demand.
func (h *Handler) GetBadge(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := viewer(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	src := h.svc.unreadSource()
	direct, err := src.DirectUnread(r.Context(), viewerID)
	if err != nil {
		http.Error(w, "failed to compute badge", http.StatusInternalServerError)
		return
	}
	event, err := src.EventUnread(r.Context(), viewerID)
	if err != nil {
		http.Error(w, "failed to compute badge", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(BadgePayload{Type: "badge", Total: direct + event})
}

// GetEventMessages serves a group conversation window.
func (h *Handler) GetEventMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := viewer(r); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	eventID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	msgs, err := h.svc.EventWindow(r.Context(), eventID, 100)
	if err != nil {
		http.Error(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(msgs)
}

type eventSendRequest struct {
	Body string `json:"body"`
}

func (h *Handler) SendEventMessage(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := viewer(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	eventID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	var req eventSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	m, err := h.svc.SendEventMessage(r.Context(), viewerID, eventID, req.Body)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			http.Error(w, `{"error": "not a member"}`, http.StatusForbidden)
			return
		}
		http.Error(w, `{"error": "send failed", "retryable": true}`, http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

func (h *Handler) MarkEventRead(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := viewer(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	eventID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	if err := h.svc.MarkEventRead(r.Context(), viewerID, eventID); err != nil {
		http.Error(w, "failed to mark read", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func viewer(r *http.Request) (int, bool) {
	id, ok := r.Context().Value(myMiddleware.UserKey).(int)
	return id, ok
}
