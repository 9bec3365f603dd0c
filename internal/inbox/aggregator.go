package inbox

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/event"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/thread"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/unlock"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/user"
)

type EntryKind string

const (
	KindDirect     EntryKind = "direct"
	KindEvent      EntryKind = "event"
	KindSuggestion EntryKind = "suggestion"
)

// Entry is one row of the inbox: a direct conversation, an event-group
// conversation, or a suggested contact.
type Entry struct {
	Kind         EntryKind     `json:"kind"`
	Peer         *user.Profile `json:"peer,omitempty"`
	EventID      int           `json:"event_id,omitempty"`
	Title        string        `json:"title,omitempty"`
	Participants int           `json:"participants,omitempty"`
	LastBody     string        `json:"last_body,omitempty"`
	LastAt       time.Time     `json:"last_at,omitempty"`
	Unread       int           `json:"unread"`
	Score        float64       `json:"score,omitempty"`
}

type DirectSource interface {
	Summaries(ctx context.Context, viewerID int) ([]thread.Summary, error)
}

type EventSource interface {
	MembershipsFor(ctx context.Context, viewerID int) ([]event.Membership, error)
	UnreadCount(ctx context.Context, eventID, viewerID int) (int, error)
	LastActivity(ctx context.Context, viewerID int) (map[int]time.Time, error)
}

type SuggestionSource interface {
	SuggestionsFor(ctx context.Context, viewerID int, minScore float64, limit int) ([]unlock.Suggestion, error)
}

type ProfileDirectory interface {
	GetProfile(ctx context.Context, id int) (*user.Profile, error)
}

type Aggregator struct {
	direct      DirectSource
	events      EventSource
	suggestions SuggestionSource
	profiles    ProfileDirectory
	dismissals  *DismissalStore
	logger      *slog.Logger

	maxSuggestions int
	minScore       float64

	mu    sync.Mutex
	cache map[int]*user.Profile
}

func NewAggregator(direct DirectSource, events EventSource, suggestions SuggestionSource,
	profiles ProfileDirectory, dismissals *DismissalStore, maxSuggestions int, minScore float64,
	logger *slog.Logger) *Aggregator {
	return &Aggregator{
		direct:         direct,
		events:         events,
		suggestions:    suggestions,
		profiles:       profiles,
		dismissals:     dismissals,
		logger:         logger,
		maxSuggestions: maxSuggestions,
		minScore:       minScore,
		cache:          make(map[int]*user.Profile),
	}
}

// Build produces the ordered inbox for the viewer: direct and event-group
// conversations merged newest-first, then the bounded suggestion block.
func (a *Aggregator) Build(ctx context.Context, viewerID int) ([]Entry, error) {
	summaries, err := a.direct.Summaries(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(summaries))
	inConversation := make(map[int]bool, len(summaries))
	for _, s := range summaries {
		inConversation[s.PeerID] = true

		profile, ok := a.ResolvePeer(ctx, s.PeerID)
		if !ok {
			// Best-effort: skip now, the next poll cycle recovers it.
			continue
		}
		entries = append(entries, Entry{
			Kind:     KindDirect,
			Peer:     profile,
			LastBody: s.LastMessage.Body,
			LastAt:   s.LastMessage.CreatedAt,
			Unread:   s.Unread,
		})
	}

	memberships, err := a.events.MembershipsFor(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	activity, err := a.events.LastActivity(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		unread, err := a.events.UnreadCount(ctx, m.EventID, viewerID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Kind:         KindEvent,
			EventID:      m.EventID,
			Title:        m.Title,
			Participants: m.Participants,
			LastAt:       activity[m.EventID],
			Unread:       unread,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastAt.After(entries[j].LastAt)
	})

	suggested, err := a.buildSuggestions(ctx, viewerID, inConversation)
	if err != nil {
		// Suggestions are decoration; the inbox itself still renders.
		a.logger.Debug("suggestion lookup failed", "err", err)
		return entries, nil
	}
	return append(entries, suggested...), nil
}

func (a *Aggregator) buildSuggestions(ctx context.Context, viewerID int, inConversation map[int]bool) ([]Entry, error) {
	// Over-fetch so filtering dismissed and already-active peers still fills
	// the block.
	candidates, err := a.suggestions.SuggestionsFor(ctx, viewerID, a.minScore, a.maxSuggestions*3)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, c := range candidates {
		if len(out) >= a.maxSuggestions {
			break
		}
		if inConversation[c.TargetID] || a.dismissals.Dismissed(c.TargetID) {
			continue
		}
		profile, ok := a.ResolvePeer(ctx, c.TargetID)
		if !ok {
			continue
		}
		out = append(out, Entry{
			Kind:  KindSuggestion,
			Peer:  profile,
			Score: c.Score,
		})
	}
	return out, nil
}

// ResolvePeer fetches the displayable profile behind an identity, caching
// hits. When the fetch fails the caller drops whatever it was rendering; the
// next poll cycle retries.
func (a *Aggregator) ResolvePeer(ctx context.Context, id int) (*user.Profile, bool) {
	a.mu.Lock()
	if p, ok := a.cache[id]; ok {
		a.mu.Unlock()
		return p, true
	}
	a.mu.Unlock()

	p, err := a.profiles.GetProfile(ctx, id)
	if err != nil {
		a.logger.Debug("profile fetch failed", "peer_id", id, "err", err)
		return nil, false
	}

	a.mu.Lock()
	a.cache[id] = p
	a.mu.Unlock()
	return p, true
}

// Dismiss suppresses a suggested contact for this viewer, durably.
func (a *Aggregator) Dismiss(id int) error {
	return a.dismissals.Dismiss(id)
}
