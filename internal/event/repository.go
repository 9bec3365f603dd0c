package event

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) MembershipsFor(ctx context.Context, viewerID int) ([]Membership, error) {
	query := `
        SELECT e.id, e.title, e.starts_at, em.approved_at,
               (SELECT COUNT(*) FROM event_members WHERE event_id = e.id) AS participants
        FROM event_members em
        JOIN events e ON e.id = em.event_id
        WHERE em.user_id = $1
        ORDER BY e.starts_at
    `
	rows, err := r.db.QueryContext(ctx, query, viewerID)
	if err != nil {
		return nil, errors.Wrap(err, "query memberships")
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.EventID, &m.Title, &m.StartsAt, &m.ApprovedAt, &m.Participants); err != nil {
			return nil, errors.Wrap(err, "scan membership")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) InsertMessage(ctx context.Context, m Message) error {
	query := `INSERT INTO event_messages (id, event_id, sender_id, body, created_at)
              VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.EventID, m.SenderID, m.Body, m.CreatedAt)
	return errors.Wrap(err, "insert event message")
}

// Window returns the most recent messages in the event, oldest first.
func (r *Repository) Window(ctx context.Context, eventID, limit int) ([]Message, error) {
	query := `
        SELECT id, event_id, sender_id, body, created_at
        FROM (
            SELECT id, event_id, sender_id, body, created_at
            FROM event_messages
            WHERE event_id = $1
            ORDER BY created_at DESC
            LIMIT $2
        ) w
        ORDER BY created_at ASC
    `
	rows, err := r.db.QueryContext(ctx, query, eventID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query event window")
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.EventID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan event message")
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MemberIDs lists the users whose inbox the event's messages fan out to.
func (r *Repository) MemberIDs(ctx context.Context, eventID int) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM event_members WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "query member ids")
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan member id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsMember reports whether the user has an approved membership.
func (r *Repository) IsMember(ctx context.Context, eventID, userID int) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM event_members WHERE event_id = $1 AND user_id = $2)`,
		eventID, userID).Scan(&ok)
	return ok, errors.Wrap(err, "query membership")
}

// MarkRead advances the viewer's watermark for the event. GREATEST keeps a
// concurrent older write from regressing the mark.
func (r *Repository) MarkRead(ctx context.Context, eventID, viewerID int, now time.Time) error {
	query := `
        INSERT INTO event_read_marks (event_id, user_id, read_up_to)
        VALUES ($1, $2, $3)
        ON CONFLICT (event_id, user_id)
        DO UPDATE SET read_up_to = GREATEST(event_read_marks.read_up_to, EXCLUDED.read_up_to)
    `
	_, err := r.db.ExecContext(ctx, query, eventID, viewerID, now)
	return errors.Wrap(err, "advance read watermark")
}

// UnreadCount counts messages in the event newer than the viewer's watermark
// and authored by someone else. A missing watermark means everything since
// the membership was approved is unread.
func (r *Repository) UnreadCount(ctx context.Context, eventID, viewerID int) (int, error) {
	var n int
	query := `
        SELECT COUNT(*)
        FROM event_messages m
        WHERE m.event_id = $1
          AND m.sender_id <> $2
          AND m.created_at > COALESCE(
              (SELECT read_up_to FROM event_read_marks WHERE event_id = $1 AND user_id = $2),
              (SELECT approved_at FROM event_members WHERE event_id = $1 AND user_id = $2)
          )
    `
	err := r.db.QueryRowContext(ctx, query, eventID, viewerID).Scan(&n)
	return n, errors.Wrap(err, "count event unread")
}

// UnreadTotal sums unread across every active membership of the viewer.
func (r *Repository) UnreadTotal(ctx context.Context, viewerID int) (int, error) {
	var n int
	query := `
        SELECT COUNT(*)
        FROM event_members em
        JOIN event_messages m ON m.event_id = em.event_id
        WHERE em.user_id = $1
          AND m.sender_id <> $1
          AND m.created_at > COALESCE(
              (SELECT read_up_to FROM event_read_marks r
               WHERE r.event_id = em.event_id AND r.user_id = $1),
              em.approved_at
          )
    `
	err := r.db.QueryRowContext(ctx, query, viewerID).Scan(&n)
	return n, errors.Wrap(err, "count event unread total")
}

// LastActivity returns the newest message timestamp per event the viewer
// belongs to, for recency ordering in the inbox.
func (r *Repository) LastActivity(ctx context.Context, viewerID int) (map[int]time.Time, error) {
	query := `
        SELECT m.event_id, MAX(m.created_at)
        FROM event_members em
        JOIN event_messages m ON m.event_id = em.event_id
        WHERE em.user_id = $1
        GROUP BY m.event_id
    `
	rows, err := r.db.QueryContext(ctx, query, viewerID)
	if err != nil {
		return nil, errors.Wrap(err, "query last activity")
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var id int
		var ts time.Time
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, errors.Wrap(err, "scan last activity")
		}
		out[id] = ts
	}
	return out, rows.Err()
}
