package thread

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

func (r *Repository) Insert(ctx context.Context, m Message) error {
	query := `INSERT INTO messages (id, sender_id, recipient_id, body, created_at)
              VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.SenderID, m.RecipientID, m.Body, m.CreatedAt)
	return errors.Wrap(err, "insert message")
}

// Window returns the most recent messages between viewer and peer, oldest
// first, the poll snapshot shape the reconciler expects.
func (r *Repository) Window(ctx context.Context, viewerID, peerID, limit int) ([]Message, error) {
	query := `
        SELECT id, sender_id, recipient_id, body, created_at, read_at
        FROM (
            SELECT id, sender_id, recipient_id, body, created_at, read_at
            FROM messages
            WHERE (sender_id = $1 AND recipient_id = $2)
               OR (sender_id = $2 AND recipient_id = $1)
            ORDER BY created_at DESC
            LIMIT $3
        ) w
        ORDER BY created_at ASC
    `
	rows, err := r.db.QueryContext(ctx, query, viewerID, peerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query message window")
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var readAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.CreatedAt, &readAt); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		if readAt.Valid {
			t := readAt.Time
			m.ReadAt = &t
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead stamps every unread message from peer to viewer and returns the
// rows it touched, so the caller can publish the read receipts. The read_at
// IS NULL guard makes repeated calls no-ops and keeps read timestamps from
// regressing.
func (r *Repository) MarkRead(ctx context.Context, peerID, viewerID int, now time.Time) ([]Message, error) {
	query := `UPDATE messages SET read_at = $3
              WHERE sender_id = $1 AND recipient_id = $2 AND read_at IS NULL
              RETURNING id, sender_id, recipient_id, body, created_at, read_at`
	rows, err := r.db.QueryContext(ctx, query, peerID, viewerID, now)
	if err != nil {
		return nil, errors.Wrap(err, "mark read")
	}
	defer rows.Close()

	var updated []Message
	for rows.Next() {
		var m Message
		var readAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.CreatedAt, &readAt); err != nil {
			return nil, errors.Wrap(err, "scan marked message")
		}
		if readAt.Valid {
			t := readAt.Time
			m.ReadAt = &t
		}
		updated = append(updated, m)
	}
	return updated, rows.Err()
}

func (r *Repository) UnreadTotal(ctx context.Context, viewerID int) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM messages WHERE recipient_id = $1 AND read_at IS NULL`
	err := r.db.QueryRowContext(ctx, query, viewerID).Scan(&n)
	return n, errors.Wrap(err, "count unread")
}

// Summary is one direct conversation as the inbox sees it: the peer, the
// latest message either way, and the viewer's unread count.
type Summary struct {
	PeerID      int
	LastMessage Message
	Unread      int
}

// Summaries returns one entry per peer the viewer has exchanged messages
// with, newest conversation first.
func (r *Repository) Summaries(ctx context.Context, viewerID int) ([]Summary, error) {
	query := `
        SELECT DISTINCT ON (peer_id)
            peer_id, id, sender_id, recipient_id, body, created_at, read_at
        FROM (
            SELECT CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS peer_id,
                   id, sender_id, recipient_id, body, created_at, read_at
            FROM messages
            WHERE sender_id = $1 OR recipient_id = $1
        ) m
        ORDER BY peer_id, created_at DESC
    `
	rows, err := r.db.QueryContext(ctx, query, viewerID)
	if err != nil {
		return nil, errors.Wrap(err, "query summaries")
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var readAt sql.NullTime
		if err := rows.Scan(&s.PeerID, &s.LastMessage.ID, &s.LastMessage.SenderID,
			&s.LastMessage.RecipientID, &s.LastMessage.Body, &s.LastMessage.CreatedAt, &readAt); err != nil {
			return nil, errors.Wrap(err, "scan summary")
		}
		if readAt.Valid {
			t := readAt.Time
			s.LastMessage.ReadAt = &t
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	unread, err := r.unreadByPeer(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Unread = unread[out[i].PeerID]
	}
	return out, nil
}

func (r *Repository) unreadByPeer(ctx context.Context, viewerID int) (map[int]int, error) {
	query := `SELECT sender_id, COUNT(*) FROM messages
              WHERE recipient_id = $1 AND read_at IS NULL
              GROUP BY sender_id`
	rows, err := r.db.QueryContext(ctx, query, viewerID)
	if err != nil {
		return nil, errors.Wrap(err, "query unread by peer")
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var peer, n int
		if err := rows.Scan(&peer, &n); err != nil {
			return nil, errors.Wrap(err, "scan unread count")
		}
		counts[peer] = n
	}
	return counts, rows.Err()
}
