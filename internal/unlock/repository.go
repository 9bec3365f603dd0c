package unlock

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Exists reports whether viewer has generated an analysis for target. The
// record is directional: viewer-for-target says nothing about the reverse.
func (r *Repository) Exists(ctx context.Context, viewerID, targetID int) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
                SELECT 1 FROM compatibility_records
                WHERE viewer_id = $1 AND target_id = $2
              )`
	err := r.db.QueryRowContext(ctx, query, viewerID, targetID).Scan(&exists)
	return exists, errors.Wrap(err, "query compatibility record")
}

// Suggestion is a peer with an externally-computed score high enough to
// surface as a suggested contact in the inbox.
type Suggestion struct {
	TargetID int
	Score    float64
}

// SuggestionsFor returns peers the viewer has scored highly, best first.
func (r *Repository) SuggestionsFor(ctx context.Context, viewerID int, minScore float64, limit int) ([]Suggestion, error) {
	query := `SELECT target_id, score FROM compatibility_records
              WHERE viewer_id = $1 AND score >= $2
              ORDER BY score DESC
              LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, viewerID, minScore, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query suggestions")
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		var s Suggestion
		if err := rows.Scan(&s.TargetID, &s.Score); err != nil {
			return nil, errors.Wrap(err, "scan suggestion")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
