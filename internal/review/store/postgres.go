package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolvet/toolvet/internal/review/model"
)

// PostgresStore persists sessions in the review_sessions table. The full
// session document lives in a JSONB column; phase, tool_uri, and
// submitted_at are kept as plain columns for filtering.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on db.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, session *model.ReviewSession) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	query := `
		INSERT INTO review_sessions (id, tool_uri, phase, priority, session, submitted_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			phase        = EXCLUDED.phase,
			priority     = EXCLUDED.priority,
			session      = EXCLUDED.session,
			updated_at   = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`

	_, err = s.db.Exec(ctx, query,
		session.ID, session.ToolURI, session.Phase, session.Priority,
		doc, session.SubmittedAt, session.UpdatedAt, session.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*model.ReviewSession, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT session FROM review_sessions WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return unmarshalSession(doc)
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*model.ReviewSession, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT session FROM review_sessions
		WHERE ($1 = '' OR phase = $1)
		  AND ($2 = '' OR tool_uri = $2)
		ORDER BY submitted_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := s.db.Query(ctx, query, string(filter.Phase), filter.ToolURI, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*model.ReviewSession
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session, err := unmarshalSession(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func unmarshalSession(doc []byte) (*model.ReviewSession, error) {
	var session model.ReviewSession
	if err := json.Unmarshal(doc, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}
