// Package store persists review session snapshots. The workflow engine
// owns live sessions in memory and writes through after every mutation;
// the store answers reads for completed sessions and list queries.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/toolvet/toolvet/internal/review/model"
)

// defaultListLimit bounds unpaginated list queries.
const defaultListLimit = 50

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Phase   model.Phase
	ToolURI string
	Limit   int
	Offset  int
}

// SessionStore persists full session snapshots keyed by review id.
type SessionStore interface {
	// Save upserts a snapshot. The engine treats failures as non-fatal.
	Save(ctx context.Context, session *model.ReviewSession) error
	Get(ctx context.Context, id uuid.UUID) (*model.ReviewSession, error)
	// List returns snapshots newest-submission-first.
	List(ctx context.Context, filter ListFilter) ([]*model.ReviewSession, error)
}
