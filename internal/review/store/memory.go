package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/toolvet/toolvet/internal/review/model"
)

// MemoryStore is an in-memory SessionStore used when the service runs
// without Postgres, and by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*model.ReviewSession
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*model.ReviewSession)}
}

func (s *MemoryStore) Save(ctx context.Context, session *model.ReviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*model.ReviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*model.ReviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.ReviewSession
	for _, session := range s.sessions {
		if filter.Phase != "" && session.Phase != filter.Phase {
			continue
		}
		if filter.ToolURI != "" && session.ToolURI != filter.ToolURI {
			continue
		}
		matched = append(matched, session)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SubmittedAt.After(matched[j].SubmittedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*model.ReviewSession, 0, end-offset)
	for _, session := range matched[offset:end] {
		out = append(out, session.Clone())
	}
	return out, nil
}
