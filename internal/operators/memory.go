package operators

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used when the service runs
// without Postgres, and by tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*Operator
	byEmail map[string]uuid.UUID
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[uuid.UUID]*Operator),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, op *Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(op.Email)
	if _, exists := r.byEmail[key]; exists {
		return ErrDuplicateEmail
	}

	op.ID = uuid.New()
	now := time.Now().UTC()
	op.CreatedAt = now
	op.UpdatedAt = now

	cp := *op
	r.byID[op.ID] = &cp
	r.byEmail[key] = op.ID
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Operator, 0, len(r.byID))
	for _, op := range r.byID {
		cp := *op
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, op *Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[op.ID]
	if !ok {
		return ErrNotFound
	}

	op.UpdatedAt = time.Now().UTC()
	op.CreatedAt = stored.CreatedAt

	cp := *op
	r.byID[op.ID] = &cp
	r.byEmail[strings.ToLower(op.Email)] = op.ID
	return nil
}
