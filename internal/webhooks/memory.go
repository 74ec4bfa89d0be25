package webhooks

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used when the service runs
// without Postgres, and by tests.
type MemoryRepository struct {
	mu         sync.RWMutex
	subs       map[uuid.UUID]*Subscription
	deliveries []*Delivery
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{subs: make(map[uuid.UUID]*Subscription)}
}

func (r *MemoryRepository) Create(ctx context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub.ID = uuid.New()
	sub.CreatedAt = time.Now().UTC()
	sub.Active = true

	cp := *sub
	cp.Events = slices.Clone(sub.Events)
	r.subs[sub.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	cp.Events = slices.Clone(sub.Events)
	return &cp, nil
}

func (r *MemoryRepository) ListByOperator(ctx context.Context, operatorID uuid.UUID) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subs {
		if sub.OperatorID != operatorID {
			continue
		}
		cp := *sub
		cp.Events = slices.Clone(sub.Events)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListByEvent(ctx context.Context, eventType string) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subs {
		if !sub.Active || !slices.Contains(sub.Events, eventType) {
			continue
		}
		cp := *sub
		cp.Events = slices.Clone(sub.Events)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return ErrNotFound
	}
	delete(r.subs, id)
	return nil
}

func (r *MemoryRepository) RecordDelivery(ctx context.Context, d *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d.ID = uuid.New()
	d.DeliveredAt = time.Now().UTC()

	cp := *d
	r.deliveries = append(r.deliveries, &cp)
	return nil
}

// Deliveries returns recorded delivery attempts for a subscription, oldest first.
func (r *MemoryRepository) Deliveries(subscriptionID uuid.UUID) []*Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Delivery
	for _, d := range r.deliveries {
		if d.SubscriptionID == subscriptionID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}
