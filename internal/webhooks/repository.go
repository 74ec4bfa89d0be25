package webhooks

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a webhook subscription is not found.
var ErrNotFound = errors.New("webhook subscription not found")

// Repository provides persistence for subscriptions and delivery records.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	ListByOperator(ctx context.Context, operatorID uuid.UUID) ([]*Subscription, error)
	// ListByEvent returns active subscriptions listening for eventType.
	ListByEvent(ctx context.Context, eventType string) ([]*Subscription, error)
	Delete(ctx context.Context, id uuid.UUID) error
	RecordDelivery(ctx context.Context, d *Delivery) error
}
