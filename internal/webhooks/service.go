// Package webhooks delivers workflow events to operator-registered HTTP
// endpoints. Payloads are HMAC-SHA256 signed; failed deliveries retry
// with backoff, and every attempt is recorded.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/review/model"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body,
// prefixed with "sha256=".
const SignatureHeader = "X-Toolvet-Signature"

const maxAttempts = 3

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Service manages webhook subscriptions and event delivery.
type Service struct {
	repo        Repository
	httpClient  *http.Client
	retryDelays []time.Duration
	onMetrics   MetricsRecorder
	logger      *zap.Logger
}

// NewService creates a webhook Service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second},
		logger:      logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// SetRetryDelays overrides the waits before the second and later attempts.
func (s *Service) SetRetryDelays(delays ...time.Duration) {
	s.retryDelays = delays
}

// Subscribe creates a subscription with a generated HMAC secret. Every
// requested event type must be a known workflow event.
func (s *Service) Subscribe(ctx context.Context, operatorID uuid.UUID, req *CreateSubscriptionRequest) (*Subscription, error) {
	if len(req.Events) == 0 {
		return nil, fmt.Errorf("at least one event type is required")
	}
	for _, e := range req.Events {
		if !model.ValidEventType(model.EventType(e)) {
			return nil, fmt.Errorf("unknown event type %q", e)
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	sub := &Subscription{
		OperatorID: operatorID,
		URL:        req.URL,
		Events:     req.Events,
		Secret:     secret,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// Unsubscribe deletes a subscription, checking ownership.
func (s *Service) Unsubscribe(ctx context.Context, operatorID, subID uuid.UUID) error {
	sub, err := s.repo.GetByID(ctx, subID)
	if err != nil {
		return err
	}
	if sub.OperatorID != operatorID {
		return fmt.Errorf("not authorized to delete this subscription")
	}
	return s.repo.Delete(ctx, subID)
}

// ListByOperator returns all subscriptions for an operator.
func (s *Service) ListByOperator(ctx context.Context, operatorID uuid.UUID) ([]*Subscription, error) {
	return s.repo.ListByOperator(ctx, operatorID)
}

// Name implements the event handler contract.
func (s *Service) Name() string { return "webhooks" }

// Handle implements the event handler contract by dispatching the event
// to matching subscriptions.
func (s *Service) Handle(ctx context.Context, ev model.Event) error {
	s.Dispatch(ctx, ev)
	return nil
}

// Dispatch fans out an event to all matching subscriptions. The request
// body is the event's JSON serialisation. Deliveries run in their own
// goroutines and outlive ctx: a short-lived caller context must not
// cancel retries already underway.
func (s *Service) Dispatch(ctx context.Context, ev model.Event) {
	subs, err := s.repo.ListByEvent(ctx, string(ev.Type))
	if err != nil {
		s.logger.Error("webhook: list subscribers", zap.Error(err))
		return
	}

	for _, sub := range subs {
		go s.deliver(context.Background(), sub, ev)
	}
}

// deliver sends the event to a single subscription with retries.
func (s *Service) deliver(ctx context.Context, sub *Subscription, ev model.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	signature := signPayload(body, sub.Secret)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(s.delayBefore(attempt))
		}

		success, statusCode, errMsg := s.doDelivery(ctx, sub.URL, body, signature)

		delivery := &Delivery{
			SubscriptionID: sub.ID,
			EventType:      string(ev.Type),
			StatusCode:     statusCode,
			Attempt:        attempt,
			Success:        success,
			ErrorMessage:   errMsg,
		}
		if recordErr := s.repo.RecordDelivery(ctx, delivery); recordErr != nil {
			s.logger.Warn("webhook: record delivery", zap.Error(recordErr))
		}

		if s.onMetrics != nil {
			s.onMetrics(success)
		}

		if success {
			return
		}

		s.logger.Warn("webhook: delivery failed",
			zap.String("url", sub.URL),
			zap.String("event_type", string(ev.Type)),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

func (s *Service) delayBefore(attempt int) time.Duration {
	idx := attempt - 2
	if idx >= len(s.retryDelays) {
		idx = len(s.retryDelays) - 1
	}
	if idx < 0 {
		return 0
	}
	return s.retryDelays[idx]
}

// doDelivery performs a single HTTP POST delivery.
func (s *Service) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// generateSecret creates a random 32-byte hex-encoded secret.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
