// Package signing drives the schema-pin signer collaborator.
//
// The Coordinator retries transient signer failures with exponential
// backoff, bounded by a total attempt budget and a per-attempt timeout.
// Validation failures (the signer rejecting the schema itself) are never
// retried: re-submitting the same bytes cannot change the outcome.
package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/review/model"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// Signer is the external schema-pin collaborator contract.
type Signer interface {
	Name() string
	Sign(ctx context.Context, tool *mcptool.Tool) (*model.SignatureInfo, error)
}

// ValidationError marks a signer failure that retrying cannot fix, such
// as a malformed schema or a rejected key reference.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, a ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, a...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Failure is returned when a signing run ends without a signature.
// Attempts counts the attempts actually made, so it is 1 for an
// immediate validation failure and equals MaxRetries on exhaustion.
type Failure struct {
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("signing failed after %d attempt(s): %v", f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Config bounds the retry loop.
type Config struct {
	MaxRetries     int           // total attempts, not extra retries
	AttemptTimeout time.Duration // budget for a single signer call
	BackoffBase    time.Duration // delay before the first retry
	BackoffCap     time.Duration // upper bound on any single delay
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		AttemptTimeout: 30 * time.Second,
		BackoffBase:    2 * time.Second,
		BackoffCap:     30 * time.Second,
	}
}

// Validate checks the config for usable values.
func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive, got %v", c.AttemptTimeout)
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("backoff must satisfy 0 < base <= cap, got base=%v cap=%v", c.BackoffBase, c.BackoffCap)
	}
	return nil
}

// AttemptObserver receives the outcome of every signing attempt, in
// order. err is nil on success. Observers append to the audit trail.
type AttemptObserver func(attempt int, err error)

// Coordinator runs the bounded retry loop against a Signer.
type Coordinator struct {
	signer Signer
	cfg    Config
	logger *zap.Logger
}

// NewCoordinator creates a Coordinator. cfg is assumed validated.
func NewCoordinator(signer Signer, cfg Config, logger *zap.Logger) *Coordinator {
	return &Coordinator{signer: signer, cfg: cfg, logger: logger}
}

// Run signs the tool's canonical schema, retrying transient failures.
// On success the returned SignatureInfo carries the attempt count. On
// failure the returned error is always a *Failure wrapping the last
// signer error.
func (c *Coordinator) Run(ctx context.Context, tool *mcptool.Tool, observe AttemptObserver) (*model.SignatureInfo, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
				return nil, &Failure{Attempts: attempt - 1, Err: err}
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		sig, err := c.signer.Sign(attemptCtx, tool)
		cancel()

		if observe != nil {
			observe(attempt, err)
		}

		if err == nil {
			sig.Attempts = attempt
			if sig.SignedAt.IsZero() {
				sig.SignedAt = time.Now().UTC()
			}
			c.logger.Info("schema signed",
				zap.String("tool", tool.Fingerprint()),
				zap.String("signer", c.signer.Name()),
				zap.Int("attempt", attempt),
			)
			return sig, nil
		}

		lastErr = err
		if IsValidation(err) {
			c.logger.Warn("signer rejected schema",
				zap.String("tool", tool.Fingerprint()),
				zap.Error(err),
			)
			return nil, &Failure{Attempts: attempt, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &Failure{Attempts: attempt, Err: ctx.Err()}
		}
		c.logger.Warn("signing attempt failed",
			zap.String("tool", tool.Fingerprint()),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Error(err),
		)
	}
	return nil, &Failure{Attempts: c.cfg.MaxRetries, Err: lastErr}
}

// backoff returns the delay before the given attempt (attempt >= 2):
// base before attempt 2, doubling for each later attempt, capped.
func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << (attempt - 2)
	if d <= 0 || d > c.cfg.BackoffCap {
		return c.cfg.BackoffCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
