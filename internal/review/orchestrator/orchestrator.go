// Package orchestrator runs tool review sessions through the workflow:
// submission, security analysis, the decision gate, human review, and
// signing. One goroutine owns each session; readers get lock-free
// snapshots; analysis admission is bounded by a weighted semaphore.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/toolvet/toolvet/internal/audit"
	"github.com/toolvet/toolvet/internal/decision"
	"github.com/toolvet/toolvet/internal/events"
	"github.com/toolvet/toolvet/internal/review/model"
	"github.com/toolvet/toolvet/internal/review/store"
	"github.com/toolvet/toolvet/internal/signing"
	"github.com/toolvet/toolvet/internal/stats"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// ErrShutdown is returned for operations on a closed engine.
var ErrShutdown = errors.New("review engine is shut down")

// SecurityAnalyzer produces findings and a risk score for a tool.
type SecurityAnalyzer interface {
	Analyze(ctx context.Context, tool *mcptool.Tool) (*model.SecurityAnalysis, error)
}

// ReviewNotifier alerts humans that a session needs attention. Both
// methods are best-effort: the workflow waits for a decision regardless
// of whether anyone was reachable.
type ReviewNotifier interface {
	NotifyAwaitingReview(ctx context.Context, session *model.ReviewSession)
	NotifyEscalation(ctx context.Context, session *model.ReviewSession)
}

// Config holds the engine's workflow tuning.
type Config struct {
	// Gate holds the decision gate thresholds.
	Gate decision.Config

	// Signing configures retry behaviour for the signing coordinator.
	Signing signing.Config

	// AnalysisTimeout bounds a single analysis run. On expiry the session
	// is rejected fail-safe and any late result is discarded.
	AnalysisTimeout time.Duration

	// HumanReviewTimeout bounds one wait in AwaitingHumanReview. On first
	// expiry the session escalates; on second it is rejected fail-safe.
	// Zero disables the timer and sessions wait indefinitely.
	HumanReviewTimeout time.Duration

	// MaxConcurrentAnalyses bounds analyses running at once.
	MaxConcurrentAnalyses int64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Gate:                  decision.DefaultConfig(),
		Signing:               signing.DefaultConfig(),
		AnalysisTimeout:       2 * time.Minute,
		HumanReviewTimeout:    24 * time.Hour,
		MaxConcurrentAnalyses: 4,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Gate.Validate(); err != nil {
		return err
	}
	if err := c.Signing.Validate(); err != nil {
		return err
	}
	if c.AnalysisTimeout <= 0 {
		return fmt.Errorf("analysis timeout must be positive")
	}
	if c.HumanReviewTimeout < 0 {
		return fmt.Errorf("human review timeout must be zero or positive")
	}
	if c.MaxConcurrentAnalyses <= 0 {
		return fmt.Errorf("max concurrent analyses must be positive")
	}
	return nil
}

// Deps are the engine's collaborators. Notifier may be nil.
type Deps struct {
	Analyzer SecurityAnalyzer
	Signer   signing.Signer
	Store    store.SessionStore
	Ledger   audit.Ledger
	Notifier ReviewNotifier
	Logger   *zap.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Analyzer == nil:
		return fmt.Errorf("analyzer is required")
	case d.Signer == nil:
		return fmt.Errorf("signer is required")
	case d.Store == nil:
		return fmt.Errorf("session store is required")
	case d.Ledger == nil:
		return fmt.Errorf("audit ledger is required")
	}
	return nil
}

// Engine is the tool review workflow engine.
type Engine struct {
	cfg      Config
	analyzer SecurityAnalyzer
	signing  *signing.Coordinator
	store    store.SessionStore
	ledger   audit.Ledger
	notifier ReviewNotifier
	logger   *zap.Logger

	stats  *stats.Aggregator
	events *events.Dispatcher
	slots  *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	actors map[uuid.UUID]*sessionActor
	closed bool
}

// New creates an Engine. Call Close to stop it.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("engine deps: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg,
		analyzer: deps.Analyzer,
		signing:  signing.NewCoordinator(deps.Signer, cfg.Signing, logger),
		store:    deps.Store,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		logger:   logger,
		stats:    stats.New(),
		events:   events.NewDispatcher(logger),
		slots:    semaphore.NewWeighted(cfg.MaxConcurrentAnalyses),
		baseCtx:  ctx,
		cancel:   cancel,
		actors:   make(map[uuid.UUID]*sessionActor),
	}, nil
}

// Close stops the engine: no new submissions are accepted, in-flight
// goroutines are cancelled and drained, and event handlers finish.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.events.Close()
}

// SubmitTool validates a tool and opens a review session for it. The
// review id is returned immediately; the pipeline advances asynchronously.
func (e *Engine) SubmitTool(ctx context.Context, tool *mcptool.Tool) (uuid.UUID, error) {
	if tool == nil {
		return uuid.Nil, model.Validationf("tool is required")
	}
	if err := tool.Validate(); err != nil {
		return uuid.Nil, model.Validationf("%s", err.Error())
	}

	now := time.Now().UTC()
	session := &model.ReviewSession{
		ID:          uuid.New(),
		Tool:        *tool,
		ToolURI:     tool.URI(),
		Phase:       model.PhasePendingReview,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return uuid.Nil, ErrShutdown
	}
	actor := newSessionActor(e, session)
	e.actors[session.ID] = actor
	e.mu.Unlock()

	e.wg.Add(1)
	go actor.run()

	// All bookkeeping happens inside the actor so the session has a
	// single writer from the first instant.
	actor.post(func() {
		actor.audit(model.AuditSubmitted, model.ActorSystem, map[string]string{
			"tool": tool.Fingerprint(),
		})
		e.stats.RecordSubmitted()
		actor.commit()
		e.emit(model.EventToolSubmitted, actor.session, map[string]string{
			"phase": string(model.PhasePendingReview),
		})
		actor.startAnalysis()
	})

	e.logger.Info("tool submitted for review",
		zap.String("review_id", session.ID.String()),
		zap.String("tool_uri", session.ToolURI),
	)
	return session.ID, nil
}

// GetReviewState returns a point-in-time snapshot of a session. Reads
// never block the session's writer.
func (e *Engine) GetReviewState(ctx context.Context, id uuid.UUID) (*model.ReviewSession, error) {
	if actor, ok := e.actor(id); ok {
		if snap := actor.snap.Load(); snap != nil {
			return snap.Clone(), nil
		}
	}
	// Completed sessions are served from the store after their actor exits.
	return e.store.Get(ctx, id)
}

// ListReviews returns session snapshots matching the filter, newest first.
func (e *Engine) ListReviews(ctx context.Context, filter store.ListFilter) ([]*model.ReviewSession, error) {
	return e.store.List(ctx, filter)
}

// SubmitHumanDecision applies a reviewer decision to a session waiting in
// AwaitingHumanReview.
func (e *Engine) SubmitHumanDecision(ctx context.Context, id uuid.UUID, d *model.HumanDecision) error {
	if d == nil {
		return model.Validationf("decision is required")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	target := targetPhase(d.Decision)

	actor, ok := e.actor(id)
	if !ok {
		return e.decisionOnInactive(ctx, id, target)
	}

	reply := make(chan error, 1)
	posted := actor.post(func() {
		reply <- actor.applyDecision(d, target)
	})
	if !posted {
		// The actor finished between lookup and post; the session is
		// terminal (or the engine is shutting down).
		return e.decisionOnInactive(ctx, id, target)
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decisionOnInactive reports the right error for a decision aimed at a
// session with no live actor.
func (e *Engine) decisionOnInactive(ctx context.Context, id uuid.UUID, target model.Phase) error {
	session, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return &model.ErrInvalidTransition{From: session.Phase, To: target}
}

// AddEventHandler registers a workflow event handler. Handlers are
// invoked best-effort: slow or failing handlers never block the workflow.
func (e *Engine) AddEventHandler(h events.Handler) {
	e.events.Register(h)
}

// Stats returns an aggregate statistics snapshot.
func (e *Engine) Stats() stats.Snapshot {
	return e.stats.Snapshot()
}

func (e *Engine) actor(id uuid.UUID) (*sessionActor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.actors[id]
	return a, ok
}

func (e *Engine) removeActor(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.actors, id)
}

func (e *Engine) emit(typ model.EventType, session *model.ReviewSession, payload map[string]string) {
	e.events.Publish(model.Event{
		ID:        uuid.New(),
		Type:      typ,
		ReviewID:  session.ID,
		ToolURI:   session.ToolURI,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// targetPhase maps a decision to the phase it drives toward, for
// InvalidStateTransition reporting.
func targetPhase(d model.DecisionType) model.Phase {
	switch d {
	case model.DecisionApprove:
		return model.PhaseApproved
	case model.DecisionReject:
		return model.PhaseRejected
	case model.DecisionRequestReanalysis:
		return model.PhaseUnderReview
	default:
		return model.PhaseAwaitingHumanReview
	}
}
