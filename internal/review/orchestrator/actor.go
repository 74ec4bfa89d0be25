package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/review/model"
)

// sessionActor owns one review session. All mutation happens on the run
// goroutine via posted commands; readers use the snap pointer. The actor
// exits once the session reaches a terminal phase.
type sessionActor struct {
	engine  *Engine
	id      uuid.UUID
	session *model.ReviewSession
	snap    atomic.Pointer[model.ReviewSession]

	cmds chan func()
	done chan struct{}

	// generation invalidates in-flight analysis work. Bumped on every
	// analysis start and on analysis timeout; results carrying a stale
	// generation are discarded.
	generation uint64

	analysisTimer *time.Timer
	humanTimer    *time.Timer
	awaitingSince time.Time
}

func newSessionActor(e *Engine, session *model.ReviewSession) *sessionActor {
	a := &sessionActor{
		engine:  e,
		id:      session.ID,
		session: session,
		cmds:    make(chan func(), 16),
		done:    make(chan struct{}),
	}
	a.snap.Store(session.Clone())
	return a
}

func (a *sessionActor) run() {
	defer a.engine.wg.Done()
	defer close(a.done)
	for {
		select {
		case cmd := <-a.cmds:
			cmd()
			if a.session.Phase.Terminal() {
				a.stopTimers()
				a.engine.removeActor(a.id)
				return
			}
		case <-a.engine.baseCtx.Done():
			a.stopTimers()
			return
		}
	}
}

// post schedules fn on the actor goroutine. It reports false when the
// actor has already exited or the engine is shutting down.
func (a *sessionActor) post(fn func()) bool {
	select {
	case a.cmds <- fn:
		return true
	case <-a.done:
		return false
	case <-a.engine.baseCtx.Done():
		return false
	}
}

// commit publishes a fresh snapshot and writes it through to the store.
// Store failures are logged, not escalated: the in-memory session stays
// authoritative for the actor's lifetime.
func (a *sessionActor) commit() {
	a.session.UpdatedAt = time.Now().UTC()
	a.snap.Store(a.session.Clone())
	if err := a.engine.store.Save(a.engine.baseCtx, a.session); err != nil {
		a.engine.logger.Warn("session snapshot save failed",
			zap.String("review_id", a.id.String()),
			zap.Error(err),
		)
	}
}

// audit appends an entry to the session's trail and mirrors it to the
// ledger. Ledger failures are logged; the in-session trail is the record.
func (a *sessionActor) audit(action, actor string, detail map[string]string) {
	entry := model.AuditEntry{
		Seq:       len(a.session.AuditTrail) + 1,
		Timestamp: time.Now().UTC(),
		Action:    action,
		Actor:     actor,
		Detail:    detail,
	}
	a.session.AuditTrail = append(a.session.AuditTrail, entry)
	if _, err := a.engine.ledger.Append(a.engine.baseCtx, a.session.ToolURI, action, actor, detail); err != nil {
		a.engine.logger.Warn("audit ledger append failed",
			zap.String("review_id", a.id.String()),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (a *sessionActor) transition(to model.Phase) {
	from := a.session.Phase
	a.session.Phase = to
	a.engine.stats.RecordTransition(from, to)
	a.engine.logger.Debug("review phase transition",
		zap.String("review_id", a.id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

// complete marks the session terminal at the given phase.
func (a *sessionActor) complete(to model.Phase) {
	a.transition(to)
	now := time.Now().UTC()
	a.session.CompletedAt = &now
}

func (a *sessionActor) stopTimers() {
	if a.analysisTimer != nil {
		a.analysisTimer.Stop()
		a.analysisTimer = nil
	}
	a.stopHumanTimer()
}

func (a *sessionActor) stopHumanTimer() {
	if a.humanTimer != nil {
		a.humanTimer.Stop()
		a.humanTimer = nil
	}
}
