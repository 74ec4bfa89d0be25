package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/decision"
	"github.com/toolvet/toolvet/internal/review/model"
	"github.com/toolvet/toolvet/internal/signing"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// startAnalysis launches an analysis run for the session's tool. Runs on
// the actor goroutine. Each start bumps the generation so that results
// from superseded runs are discarded on arrival.
func (a *sessionActor) startAnalysis() {
	a.generation++
	gen := a.generation
	analysisID := uuid.New()
	tool := a.session.Tool

	a.engine.wg.Add(1)
	go a.runAnalysis(gen, analysisID, tool)
}

// runAnalysis executes one analysis outside the actor goroutine: it
// waits for an admission slot, calls the analyzer under the timeout, and
// posts the result back.
func (a *sessionActor) runAnalysis(gen uint64, analysisID uuid.UUID, tool mcptool.Tool) {
	defer a.engine.wg.Done()

	if err := a.engine.slots.Acquire(a.engine.baseCtx, 1); err != nil {
		return // shutting down
	}
	defer a.engine.slots.Release(1)

	a.post(func() { a.markAnalysisStarted(gen, analysisID) })

	ctx, cancel := context.WithTimeout(a.engine.baseCtx, a.engine.cfg.AnalysisTimeout)
	defer cancel()
	started := time.Now().UTC()
	analysis, err := a.engine.analyzer.Analyze(ctx, &tool)
	if err == nil {
		if analysis.StartedAt.IsZero() {
			analysis.StartedAt = started
		}
		if analysis.CompletedAt.IsZero() {
			analysis.CompletedAt = time.Now().UTC()
		}
	}

	a.post(func() { a.completeAnalysis(gen, analysisID, analysis, err) })
}

func (a *sessionActor) markAnalysisStarted(gen uint64, analysisID uuid.UUID) {
	if gen != a.generation {
		return
	}
	// Re-analysis is requested from UnderReview, so the transition only
	// fires on the first pass.
	if a.session.Phase == model.PhasePendingReview {
		a.transition(model.PhaseUnderReview)
	}
	a.audit(model.AuditAnalysisStarted, model.ActorSystem, map[string]string{
		"analysis_id": analysisID.String(),
	})
	timeout := a.engine.cfg.AnalysisTimeout
	a.analysisTimer = time.AfterFunc(timeout, func() {
		a.post(func() { a.analysisTimedOut(gen) })
	})
	a.commit()
}

// analysisTimedOut rejects the session fail-safe when the analyzer blew
// its budget. The generation bump strands any late result.
func (a *sessionActor) analysisTimedOut(gen uint64) {
	if gen != a.generation || a.session.Phase != model.PhaseUnderReview {
		return
	}
	a.generation++
	a.failAnalysis(model.FailureAnalysisTimeout, model.AuditAnalysisTimeout,
		fmt.Sprintf("analysis exceeded the %s budget", a.engine.cfg.AnalysisTimeout))
}

func (a *sessionActor) completeAnalysis(gen uint64, analysisID uuid.UUID, analysis *model.SecurityAnalysis, err error) {
	if gen != a.generation {
		a.engine.logger.Debug("stale analysis result discarded",
			zap.String("review_id", a.id.String()),
			zap.String("analysis_id", analysisID.String()),
		)
		return
	}
	if a.analysisTimer != nil {
		a.analysisTimer.Stop()
		a.analysisTimer = nil
	}

	if err != nil {
		kind, action := model.FailureAnalysisFailed, model.AuditAnalysisFailed
		if errors.Is(err, context.DeadlineExceeded) {
			kind, action = model.FailureAnalysisTimeout, model.AuditAnalysisTimeout
		}
		a.failAnalysis(kind, action, err.Error())
		return
	}

	analysis.ID = analysisID
	a.session.Analysis = analysis
	a.audit(model.AuditAnalysisCompleted, model.ActorSystem, map[string]string{
		"analysis_id": analysisID.String(),
		"risk_score":  strconv.FormatFloat(analysis.RiskScore, 'f', 4, 64),
		"findings":    strconv.Itoa(len(analysis.Findings)),
	})
	a.engine.stats.RecordAnalysis(analysis.Duration(), analysis.FindingCountsByCategory())

	outcome := decision.Decide(analysis, a.engine.cfg.Gate)
	a.engine.stats.RecordVerdict(outcome.Verdict)
	payload := map[string]string{
		"verdict":    string(outcome.Verdict),
		"risk_score": strconv.FormatFloat(outcome.RiskScore, 'f', 4, 64),
		"findings":   strconv.Itoa(len(analysis.Findings)),
	}

	switch outcome.Verdict {
	case decision.VerdictAutoApprove:
		a.audit(model.AuditAutoApproved, model.ActorSystem, map[string]string{
			"risk_score": payload["risk_score"],
		})
		a.transition(model.PhaseApproved)
		a.commit()
		payload["phase"] = string(model.PhaseApproved)
		a.engine.emit(model.EventAnalysisCompleted, a.session, payload)
		a.scheduleSigning()

	case decision.VerdictAutoReject:
		a.session.RejectionReason = outcome.Reason
		a.audit(model.AuditAutoRejected, model.ActorSystem, map[string]string{
			"risk_score": payload["risk_score"],
			"reason":     outcome.Reason,
		})
		a.complete(model.PhaseRejected)
		a.commit()
		payload["phase"] = string(model.PhaseRejected)
		a.engine.emit(model.EventAnalysisCompleted, a.session, payload)

	default: // needs_human
		a.session.AIRecommendation = string(outcome.Recommendation)
		a.audit(model.AuditHumanReviewRequested, model.ActorSystem, map[string]string{
			"risk_score":     payload["risk_score"],
			"recommendation": string(outcome.Recommendation),
		})
		a.transition(model.PhaseAwaitingHumanReview)
		a.enterAwaiting()
		a.commit()
		payload["phase"] = string(model.PhaseAwaitingHumanReview)
		a.engine.emit(model.EventAnalysisCompleted, a.session, payload)
	}
}

// failAnalysis records an analysis failure and rejects the session.
// Inability to analyze a tool is treated as grounds for rejection, never
// approval.
func (a *sessionActor) failAnalysis(kind model.FailureKind, action, msg string) {
	a.session.Failure = &model.WorkflowFailure{
		Kind:       kind,
		Message:    msg,
		OccurredAt: time.Now().UTC(),
	}
	a.session.RejectionReason = "security analysis did not complete: " + msg
	a.audit(action, model.ActorSystem, map[string]string{"error": msg})
	a.engine.stats.RecordAnalysisFailure()
	a.complete(model.PhaseRejected)
	a.commit()
}

// enterAwaiting starts the human review clock and fans out notifications.
func (a *sessionActor) enterAwaiting() {
	a.awaitingSince = time.Now().UTC()
	a.notify(func(n ReviewNotifier, ctx context.Context, s *model.ReviewSession) {
		n.NotifyAwaitingReview(ctx, s)
	})
	a.startHumanTimer()
}

func (a *sessionActor) startHumanTimer() {
	timeout := a.engine.cfg.HumanReviewTimeout
	if timeout <= 0 {
		return
	}
	a.stopHumanTimer()
	// The count pins the expiry to this window: an escalation restarts
	// the clock and strands any already-fired timer command.
	count := a.session.EscalationCount
	a.humanTimer = time.AfterFunc(timeout, func() {
		a.post(func() { a.humanReviewTimedOut(count) })
	})
}

// humanReviewTimedOut fires when no reviewer acted within the window.
// The first expiry escalates; a session that has already been escalated
// is rejected fail-safe.
func (a *sessionActor) humanReviewTimedOut(window int) {
	if a.session.Phase != model.PhaseAwaitingHumanReview || a.session.EscalationCount != window {
		return
	}
	if a.session.EscalationCount == 0 {
		a.escalate(model.ActorSystem)
		a.commit()
		return
	}
	a.session.Failure = &model.WorkflowFailure{
		Kind:       model.FailureHumanReviewTimeout,
		Message:    "no reviewer decision after escalation",
		OccurredAt: time.Now().UTC(),
	}
	a.session.RejectionReason = "human review window elapsed without a decision"
	a.audit(model.AuditHumanReviewTimeout, model.ActorSystem, map[string]string{
		"escalations": strconv.Itoa(a.session.EscalationCount),
	})
	a.complete(model.PhaseRejected)
	a.commit()
}

// escalate bumps the session's priority and urgency. by is the reviewer
// who requested it, or ActorSystem on timer expiry.
func (a *sessionActor) escalate(by string) {
	a.session.EscalationCount++
	a.session.Priority++
	a.audit(model.AuditEscalated, by, map[string]string{
		"level":    strconv.Itoa(a.session.EscalationCount),
		"priority": strconv.Itoa(a.session.Priority),
	})
	// Self-loop: the aggregator counts these as escalations.
	a.transition(model.PhaseAwaitingHumanReview)
	a.notify(func(n ReviewNotifier, ctx context.Context, s *model.ReviewSession) {
		n.NotifyEscalation(ctx, s)
	})
	a.startHumanTimer()
}

// notify fans a notification out on its own goroutine so slow SMTP never
// stalls the actor.
func (a *sessionActor) notify(fn func(ReviewNotifier, context.Context, *model.ReviewSession)) {
	n := a.engine.notifier
	if n == nil {
		return
	}
	snapshot := a.session.Clone()
	a.engine.wg.Add(1)
	go func() {
		defer a.engine.wg.Done()
		fn(n, a.engine.baseCtx, snapshot)
	}()
}

// applyDecision processes a reviewer's verdict. Runs on the actor
// goroutine; the returned error flows back to the submitting caller.
func (a *sessionActor) applyDecision(d *model.HumanDecision, target model.Phase) error {
	if a.session.Phase != model.PhaseAwaitingHumanReview {
		return &model.ErrInvalidTransition{From: a.session.Phase, To: target}
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	a.stopHumanTimer()

	payload := map[string]string{
		"decision": string(d.Decision),
		"reviewer": d.Reviewer,
	}

	switch d.Decision {
	case model.DecisionApprove:
		a.session.Decision = d
		a.audit(model.AuditHumanDecision, d.Reviewer, map[string]string{
			"decision":  string(d.Decision),
			"reasoning": d.Reasoning,
		})
		a.engine.stats.RecordHumanReview(time.Since(a.awaitingSince))
		a.transition(model.PhaseApproved)
		a.commit()
		a.engine.emit(model.EventHumanDecisionMade, a.session, payload)
		a.scheduleSigning()

	case model.DecisionReject:
		a.session.Decision = d
		a.session.RejectionReason = d.Reasoning
		a.audit(model.AuditHumanDecision, d.Reviewer, map[string]string{
			"decision":  string(d.Decision),
			"reasoning": d.Reasoning,
		})
		a.engine.stats.RecordHumanReview(time.Since(a.awaitingSince))
		a.complete(model.PhaseRejected)
		a.commit()
		a.engine.emit(model.EventHumanDecisionMade, a.session, payload)

	case model.DecisionRequestReanalysis:
		// The session keeps no Decision: re-analysis sends it back through
		// the pipeline for a fresh verdict.
		a.session.AIRecommendation = ""
		a.audit(model.AuditReanalysisRequested, d.Reviewer, map[string]string{
			"reasoning": d.Reasoning,
		})
		a.transition(model.PhaseUnderReview)
		a.commit()
		a.engine.emit(model.EventHumanDecisionMade, a.session, payload)
		a.startAnalysis()

	case model.DecisionEscalate:
		a.escalate(d.Reviewer)
		a.commit()
		a.engine.emit(model.EventHumanDecisionMade, a.session, payload)

	default:
		return model.Validationf("unknown decision %q", d.Decision)
	}
	return nil
}

// scheduleSigning launches the signing run for an approved session.
func (a *sessionActor) scheduleSigning() {
	tool := a.session.Tool
	a.engine.wg.Add(1)
	go a.runSigning(tool)
}

// runSigning drives the signing coordinator off the actor goroutine.
// The observer posts per-attempt audit entries; because the observer and
// the final post run on the same goroutine, attempts land in the trail
// before the outcome.
func (a *sessionActor) runSigning(tool mcptool.Tool) {
	defer a.engine.wg.Done()

	observe := func(attempt int, err error) {
		detail := map[string]string{"attempt": strconv.Itoa(attempt)}
		if err != nil {
			detail["error"] = err.Error()
		}
		a.post(func() {
			a.audit(model.AuditSigningAttempt, model.ActorSystem, detail)
			a.commit()
		})
	}

	sig, err := a.engine.signing.Run(a.engine.baseCtx, &tool, observe)
	a.post(func() { a.completeSigning(sig, err) })
}

func (a *sessionActor) completeSigning(sig *model.SignatureInfo, err error) {
	if a.session.Phase != model.PhaseApproved {
		a.engine.logger.Warn("signing result for session no longer approved",
			zap.String("review_id", a.id.String()),
			zap.String("phase", string(a.session.Phase)),
		)
		return
	}

	if err != nil {
		attempts := 0
		var failure *signing.Failure
		if errors.As(err, &failure) {
			attempts = failure.Attempts
		}
		a.session.Failure = &model.WorkflowFailure{
			Kind:       model.FailureSigningFailed,
			Message:    err.Error(),
			RetryCount: attempts,
			OccurredAt: time.Now().UTC(),
		}
		a.audit(model.AuditSigningFailed, model.ActorSystem, map[string]string{
			"attempts": strconv.Itoa(attempts),
			"error":    err.Error(),
		})
		a.complete(model.PhaseSigningFailed)
		a.commit()
		return
	}

	a.session.Signature = sig
	a.audit(model.AuditSigned, model.ActorSystem, map[string]string{
		"key_id":    sig.KeyID,
		"algorithm": sig.Algorithm,
		"attempts":  strconv.Itoa(sig.Attempts),
	})
	a.complete(model.PhaseSigned)
	a.commit()
	a.engine.emit(model.EventToolSigned, a.session, map[string]string{
		"key_id":    sig.KeyID,
		"algorithm": sig.Algorithm,
	})
}
