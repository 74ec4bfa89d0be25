package stats_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/toolvet/toolvet/internal/decision"
	"github.com/toolvet/toolvet/internal/review/model"
	"github.com/toolvet/toolvet/internal/stats"
)

func TestAggregator_autoApproveLifecycle(t *testing.T) {
	a := stats.New()

	a.RecordSubmitted()
	a.RecordTransition(model.PhasePendingReview, model.PhaseUnderReview)

	s := a.Snapshot()
	if s.TotalReviews != 1 || s.PendingAnalysis != 1 {
		t.Fatalf("after submit: %+v", s)
	}

	a.RecordAnalysis(200*time.Millisecond, map[string]int{"injection": 2})
	a.RecordVerdict(decision.VerdictAutoApprove)
	a.RecordTransition(model.PhaseUnderReview, model.PhaseApproved)

	s = a.Snapshot()
	if s.PendingAnalysis != 0 || s.PendingSigning != 1 {
		t.Errorf("after approval: pending_analysis=%d pending_signing=%d", s.PendingAnalysis, s.PendingSigning)
	}
	if s.ApprovedTools != 1 {
		t.Errorf("approved_tools = %d, want 1", s.ApprovedTools)
	}
	if s.FindingsByCategory["injection"] != 2 {
		t.Errorf("findings_by_category = %v", s.FindingsByCategory)
	}

	a.RecordTransition(model.PhaseApproved, model.PhaseSigned)
	s = a.Snapshot()
	if s.SignedTools != 1 || s.PendingSigning != 0 {
		t.Errorf("after signing: %+v", s)
	}
	if s.AutoApprovalRate != 1.0 {
		t.Errorf("auto_approval_rate = %v, want 1.0", s.AutoApprovalRate)
	}
}

func TestAggregator_humanReviewPath(t *testing.T) {
	a := stats.New()
	a.RecordSubmitted()
	a.RecordTransition(model.PhasePendingReview, model.PhaseUnderReview)
	a.RecordVerdict(decision.VerdictNeedsHuman)
	a.RecordTransition(model.PhaseUnderReview, model.PhaseAwaitingHumanReview)

	s := a.Snapshot()
	if s.PendingAnalysis != 0 || s.AwaitingHumanReview != 1 {
		t.Fatalf("awaiting human: %+v", s)
	}
	if s.AutoApprovalRate != 0 {
		t.Errorf("auto_approval_rate = %v, want 0", s.AutoApprovalRate)
	}

	a.RecordHumanReview(30 * time.Second)
	a.RecordTransition(model.PhaseAwaitingHumanReview, model.PhaseRejected)

	s = a.Snapshot()
	if s.AwaitingHumanReview != 0 || s.RejectedTools != 1 {
		t.Errorf("after rejection: %+v", s)
	}
	if s.AvgHumanReviewTimeMs != 30000 {
		t.Errorf("avg_human_review_time_ms = %v, want 30000", s.AvgHumanReviewTimeMs)
	}
}

func TestAggregator_escalationKeepsDepth(t *testing.T) {
	a := stats.New()
	a.RecordSubmitted()
	a.RecordTransition(model.PhasePendingReview, model.PhaseUnderReview)
	a.RecordTransition(model.PhaseUnderReview, model.PhaseAwaitingHumanReview)

	a.RecordTransition(model.PhaseAwaitingHumanReview, model.PhaseAwaitingHumanReview)

	s := a.Snapshot()
	if s.AwaitingHumanReview != 1 {
		t.Errorf("escalation changed queue depth: %d", s.AwaitingHumanReview)
	}
	if s.Escalations != 1 {
		t.Errorf("escalations = %d, want 1", s.Escalations)
	}
}

func TestAggregator_reanalysisReentersPipeline(t *testing.T) {
	a := stats.New()
	a.RecordSubmitted()
	a.RecordTransition(model.PhasePendingReview, model.PhaseUnderReview)
	a.RecordTransition(model.PhaseUnderReview, model.PhaseAwaitingHumanReview)
	a.RecordTransition(model.PhaseAwaitingHumanReview, model.PhaseUnderReview)

	s := a.Snapshot()
	if s.PendingAnalysis != 1 || s.AwaitingHumanReview != 0 {
		t.Errorf("after reanalysis request: %+v", s)
	}
}

func TestAggregator_averagesAndRate(t *testing.T) {
	a := stats.New()
	a.RecordAnalysis(100*time.Millisecond, nil)
	a.RecordAnalysis(300*time.Millisecond, nil)
	a.RecordVerdict(decision.VerdictAutoApprove)
	a.RecordVerdict(decision.VerdictAutoReject)
	a.RecordVerdict(decision.VerdictNeedsHuman)
	a.RecordVerdict(decision.VerdictAutoApprove)

	s := a.Snapshot()
	if s.AvgAnalysisTimeMs != 200 {
		t.Errorf("avg_analysis_time_ms = %v, want 200", s.AvgAnalysisTimeMs)
	}
	if math.Abs(s.AutoApprovalRate-0.5) > 1e-9 {
		t.Errorf("auto_approval_rate = %v, want 0.5", s.AutoApprovalRate)
	}
}

func TestAggregator_signingFailureDrainsQueue(t *testing.T) {
	a := stats.New()
	a.RecordSubmitted()
	a.RecordTransition(model.PhasePendingReview, model.PhaseUnderReview)
	a.RecordTransition(model.PhaseUnderReview, model.PhaseApproved)
	a.RecordTransition(model.PhaseApproved, model.PhaseSigningFailed)

	s := a.Snapshot()
	if s.PendingSigning != 0 {
		t.Errorf("pending_signing = %d, want 0", s.PendingSigning)
	}
	if s.SigningFailures != 1 {
		t.Errorf("signing_failures = %d, want 1", s.SigningFailures)
	}
}

func TestSnapshot_isolatedCopy(t *testing.T) {
	a := stats.New()
	a.RecordAnalysis(time.Millisecond, map[string]int{"secrets_exposure": 1})

	s := a.Snapshot()
	s.FindingsByCategory["secrets_exposure"] = 99

	if got := a.Snapshot().FindingsByCategory["secrets_exposure"]; got != 1 {
		t.Errorf("snapshot map aliases aggregator state: %d", got)
	}
}

func TestAggregator_concurrentRecording(t *testing.T) {
	a := stats.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.RecordSubmitted()
			a.RecordTransition(model.PhasePendingReview, model.PhaseUnderReview)
			a.RecordAnalysis(10*time.Millisecond, map[string]int{"injection": 1})
			a.RecordTransition(model.PhaseUnderReview, model.PhaseRejected)
		}()
	}
	wg.Wait()

	s := a.Snapshot()
	if s.TotalReviews != 50 || s.RejectedTools != 50 || s.PendingAnalysis != 0 {
		t.Errorf("concurrent totals: %+v", s)
	}
	if s.FindingsByCategory["injection"] != 50 {
		t.Errorf("findings under concurrency: %v", s.FindingsByCategory)
	}
}
