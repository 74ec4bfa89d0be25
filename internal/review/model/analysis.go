package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/toolvet/toolvet/internal/knowledge"
)

// SecurityAnalysis is the result of one automated analysis run over a tool
// definition. Risk scores are always clamped to [0,1].
type SecurityAnalysis struct {
	ID        uuid.UUID           `json:"analysis_id"`
	RiskScore float64             `json:"risk_score"`
	Findings  []knowledge.Finding `json:"findings"`

	AnalyzerName    string `json:"analyzer_name"`
	AnalyzerVersion string `json:"analyzer_version,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Duration returns how long the analysis ran.
func (a *SecurityAnalysis) Duration() time.Duration {
	return a.CompletedAt.Sub(a.StartedAt)
}

// HighestSeverity returns the most severe finding grade, or "" when the
// analysis found nothing.
func (a *SecurityAnalysis) HighestSeverity() knowledge.Severity {
	var top knowledge.Severity
	for _, f := range a.Findings {
		if f.Severity.Rank() > top.Rank() {
			top = f.Severity
		}
	}
	return top
}

// HasSeverityAtLeast reports whether any finding is at or above min.
func (a *SecurityAnalysis) HasSeverityAtLeast(min knowledge.Severity) bool {
	for _, f := range a.Findings {
		if f.Severity.Rank() >= min.Rank() {
			return true
		}
	}
	return false
}

// TitlesAtSeverity returns the titles of all findings at exactly the given
// severity, preserving finding order. Used to build rejection reasons.
func (a *SecurityAnalysis) TitlesAtSeverity(sev knowledge.Severity) []string {
	var out []string
	for _, f := range a.Findings {
		if f.Severity == sev {
			out = append(out, f.Title)
		}
	}
	return out
}

// FindingCountsByCategory tallies findings per category.
func (a *SecurityAnalysis) FindingCountsByCategory() map[string]int {
	if len(a.Findings) == 0 {
		return nil
	}
	out := make(map[string]int)
	for _, f := range a.Findings {
		out[f.Category]++
	}
	return out
}
