package model

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// DecisionType is a human reviewer's verdict on a session awaiting review.
type DecisionType string

const (
	DecisionApprove           DecisionType = "approve"
	DecisionReject            DecisionType = "reject"
	DecisionRequestReanalysis DecisionType = "request_reanalysis"
	DecisionEscalate          DecisionType = "escalate"
)

// MinReasoningLen is the minimum length of a decision's reasoning text.
// Decisions are audit records; "ok" is not a reviewable justification.
const MinReasoningLen = 10

// HumanDecision is a reviewer's recorded verdict.
type HumanDecision struct {
	Decision  DecisionType `json:"decision"`
	Reviewer  string       `json:"reviewer"`
	Reasoning string       `json:"reasoning"`
	DecidedAt time.Time    `json:"decided_at"`
}

// Validate checks the decision is complete enough to act on.
func (d *HumanDecision) Validate() error {
	switch d.Decision {
	case DecisionApprove, DecisionReject, DecisionRequestReanalysis, DecisionEscalate:
	default:
		return &ErrValidation{Msg: fmt.Sprintf("unknown decision %q", d.Decision)}
	}
	if d.Reviewer == "" {
		return &ErrValidation{Msg: "decision reviewer is required"}
	}
	if utf8.RuneCountInString(d.Reasoning) < MinReasoningLen {
		return &ErrValidation{Msg: fmt.Sprintf(
			"decision reasoning must be at least %d characters", MinReasoningLen)}
	}
	return nil
}

