package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a workflow event fanned out to registered handlers
// and webhook subscribers.
type EventType string

const (
	EventToolSubmitted     EventType = "tool.submitted"
	EventAnalysisCompleted EventType = "analysis.completed"
	EventHumanDecisionMade EventType = "human_decision.made"
	EventToolSigned        EventType = "tool.signed"
)

// EventTypes lists every event type, for subscription validation.
func EventTypes() []EventType {
	return []EventType{
		EventToolSubmitted,
		EventAnalysisCompleted,
		EventHumanDecisionMade,
		EventToolSigned,
	}
}

// ValidEventType reports whether t names a known event type.
func ValidEventType(t EventType) bool {
	for _, known := range EventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Event is a workflow notification. Payload values are strings so events
// serialise identically to webhooks, logs, and the archive.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      EventType         `json:"type"`
	ReviewID  uuid.UUID         `json:"review_id"`
	ToolURI   string            `json:"tool_uri"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}
