// Package analyzer provides SecurityAnalyzer implementations.
//
// KnowledgeAnalyzer runs the in-process security corpus and is fully
// deterministic. RemoteAnalyzer calls an external analysis service
// (typically AI-backed) authenticated via OAuth2 client credentials.
// Both leave the analysis id unset; the orchestrator assigns it when it
// schedules the run.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/toolvet/toolvet/internal/decision"
	"github.com/toolvet/toolvet/internal/knowledge"
	"github.com/toolvet/toolvet/internal/review/model"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// KnowledgeAnalyzer scores tools with the local security corpus only.
// It backs DB-less deployments and acts as the deterministic baseline
// the remote analyzer is corroborated against.
type KnowledgeAnalyzer struct {
	kb      *knowledge.KnowledgeBase
	version string
}

// NewKnowledgeAnalyzer wraps a knowledge base as a SecurityAnalyzer.
func NewKnowledgeAnalyzer(kb *knowledge.KnowledgeBase) *KnowledgeAnalyzer {
	stats := kb.Stats()
	return &KnowledgeAnalyzer{
		kb:      kb,
		version: fmt.Sprintf("corpus-%dp%ds", stats.VulnerabilityPatterns, stats.MaliciousSignatures),
	}
}

// Analyze implements the SecurityAnalyzer contract.
func (a *KnowledgeAnalyzer) Analyze(_ context.Context, tool *mcptool.Tool) (*model.SecurityAnalysis, error) {
	started := time.Now().UTC()
	findings, err := a.kb.AnalyzeSchema(tool)
	if err != nil {
		return nil, fmt.Errorf("analyze schema: %w", err)
	}

	return &model.SecurityAnalysis{
		RiskScore:       decision.RiskScore(findings),
		Findings:        findings,
		AnalyzerName:    "knowledge-base",
		AnalyzerVersion: a.version,
		StartedAt:       started,
		CompletedAt:     time.Now().UTC(),
	}, nil
}
