package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/toolvet/toolvet/internal/knowledge"
	"github.com/toolvet/toolvet/internal/review/model"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// maxAnalyzerResponse caps how much of an analyzer response is read.
const maxAnalyzerResponse = 4 << 20 // 4 MiB

// RemoteConfig configures the external analysis service client.
// TokenURL empty means the service is called unauthenticated (dev only).
type RemoteConfig struct {
	Endpoint     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// RemoteAnalyzer calls an external analysis service. Tokens are obtained
// via the OAuth2 client-credentials grant and refreshed transparently by
// the underlying transport.
type RemoteAnalyzer struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewRemote creates a RemoteAnalyzer from cfg.
func NewRemote(cfg RemoteConfig, logger *zap.Logger) *RemoteAnalyzer {
	var client *http.Client
	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = cc.Client(context.Background())
	} else {
		client = &http.Client{}
	}
	// Safety net only; the orchestrator's analysis deadline arrives via
	// the request context and is usually much tighter.
	client.Timeout = 60 * time.Second

	return &RemoteAnalyzer{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   client,
		logger:   logger,
	}
}

// Endpoint returns the analyze URL, for health probing.
func (a *RemoteAnalyzer) Endpoint() string { return a.endpoint + "/analyze" }

type remoteAnalysis struct {
	RiskScore       float64             `json:"risk_score"`
	Findings        []knowledge.Finding `json:"findings"`
	AnalyzerName    string              `json:"analyzer_name"`
	AnalyzerVersion string              `json:"analyzer_version"`
}

// Analyze implements the SecurityAnalyzer contract. Scores coming back
// from the service are clamped to [0,1] before anything downstream
// sees them.
func (a *RemoteAnalyzer) Analyze(ctx context.Context, tool *mcptool.Tool) (*model.SecurityAnalysis, error) {
	started := time.Now().UTC()

	body, err := json.Marshal(tool)
	if err != nil {
		return nil, fmt.Errorf("marshal tool: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call analyzer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAnalyzerResponse))
	if err != nil {
		return nil, fmt.Errorf("read analyzer response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analyzer returned status %d: %s", resp.StatusCode, excerpt(raw))
	}

	var ra remoteAnalysis
	if err := json.Unmarshal(raw, &ra); err != nil {
		return nil, fmt.Errorf("decode analyzer response: %w", err)
	}
	if ra.AnalyzerName == "" {
		ra.AnalyzerName = "remote"
	}

	for i := range ra.Findings {
		ra.Findings[i].Confidence = clamp01(ra.Findings[i].Confidence)
	}

	a.logger.Debug("remote analysis completed",
		zap.String("tool", tool.Fingerprint()),
		zap.Float64("risk_score", ra.RiskScore),
		zap.Int("findings", len(ra.Findings)),
	)

	return &model.SecurityAnalysis{
		RiskScore:       clamp01(ra.RiskScore),
		Findings:        ra.Findings,
		AnalyzerName:    ra.AnalyzerName,
		AnalyzerVersion: ra.AnalyzerVersion,
		StartedAt:       started,
		CompletedAt:     time.Now().UTC(),
	}, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func excerpt(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "(empty body)"
	}
	return s
}
