// Package health probes the review workflow's external collaborators
// (remote analyzer, signing service) and keeps a per-target status the
// liveness endpoint can report.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Target is a named collaborator endpoint to probe.
type Target struct {
	Name string
	URL  string
}

// Status is the probe state of one target. A target counts as healthy
// until it fails FailThreshold probes in a row.
type Status struct {
	Name             string    `json:"name"`
	URL              string    `json:"url"`
	Healthy          bool      `json:"healthy"`
	ConsecutiveFails int       `json:"consecutive_fails,omitempty"`
	LastChecked      time.Time `json:"last_checked"`
	LastError        string    `json:"last_error,omitempty"`
}

// RecordFunc is an optional callback for recording probe results.
type RecordFunc func(success bool)

// Checker runs periodic collaborator health probes.
type Checker struct {
	targets    []Target
	httpClient *http.Client
	mu         sync.Mutex
	state      map[string]*Status
	fails      map[string]int
	cfg        Config
	onRecord   RecordFunc
	logger     *zap.Logger
}

// New creates a Checker for the given targets.
func New(targets []Target, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	state := make(map[string]*Status, len(targets))
	for _, t := range targets {
		state[t.Name] = &Status{Name: t.Name, URL: t.URL, Healthy: true}
	}

	return &Checker{
		targets:    targets,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		state:      state,
		fails:      make(map[string]int, len(targets)),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetRecorder configures the probe-result recording callback.
func (c *Checker) SetRecorder(fn RecordFunc) {
	c.onRecord = fn
}

// Start runs the probe loop until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, c.cfg.CheckInterval-time.Second)
			c.CheckAll(probeCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every target with bounded concurrency.
func (c *Checker) CheckAll(ctx context.Context) {
	sem := make(chan struct{}, 4)
	var wg sync.WaitGroup

	for _, t := range c.targets {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := c.probe(ctx, target.URL)
			success := err == nil

			if c.onRecord != nil {
				c.onRecord(success)
			}

			c.mu.Lock()
			prev := c.fails[target.Name]
			if success {
				c.fails[target.Name] = 0
			} else {
				c.fails[target.Name]++
			}
			count := c.fails[target.Name]

			status := c.state[target.Name]
			status.Healthy = count < c.cfg.FailThreshold
			status.ConsecutiveFails = count
			status.LastChecked = time.Now().UTC()
			if err != nil {
				status.LastError = err.Error()
			} else {
				status.LastError = ""
			}
			c.mu.Unlock()

			if success && prev >= c.cfg.FailThreshold {
				c.logger.Info("health: collaborator recovered", zap.String("target", target.Name))
			} else if count == c.cfg.FailThreshold {
				// Transition: healthy → degraded (exactly at threshold)
				c.logger.Warn("health: collaborator degraded",
					zap.String("target", target.Name),
					zap.String("url", target.URL),
					zap.Int("fail_count", count),
					zap.Error(err),
				)
			}
		}(t)
	}

	wg.Wait()
}

// Snapshot returns the current status of every target, sorted by name.
func (c *Checker) Snapshot() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Status, 0, len(c.state))
	for _, s := range c.state {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every target is currently healthy.
func (c *Checker) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.state {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// probe attempts HEAD then GET, succeeding on any 2xx response.
func (c *Checker) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
	}

	// Fallback to GET for endpoints that reject HEAD.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err = c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
