package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Checker probes source URLs with HEAD requests: once per source on
// demand for the fetch pre-flight, and periodically for every registered
// source with the result written back to the registry.
type Checker struct {
	sources  *Registry
	logger   *slog.Logger
	interval time.Duration
	client   *http.Client
}

// NewChecker creates a Checker. sources may be nil when only Probe is used.
func NewChecker(sources *Registry, logger *slog.Logger, interval time.Duration) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		sources:  sources,
		logger:   logger,
		interval: interval,
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Start runs an immediate check then repeats every interval until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) {
	c.CheckAll(ctx)
	if c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered source and records the result.
// It returns the number of reachable and failing sources.
func (c *Checker) CheckAll(ctx context.Context) (ok, failed int) {
	if c.sources == nil {
		return 0, 0
	}
	entries, err := c.sources.ListSources()
	if err != nil {
		c.logger.Error("source check: list sources", "error", err)
		return 0, 0
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return ok, failed
		}

		status, checkErr := c.Probe(ctx, e.URL)
		errMsg := ""
		if checkErr != nil {
			errMsg = checkErr.Error()
		}
		if err := c.sources.UpdateCheck(e.ID, status, errMsg); err != nil {
			c.logger.Error("source check: update", "source", e.ID, "error", err)
		}

		if status >= 200 && status < 400 {
			ok++
			continue
		}
		failed++
		c.logger.Warn("source unreachable",
			"source", e.ID,
			"url", e.URL,
			"status", status,
			"error", errMsg,
		)
	}

	c.logger.Info("source check complete", "total", ok+failed, "ok", ok, "failed", failed)
	return ok, failed
}

// Probe performs a single HEAD request and returns the HTTP status code.
// On network error, status is 0.
func (c *Checker) Probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
