// Package rating talks to the remote scoring services: a quality service
// that rates a single acquisition and a trade-off service that collapses a
// multi-objective score vector into one reward.
package rating

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/adaptive-imaging/optim-core/pkg/logger"
	"github.com/adaptive-imaging/optim-core/pkg/utils"
)

// ErrUnavailable indicates the remote service could not produce a rating:
// connection failure, timeout, or a non-OK response after all retries.
var ErrUnavailable = errors.New("rating service unavailable")

// Config holds the connection settings for one rating service.
type Config struct {
	Address    string
	Port       int
	Timeout    time.Duration
	Retries    int
	RatePerSec float64
}

// Client is an HTTP client for one rating service. Requests are paced by a
// rate limiter and retried with constant backoff; any terminal failure maps
// to ErrUnavailable so callers can demote the round instead of aborting.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retries int
	backoff utils.BackoffStrategy
}

// NewClient creates a client for the service at cfg.Address:cfg.Port.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 4
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Address, cfg.Port),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		retries: retries,
		backoff: utils.NewConstantBackoff(200 * time.Millisecond),
	}
}

type rateRequest struct {
	Scores []float64 `json:"scores"`
}

type rateResponse struct {
	Score float64 `json:"score"`
}

// Rate submits a score vector and returns the service's scalar rating.
func (c *Client) Rate(ctx context.Context, scores []float64) (float64, error) {
	body, err := json.Marshal(rateRequest{Scores: scores})
	if err != nil {
		return 0, fmt.Errorf("encode rating request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(c.backoff.NextDelay(attempt - 1)):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		score, err := c.rateOnce(ctx, body)
		if err == nil {
			return score, nil
		}
		lastErr = err
		logger.Warn("rating request failed",
			"url", c.baseURL,
			"attempt", attempt+1,
			"error", err)
	}
	return 0, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) rateOnce(ctx context.Context, body []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rate", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode rating response: %w", err)
	}
	return out.Score, nil
}
