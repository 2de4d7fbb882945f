// Package gate talks to the optional topical yes/no classifier service.
package gate

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/terralab/landcrawler/internal/land"
)

const (
	defaultTimeout     = 10 * time.Second
	maxExcerptLength   = 4000
	maxResponseLength  = 1 << 16
	defaultMaxAttempts = 3
	defaultBaseDelay   = 250 * time.Millisecond
	defaultMaxDelay    = 5 * time.Second
)

// Client implements land.RelevanceGate over HTTP with jittered exponential
// backoff. An unrecovered failure yields VerdictNone plus the error; callers
// treat that as a warning, never a unit failure.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	logger      *zap.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// New builds a gate client against the given endpoint. maxAttempts caps the
// total tries per classification; zero or negative selects the default.
func New(endpoint string, timeout time.Duration, maxAttempts int, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		maxAttempts: maxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
	}
}

type classifyRequest struct {
	Topic   string `json:"topic"`
	Excerpt string `json:"excerpt"`
}

type classifyResponse struct {
	Verdict string `json:"verdict"`
}

// Classify asks the service whether the excerpt is about the topic.
func (c *Client) Classify(ctx context.Context, topic string, excerpt string) (land.Verdict, error) {
	if len(excerpt) > maxExcerptLength {
		excerpt = excerpt[:maxExcerptLength]
	}
	payload, err := json.Marshal(classifyRequest{Topic: topic, Excerpt: excerpt})
	if err != nil {
		return land.VerdictNone, fmt.Errorf("marshal classify request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, c.backoff(attempt-1)); err != nil {
				return land.VerdictNone, err
			}
		}
		verdict, err := c.classifyOnce(ctx, payload)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		if !shouldRetry(err) {
			break
		}
		c.logger.Warn("gate attempt failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return land.VerdictNone, fmt.Errorf("gate classify: %w", lastErr)
}

func (c *Client) classifyOnce(ctx context.Context, payload []byte) (land.Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return land.VerdictNone, fmt.Errorf("build gate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return land.VerdictNone, fmt.Errorf("gate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLength))
	if err != nil {
		return land.VerdictNone, fmt.Errorf("read gate response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return land.VerdictNone, &serverError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return land.VerdictNone, fmt.Errorf("gate returned status %d", resp.StatusCode)
	}

	var parsed classifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return land.VerdictNone, fmt.Errorf("decode gate response: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Verdict)) {
	case "yes":
		return land.VerdictYes, nil
	case "no":
		return land.VerdictNo, nil
	default:
		return land.VerdictNone, fmt.Errorf("gate returned unknown verdict %q", parsed.Verdict)
	}
}

// serverError marks 5xx responses as retryable.
type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("gate returned status %d", e.status)
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var srvErr *serverError
	if errors.As(err, &srvErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	// Connection-level failures wrapped by net/http.
	var urlErr interface{ Unwrap() error }
	if errors.As(err, &urlErr) && strings.Contains(err.Error(), "connection refused") {
		return true
	}
	return false
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	half := time.Duration(delay) / 2
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("gate backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
