// Package collyfetcher implements land.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/terralab/landcrawler/internal/land"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher performs single-page GETs through a Colly collector. It never
// retries; callers decide what a timeout or a refused connection means.
type Fetcher struct {
	cfg           Config
	robots        *RobotsCache
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	// Robots policy is enforced by our own cache so blocked URLs surface as
	// a distinct error kind instead of a generic visit failure.
	c.IgnoreRobotsTxt = true

	return &Fetcher{
		cfg:           cfg,
		robots:        NewRobotsCache(cfg.UserAgent, cfg.Timeout),
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET. Non-2xx responses are results, not
// errors; every transport failure comes back as a *land.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request land.FetchRequest) (land.FetchResult, error) {
	if f.cfg.RespectRobots {
		allowed, err := f.robots.Allowed(ctx, request.URL)
		if err != nil {
			f.logger.Warn("robots probe failed, allowing fetch",
				zap.String("url", request.URL), zap.Error(err))
		} else if !allowed {
			return land.FetchResult{}, &land.FetchError{
				Kind: land.FetchErrBlocked,
				URL:  request.URL,
				Err:  fmt.Errorf("disallowed by robots.txt"),
			}
		}
	}

	var (
		result   land.FetchResult
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return land.FetchResult{}, classifyFetchError(request.URL, err)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request land.FetchRequest,
	start time.Time,
	result *land.FetchResult,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	// Non-2xx bodies still matter: the quality scorer wants the real status
	// and the extraction chain may salvage error pages.
	collector.ParseHTTPErrorResponse = true

	timeout := request.Timeout
	if timeout == 0 {
		timeout = f.cfg.Timeout
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})
	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = land.FetchResult{
			StatusCode:   r.StatusCode,
			Headers:      headers,
			FinalURL:     r.Request.URL.String(),
			Body:         append([]byte(nil), r.Body...),
			ContentType:  headers.Get("Content-Type"),
			LastModified: headers.Get("Last-Modified"),
			ETag:         headers.Get("ETag"),
			Duration:     time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// classifyFetchError buckets a transport failure into a land.FetchErrorKind.
func classifyFetchError(url string, err error) *land.FetchError {
	kind := land.FetchErrOther

	var dnsErr *net.DNSError
	var certErr *x509.CertificateInvalidError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = land.FetchErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = land.FetchErrTimeout
	case errors.As(err, &dnsErr):
		kind = land.FetchErrDNS
	case errors.As(err, &certErr), errors.As(err, &unknownAuthErr), errors.As(err, &hostnameErr):
		kind = land.FetchErrTLS
	case strings.Contains(err.Error(), "tls:"):
		kind = land.FetchErrTLS
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = land.FetchErrConnRefused
	}

	return &land.FetchError{Kind: kind, URL: url, Err: err}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
