package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/terralab/landcrawler/internal/land"
)

// DefaultMinContentLength is the default minimum-content-length gate.
const DefaultMinContentLength = 100

// Result is the chain's verdict for one document.
type Result struct {
	Content  *Content
	Source   land.ExtractionSource
	Attempts []land.ExtractionSource
}

// Succeeded reports whether any tier cleared the content-length gate.
func (r Result) Succeeded() bool {
	return r.Source != land.SourceAllFailed
}

// Chain runs the ordered strategies against a fetched document,
// short-circuiting on the first whose extracted text clears the minimum
// length gate. Strategies are strictly sequential: each is tried only
// because the previous one failed.
type Chain struct {
	strategies []Strategy
	minLength  int
	logger     *zap.Logger
}

// NewChain builds a Chain over the given strategies in order.
func NewChain(minLength int, logger *zap.Logger, strategies ...Strategy) *Chain {
	if minLength <= 0 {
		minLength = DefaultMinContentLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{strategies: strategies, minLength: minLength, logger: logger}
}

// Run executes the fallback chain. It records every tier attempted, in
// order, and returns exactly one winning source, or SourceAllFailed with nil
// content when the chain is exhausted.
func (c *Chain) Run(ctx context.Context, htmlBody []byte, pageURL string) Result {
	attempts := make([]land.ExtractionSource, 0, len(c.strategies))
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			break
		}
		attempts = append(attempts, s.Source())

		content, err := safeExtract(ctx, s, htmlBody, pageURL)
		if err != nil {
			c.logger.Debug("extraction tier failed",
				zap.String("source", string(s.Source())),
				zap.String("url", pageURL),
				zap.Error(err),
			)
			continue
		}
		if content.TextLength() < c.minLength {
			c.logger.Debug("extraction tier below minimum length",
				zap.String("source", string(s.Source())),
				zap.String("url", pageURL),
				zap.Int("length", content.TextLength()),
			)
			continue
		}
		return Result{Content: content, Source: s.Source(), Attempts: attempts}
	}
	return Result{Source: land.SourceAllFailed, Attempts: attempts}
}

// safeExtract shields the chain from panicking strategies; a panic is a
// strategy failure like any other.
func safeExtract(
	ctx context.Context,
	s Strategy,
	htmlBody []byte,
	pageURL string,
) (content *Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			content = nil
			err = fmt.Errorf("extraction tier %s panicked: %v", s.Source(), r)
		}
	}()
	content, err = s.Extract(ctx, htmlBody, pageURL)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("extraction tier %s returned no content", s.Source())
	}
	return content, nil
}
