// Package extract implements the ordered content-extraction fallback chain:
// primary readability extraction, archived-snapshot replay, structured
// container heuristics, and a bare visible-text floor.
package extract

import (
	"context"
	"strings"

	"github.com/terralab/landcrawler/internal/graph"
	"github.com/terralab/landcrawler/internal/land"
)

// Content is what a strategy produces for one document.
type Content struct {
	Title string
	Text  string
	HTML  string // readable fragment, empty for the basic tier
	Links []graph.DiscoveredLink
	Media []graph.MediaCandidate
}

// TextLength returns the length of the trimmed extracted text, the value the
// chain gates on.
func (c *Content) TextLength() int {
	if c == nil {
		return 0
	}
	return len(strings.TrimSpace(c.Text))
}

// Strategy is one tier of the fallback chain. Implementations never panic
// past their boundary; any internal failure is an error the chain treats as
// "strategy failed, advance".
type Strategy interface {
	Source() land.ExtractionSource
	Extract(ctx context.Context, htmlBody []byte, pageURL string) (*Content, error)
}

// normalizeWhitespace collapses runs of whitespace into single spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
