package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/terralab/landcrawler/internal/graph"
	"github.com/terralab/landcrawler/internal/land"
)

// Primary runs readability-style article extraction over the fetched HTML,
// producing structured text plus an enriched outbound-link and media list.
type Primary struct{}

// NewPrimary constructs the primary direct extractor.
func NewPrimary() *Primary {
	return &Primary{}
}

// Source labels this tier.
func (*Primary) Source() land.ExtractionSource {
	return land.SourcePrimary
}

// Extract parses htmlBody with go-readability against pageURL.
func (*Primary) Extract(_ context.Context, htmlBody []byte, pageURL string) (*Content, error) {
	if len(htmlBody) == 0 {
		return nil, fmt.Errorf("no document body")
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(htmlBody), base)
	if err != nil {
		return nil, fmt.Errorf("readability extraction: %w", err)
	}

	content := &Content{
		Title: strings.TrimSpace(article.Title),
		Text:  strings.TrimSpace(article.TextContent),
		HTML:  article.Content,
	}
	links, media, err := graph.ParseRefs(article.Content, base)
	if err == nil {
		content.Links = links
		content.Media = media
	}
	return content, nil
}
