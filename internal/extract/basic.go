package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/terralab/landcrawler/internal/land"
)

// Basic is the last chain tier: strip script/style/navigation/footer
// elements and return plain visible text with no structure. It is the
// guaranteed-to-return-something floor for any parseable document.
type Basic struct{}

// NewBasic constructs the basic text extractor.
func NewBasic() *Basic {
	return &Basic{}
}

// Source labels this tier.
func (*Basic) Source() land.ExtractionSource {
	return land.SourceBasic
}

// Extract returns the document's visible text.
func (*Basic) Extract(_ context.Context, htmlBody []byte, _ string) (*Content, error) {
	if len(htmlBody) == 0 {
		return nil, fmt.Errorf("no document body")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(htmlBody)))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	dropChrome(doc)

	scope := doc.Find("body")
	if scope.Length() == 0 {
		scope = doc.Selection
	}
	return &Content{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  normalizeWhitespace(scope.Text()),
	}, nil
}
