package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/terralab/landcrawler/internal/graph"
	"github.com/terralab/landcrawler/internal/land"
)

// containerSelectors are tried in order before falling back to text-density
// scoring. The list covers the common content-container conventions.
var containerSelectors = []string{
	"article",
	"main",
	"[role=main]",
	"#content",
	"#main-content",
	".content",
	".post-content",
	".entry-content",
	".article-body",
	".story-body",
}

// Structured is the third chain tier: it looks for a recognizable content
// container, and failing that scores paragraph blocks by aggregate text
// density and picks the best region.
type Structured struct {
	minTextLength int
}

// NewStructured constructs the structured heuristic extractor. minTextLength
// is the floor below which a matched container is not considered content.
func NewStructured(minTextLength int) *Structured {
	if minTextLength <= 0 {
		minTextLength = DefaultMinContentLength
	}
	return &Structured{minTextLength: minTextLength}
}

// Source labels this tier.
func (*Structured) Source() land.ExtractionSource {
	return land.SourceStructured
}

// Extract evaluates the container selectors in order, then the density
// fallback.
func (s *Structured) Extract(_ context.Context, htmlBody []byte, pageURL string) (*Content, error) {
	if len(htmlBody) == 0 {
		return nil, fmt.Errorf("no document body")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(htmlBody)))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	dropChrome(doc)

	sel := s.findContainer(doc)
	if sel == nil {
		sel = densestRegion(doc)
	}
	if sel == nil {
		return nil, fmt.Errorf("no content region found")
	}

	text := normalizeWhitespace(sel.Text())
	if len(text) < s.minTextLength {
		return nil, fmt.Errorf("best region has only %d characters", len(text))
	}

	fragment, err := goquery.OuterHtml(sel)
	if err != nil {
		fragment = ""
	}
	content := &Content{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  text,
		HTML:  fragment,
	}
	if base, err := url.Parse(pageURL); err == nil && fragment != "" {
		if links, media, err := graph.ParseRefs(fragment, base); err == nil {
			content.Links = links
			content.Media = media
		}
	}
	return content, nil
}

func (s *Structured) findContainer(doc *goquery.Document) *goquery.Selection {
	for _, selector := range containerSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if len(normalizeWhitespace(sel.Text())) >= s.minTextLength {
			return sel
		}
	}
	return nil
}

// densestRegion groups paragraph blocks by parent and returns the parent
// with the largest aggregate paragraph text.
func densestRegion(doc *goquery.Document) *goquery.Selection {
	type region struct {
		sel   *goquery.Selection
		score int
	}
	index := map[string]*region{}

	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		parent := p.Parent()
		if parent.Length() == 0 {
			return
		}
		// Key on the parent's underlying node pointer.
		key := fmt.Sprintf("%p", parent.Nodes[0])
		r, ok := index[key]
		if !ok {
			r = &region{sel: parent}
			index[key] = r
		}
		r.score += len(normalizeWhitespace(p.Text()))
	})

	var best *region
	for _, r := range index {
		if best == nil || r.score > best.score {
			best = r
		}
	}
	if best == nil || best.score == 0 {
		return nil
	}
	return best.sel
}

// dropChrome removes page furniture that would pollute text extraction.
func dropChrome(doc *goquery.Document) {
	doc.Find("script, style, noscript, iframe, nav, header, footer, aside, form").Remove()
}
