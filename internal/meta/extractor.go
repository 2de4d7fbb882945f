// Package meta extracts document metadata independently of which extraction
// tier produced the body text.
package meta

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"

	"github.com/terralab/landcrawler/internal/land"
)

// langSampleLength caps how much text feeds the statistical detector.
const langSampleLength = 1000

// dateLayouts are tried in order against date-ish metadata values.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"January 2, 2006",
	"2 January 2006",
}

// Extract pulls title, description, keywords, canonical URL, language and
// publication dates from the raw document. Missing fields stay zero-valued;
// an unparseable document yields empty metadata rather than an error.
func Extract(htmlBody []byte, pageURL string, extractedText string) land.PageMetadata {
	var m land.PageMetadata
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(htmlBody)))
	if err != nil {
		m.Lang = detectLanguage(extractedText)
		return m
	}

	m.Title = extractTitle(doc)
	m.Description = firstAttr(doc,
		`meta[name="description"]`, `meta[property="og:description"]`, `meta[name="twitter:description"]`)
	m.Keywords = splitKeywords(firstAttr(doc, `meta[name="keywords"]`))
	m.Canonical = extractCanonical(doc, pageURL)

	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		m.Lang = normalizeLang(lang)
	}
	if m.Lang == "" {
		m.Lang = detectLanguage(extractedText)
	}

	m.PublishedAt = extractDate(doc,
		`meta[property="article:published_time"]`, `meta[name="date"]`,
		`meta[name="dc.date"]`, `meta[itemprop="datePublished"]`)
	m.ModifiedAt = extractDate(doc,
		`meta[property="article:modified_time"]`, `meta[itemprop="dateModified"]`)
	if m.PublishedAt == nil {
		m.PublishedAt = timeTagDate(doc)
	}

	return m
}

// extractTitle prefers the title tag and falls back to the first heading.
func extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h2").First().Text())
}

func extractCanonical(doc *goquery.Document, pageURL string) string {
	href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	href = strings.TrimSpace(href)
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func firstAttr(doc *goquery.Document, selectors ...string) string {
	for _, s := range selectors {
		if v, ok := doc.Find(s).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func splitKeywords(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func extractDate(doc *goquery.Document, selectors ...string) *time.Time {
	for _, s := range selectors {
		v, ok := doc.Find(s).First().Attr("content")
		if !ok {
			continue
		}
		if ts := parseDate(v); ts != nil {
			return ts
		}
	}
	return nil
}

func timeTagDate(doc *goquery.Document) *time.Time {
	v, ok := doc.Find("time[datetime]").First().Attr("datetime")
	if !ok {
		return nil
	}
	return parseDate(v)
}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}
	return nil
}

// normalizeLang reduces a BCP 47 tag to its ISO 639-1 primary subtag.
func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

// detectLanguage runs the statistical detector over a sample of the
// extracted text when the document carries no language attribute.
func detectLanguage(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if len(text) > langSampleLength {
		text = text[:langSampleLength]
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
