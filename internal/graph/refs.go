// Package graph parses outbound links and media references from extracted
// content and builds the idempotent link/media graph around crawl units.
package graph

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/terralab/landcrawler/internal/land"
)

// DiscoveredLink is an outbound hyperlink found in extracted content, with
// its URL already resolved against the document URL and normalized.
type DiscoveredLink struct {
	URL      string
	Anchor   string
	NoFollow bool
}

// MediaCandidate is a media URL found in extracted content. Only identity is
// established here; inspection is the media analyzer's job.
type MediaCandidate struct {
	URL  string
	Type land.MediaType
}

// binaryExtensions are link targets dropped from the crawl frontier: they
// cannot yield extractable documents.
var binaryExtensions = map[string]struct{}{
	".zip": {}, ".tar": {}, ".gz": {}, ".tgz": {}, ".bz2": {}, ".7z": {}, ".rar": {},
	".exe": {}, ".dmg": {}, ".iso": {}, ".apk": {}, ".msi": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".css": {}, ".js": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".ico": {},
}

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".avif": {}, ".bmp": {},
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".webm": {}, ".mov": {}, ".mkv": {}, ".avi": {},
}

var audioExtensions = map[string]struct{}{
	".mp3": {}, ".ogg": {}, ".wav": {}, ".flac": {}, ".m4a": {},
}

// ParseRefs extracts outbound links and media references from an HTML
// fragment, resolving relative URLs against base, dropping non-crawlable
// schemes and binary link targets, and deduplicating by normalized URL.
// Links that point straight at media files are reclassified as media.
func ParseRefs(htmlStr string, base *url.URL) ([]DiscoveredLink, []MediaCandidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return nil, nil, err
	}

	seenLinks := map[string]struct{}{}
	seenMedia := map[string]struct{}{}
	var links []DiscoveredLink
	var media []MediaCandidate

	addMedia := func(raw string, kind land.MediaType) {
		resolved := resolveRef(raw, base)
		if resolved == "" {
			return
		}
		if _, dup := seenMedia[resolved]; dup {
			return
		}
		seenMedia[resolved] = struct{}{}
		media = append(media, MediaCandidate{URL: resolved, Type: kind})
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved := resolveRef(href, base)
		if resolved == "" {
			return
		}
		if kind, isMedia := mediaTypeByExtension(resolved); isMedia {
			addMedia(resolved, kind)
			return
		}
		if hasBinaryExtension(resolved) {
			return
		}
		normalized, err := land.NormalizeURL(resolved)
		if err != nil {
			return
		}
		if _, dup := seenLinks[normalized]; dup {
			return
		}
		seenLinks[normalized] = struct{}{}
		rel, _ := sel.Attr("rel")
		links = append(links, DiscoveredLink{
			URL:      normalized,
			Anchor:   strings.TrimSpace(sel.Text()),
			NoFollow: strings.Contains(rel, "nofollow"),
		})
	})

	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		addMedia(src, land.MediaImage)
	})
	doc.Find("video[src], video source[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		addMedia(src, land.MediaVideo)
	})
	doc.Find("audio[src], audio source[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		addMedia(src, land.MediaAudio)
	})

	return links, media, nil
}

// resolveRef resolves href against base and rejects non-crawlable schemes.
func resolveRef(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := parsed
	if base != nil {
		resolved = base.ResolveReference(parsed)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	if resolved.Host == "" {
		return ""
	}
	return resolved.String()
}

func extensionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}

func hasBinaryExtension(rawURL string) bool {
	_, ok := binaryExtensions[extensionOf(rawURL)]
	return ok
}

func mediaTypeByExtension(rawURL string) (land.MediaType, bool) {
	ext := extensionOf(rawURL)
	if _, ok := imageExtensions[ext]; ok {
		return land.MediaImage, true
	}
	if _, ok := videoExtensions[ext]; ok {
		return land.MediaVideo, true
	}
	if _, ok := audioExtensions[ext]; ok {
		return land.MediaAudio, true
	}
	return "", false
}
