package graph

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terralab/landcrawler/internal/land"
)

func mustBase(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParseRefs_ResolvesAndNormalizes(t *testing.T) {
	t.Parallel()

	html := `<body>
		<a href="/reports/2026">Annual report</a>
		<a href="https://Other.example.org:443/page#intro">elsewhere</a>
		<a href="../data/">up one</a>
	</body>`
	links, media, err := ParseRefs(html, mustBase(t, "https://hydro.example.org/pubs/index.html"))
	require.NoError(t, err)
	require.Empty(t, media)
	require.Len(t, links, 3)

	require.Equal(t, "https://hydro.example.org/reports/2026", links[0].URL)
	require.Equal(t, "Annual report", links[0].Anchor)
	require.Equal(t, "https://other.example.org/page", links[1].URL, "host lowercased, port and fragment dropped")
	require.Equal(t, "https://hydro.example.org/data/", links[2].URL)
}

func TestParseRefs_DropsNonCrawlableTargets(t *testing.T) {
	t.Parallel()

	html := `<body>
		<a href="mailto:info@example.org">mail</a>
		<a href="javascript:void(0)">js</a>
		<a href="#section-2">same page</a>
		<a href="ftp://example.org/archive">ftp</a>
		<a href="/files/dataset.zip">dataset</a>
		<a href="/papers/method.pdf">paper</a>
		<a href="/ok">ok</a>
	</body>`
	links, media, err := ParseRefs(html, mustBase(t, "https://hydro.example.org/"))
	require.NoError(t, err)
	require.Empty(t, media)
	require.Len(t, links, 1)
	require.Equal(t, "https://hydro.example.org/ok", links[0].URL)
}

func TestParseRefs_DeduplicatesByNormalizedURL(t *testing.T) {
	t.Parallel()

	html := `<body>
		<a href="/next">first</a>
		<a href="https://hydro.example.org/next#frag">second</a>
	</body>`
	links, _, err := ParseRefs(html, mustBase(t, "https://hydro.example.org/"))
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, "first", links[0].Anchor, "first occurrence wins")
}

func TestParseRefs_NoFollow(t *testing.T) {
	t.Parallel()

	html := `<a href="/sponsored" rel="nofollow sponsored">ad</a><a href="/organic">real</a>`
	links, _, err := ParseRefs(html, mustBase(t, "https://hydro.example.org/"))
	require.NoError(t, err)
	require.Len(t, links, 2)
	require.True(t, links[0].NoFollow)
	require.False(t, links[1].NoFollow)
}

func TestParseRefs_MediaElements(t *testing.T) {
	t.Parallel()

	html := `<body>
		<img src="/figures/levels.png">
		<video src="/clips/flow.mp4"></video>
		<audio><source src="/talks/keynote.mp3"></audio>
	</body>`
	links, media, err := ParseRefs(html, mustBase(t, "https://hydro.example.org/"))
	require.NoError(t, err)
	require.Empty(t, links)
	require.Len(t, media, 3)

	require.Equal(t, land.MediaImage, media[0].Type)
	require.Equal(t, "https://hydro.example.org/figures/levels.png", media[0].URL)
	require.Equal(t, land.MediaVideo, media[1].Type)
	require.Equal(t, land.MediaAudio, media[2].Type)
}

func TestParseRefs_LinkToMediaFileReclassified(t *testing.T) {
	t.Parallel()

	html := `<a href="/gallery/dam.jpeg">photo of the dam</a>`
	links, media, err := ParseRefs(html, mustBase(t, "https://hydro.example.org/"))
	require.NoError(t, err)
	require.Empty(t, links, "media links do not enter the crawl frontier")
	require.Len(t, media, 1)
	require.Equal(t, land.MediaImage, media[0].Type)
}

func TestParseRefs_DuplicateMediaCollapsed(t *testing.T) {
	t.Parallel()

	html := `<img src="/fig.png"><img src="https://hydro.example.org/fig.png">`
	_, media, err := ParseRefs(html, mustBase(t, "https://hydro.example.org/"))
	require.NoError(t, err)
	require.Len(t, media, 1)
}
