package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terralab/landcrawler/internal/land"
)

const articlePage = `<!DOCTYPE html>
<html><head><title>Field Notes</title></head>
<body>
<nav>Home | About | Contact and lots of other navigation chrome</nav>
<article>
<p>PARA</p>
<p><a href="/next">Next entry</a></p>
<img src="/photos/site.jpg">
</article>
<footer>Copyright and boilerplate</footer>
</body></html>`

func articleHTML(words int) []byte {
	para := strings.TrimSpace(strings.Repeat("observation ", words))
	return []byte(strings.Replace(articlePage, "PARA", para, 1))
}

func TestStructured_FindsArticleContainer(t *testing.T) {
	t.Parallel()

	s := NewStructured(100)
	content, err := s.Extract(context.Background(), articleHTML(800), "https://example.com/notes")
	require.NoError(t, err)

	require.Equal(t, "Field Notes", content.Title)
	require.Contains(t, content.Text, "observation observation")
	require.NotContains(t, content.Text, "navigation chrome")
	require.NotContains(t, content.Text, "Copyright")
	require.GreaterOrEqual(t, content.TextLength(), 100)

	require.Len(t, content.Links, 1)
	require.Equal(t, "https://example.com/next", content.Links[0].URL)
	require.Len(t, content.Media, 1)
	require.Equal(t, "https://example.com/photos/site.jpg", content.Media[0].URL)
	require.Equal(t, land.MediaImage, content.Media[0].Type)
}

func TestStructured_DensityFallbackPicksBestRegion(t *testing.T) {
	t.Parallel()

	long := strings.TrimSpace(strings.Repeat("substance ", 300))
	page := `<html><head><title>No container</title></head><body>
<div id="sidebar"><p>tiny</p></div>
<div id="story"><p>` + long + `</p><p>closing remark for the piece</p></div>
</body></html>`

	s := NewStructured(100)
	content, err := s.Extract(context.Background(), []byte(page), "https://example.com/story")
	require.NoError(t, err)
	require.Contains(t, content.Text, "substance substance")
	require.Contains(t, content.Text, "closing remark")
	require.NotContains(t, content.Text, "tiny")
}

func TestStructured_RejectsThinDocuments(t *testing.T) {
	t.Parallel()

	s := NewStructured(100)
	_, err := s.Extract(context.Background(), []byte("<html><body><p>thin</p></body></html>"), "https://example.com")
	require.Error(t, err)
}

func TestBasic_StripsChromeAndReturnsVisibleText(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Plain</title><style>.x{color:red}</style></head><body>
<script>var tracking = true;</script>
<nav>menu items</nav>
<p>visible paragraph one</p>
<p>visible paragraph two</p>
<footer>footer junk</footer>
</body></html>`

	b := NewBasic()
	content, err := b.Extract(context.Background(), []byte(page), "https://example.com")
	require.NoError(t, err)

	require.Equal(t, "Plain", content.Title)
	require.Contains(t, content.Text, "visible paragraph one visible paragraph two")
	require.NotContains(t, content.Text, "tracking")
	require.NotContains(t, content.Text, "menu items")
	require.NotContains(t, content.Text, "footer junk")
	require.Empty(t, content.HTML)
}

func TestBasic_EmptyBodyIsAnError(t *testing.T) {
	t.Parallel()

	b := NewBasic()
	_, err := b.Extract(context.Background(), nil, "https://example.com")
	require.Error(t, err)
}

// Scenario: primary yields under the gate, no snapshot exists, and the
// structured tier finds an article container with real content.
func TestChain_StructuredWinsOverRealDocument(t *testing.T) {
	t.Parallel()

	primary := &stubStrategy{source: land.SourcePrimary, content: text(50)}
	archive := &stubStrategy{source: land.SourceArchive, err: errNoSnapshot}
	chain := NewChain(100, nil, primary, archive, NewStructured(100), NewBasic())

	res := chain.Run(context.Background(), articleHTML(800), "https://example.com/notes")

	require.Equal(t, land.SourceStructured, res.Source)
	require.Greater(t, res.Content.TextLength(), 100)
	require.Equal(t,
		[]land.ExtractionSource{land.SourcePrimary, land.SourceArchive, land.SourceStructured},
		res.Attempts)
}

var errNoSnapshot = errSentinel("no archived snapshot")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
