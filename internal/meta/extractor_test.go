package meta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fullPage = `<!DOCTYPE html>
<html lang="en-GB">
<head>
<title>Groundwater Survey 2023</title>
<meta name="description" content="Long-term groundwater observations across the northern basin.">
<meta name="keywords" content="groundwater, hydrology , basin">
<meta property="article:published_time" content="2023-03-15T08:30:00Z">
<meta property="article:modified_time" content="2023-06-01T00:00:00Z">
<link rel="canonical" href="/reports/groundwater-2023">
</head>
<body><h1>Ignored heading</h1><p>body</p></body>
</html>`

func TestExtract_FullDocument(t *testing.T) {
	t.Parallel()

	m := Extract([]byte(fullPage), "https://hydro.example.org/reports/groundwater-2023?utm=x", "")

	require.Equal(t, "Groundwater Survey 2023", m.Title)
	require.Equal(t, "Long-term groundwater observations across the northern basin.", m.Description)
	require.Equal(t, []string{"groundwater", "hydrology", "basin"}, m.Keywords)
	require.Equal(t, "https://hydro.example.org/reports/groundwater-2023", m.Canonical)
	require.Equal(t, "en", m.Lang)

	require.NotNil(t, m.PublishedAt)
	require.Equal(t, time.Date(2023, 3, 15, 8, 30, 0, 0, time.UTC), *m.PublishedAt)
	require.NotNil(t, m.ModifiedAt)
	require.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), *m.ModifiedAt)
}

func TestExtract_TitleFallsBackToHeading(t *testing.T) {
	t.Parallel()

	m := Extract([]byte(`<html><body><h1> Field Report </h1></body></html>`), "https://example.com", "")
	require.Equal(t, "Field Report", m.Title)
}

func TestExtract_TimeTagDateFallback(t *testing.T) {
	t.Parallel()

	page := `<html><body><article><time datetime="2022-11-02">2 Nov</time><p>x</p></article></body></html>`
	m := Extract([]byte(page), "https://example.com", "")
	require.NotNil(t, m.PublishedAt)
	require.Equal(t, time.Date(2022, 11, 2, 0, 0, 0, 0, time.UTC), *m.PublishedAt)
}

func TestExtract_StatisticalLanguageFallback(t *testing.T) {
	t.Parallel()

	text := "The committee reviewed the findings and concluded that the observed trends " +
		"were consistent with earlier measurements taken throughout the previous decade."
	m := Extract([]byte(`<html><body><p>x</p></body></html>`), "https://example.com", text)
	require.Equal(t, "en", m.Lang)
}

func TestExtract_UnparseableDateIsNil(t *testing.T) {
	t.Parallel()

	page := `<html><head><meta name="date" content="last tuesday"></head><body></body></html>`
	m := Extract([]byte(page), "https://example.com", "")
	require.Nil(t, m.PublishedAt)
}

func TestExtract_EmptyDocument(t *testing.T) {
	t.Parallel()

	m := Extract(nil, "https://example.com", "")
	require.Empty(t, m.Title)
	require.Empty(t, m.Lang)
	require.Nil(t, m.Keywords)
}
