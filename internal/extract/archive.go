package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/terralab/landcrawler/internal/land"
)

// maxSnapshotBytes bounds how much of an archived copy is read.
const maxSnapshotBytes = 10 * 1024 * 1024

// ArchiveClient looks up the nearest archived copy of a URL in a Wayback
// style availability service and fetches its raw body.
type ArchiveClient struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
}

// NewArchiveClient builds a client for the given availability endpoint
// (e.g. https://archive.org/wayback/available).
func NewArchiveClient(endpoint string, timeout time.Duration, userAgent string) *ArchiveClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ArchiveClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

type availabilityResponse struct {
	ArchivedSnapshots struct {
		Closest struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// NearestSnapshot returns the snapshot URL for pageURL, or an error when no
// archived copy exists.
func (c *ArchiveClient) NearestSnapshot(ctx context.Context, pageURL string) (string, error) {
	reqURL := c.endpoint + "?url=" + url.QueryEscape(pageURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build availability request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("availability lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("availability lookup returned %d", resp.StatusCode)
	}

	var avail availabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&avail); err != nil {
		return "", fmt.Errorf("decode availability response: %w", err)
	}
	closest := avail.ArchivedSnapshots.Closest
	if !closest.Available || closest.URL == "" {
		return "", fmt.Errorf("no archived snapshot for %s", pageURL)
	}
	return rawSnapshotURL(closest.URL), nil
}

// FetchSnapshot downloads the archived body.
func (c *ArchiveClient) FetchSnapshot(ctx context.Context, snapshotURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, snapshotURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot fetch returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	return body, nil
}

// rawSnapshotURL rewrites a Wayback replay URL to its id_ form, which serves
// the original unrewritten HTML so links resolve against the real site
// rather than the archive.
func rawSnapshotURL(replayURL string) string {
	const marker = "/web/"
	i := strings.Index(replayURL, marker)
	if i < 0 {
		return replayURL
	}
	rest := replayURL[i+len(marker):]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return replayURL
	}
	ts := rest[:slash]
	if strings.HasSuffix(ts, "id_") {
		return replayURL
	}
	return replayURL[:i+len(marker)] + ts + "id_" + rest[slash:]
}

// Archive is the second chain tier: it re-runs the primary extraction over
// the nearest archived copy of the page.
type Archive struct {
	client  *ArchiveClient
	primary *Primary
}

// NewArchive constructs the archive fallback extractor.
func NewArchive(client *ArchiveClient) *Archive {
	return &Archive{client: client, primary: NewPrimary()}
}

// Source labels this tier.
func (*Archive) Source() land.ExtractionSource {
	return land.SourceArchive
}

// Extract ignores the live body and works from the archived snapshot. Links
// in the snapshot resolve against the original page URL thanks to the id_
// replay form.
func (a *Archive) Extract(ctx context.Context, _ []byte, pageURL string) (*Content, error) {
	snapshotURL, err := a.client.NearestSnapshot(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	body, err := a.client.FetchSnapshot(ctx, snapshotURL)
	if err != nil {
		return nil, err
	}
	return a.primary.Extract(ctx, body, pageURL)
}
