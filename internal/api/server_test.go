package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terralab/landcrawler/internal/clock/system"
	"github.com/terralab/landcrawler/internal/config"
	"github.com/terralab/landcrawler/internal/domain"
	"github.com/terralab/landcrawler/internal/extract"
	"github.com/terralab/landcrawler/internal/graph"
	"github.com/terralab/landcrawler/internal/hash/sha256"
	idgen "github.com/terralab/landcrawler/internal/id/uuid"
	"github.com/terralab/landcrawler/internal/land"
	"github.com/terralab/landcrawler/internal/metrics"
	"github.com/terralab/landcrawler/internal/pipeline"
	queuemem "github.com/terralab/landcrawler/internal/queue/memory"
	"github.com/terralab/landcrawler/internal/score"
	storemem "github.com/terralab/landcrawler/internal/storage/memory"
)

type stubFetcher struct {
	mu      sync.Mutex
	results map[string]land.FetchResult
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{results: make(map[string]land.FetchResult)}
}

func (f *stubFetcher) Fetch(_ context.Context, req land.FetchRequest) (land.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.results[req.URL]
	if !ok {
		return land.FetchResult{}, &land.FetchError{Kind: land.FetchErrDNS, URL: req.URL}
	}
	return res, nil
}

func (f *stubFetcher) set(url string, res land.FetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[url] = res
}

type testEnv struct {
	store   *storemem.UnitStore
	queue   *queuemem.Queue
	fetcher *stubFetcher
	server  *Server
	land    land.Land
}

func articlePage(url string) land.FetchResult {
	body := `<html lang="en"><head><title>Basin Aquifer Survey</title></head><body><article><p>` +
		strings.Repeat("aquifer recharge observation ", 20) +
		`</p></article></body></html>`
	return land.FetchResult{
		StatusCode:  200,
		Body:        []byte(body),
		ContentType: "text/html",
		FinalURL:    url,
	}
}

func newEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	metrics.Init()

	store := storemem.NewUnitStore()
	fetcher := newStubFetcher()
	ids := idgen.New()
	clock := system.New()

	l := land.Land{ID: uuid.New(), Name: "groundwater research", Languages: []string{"en"}}
	store.AddLand(l)
	store.SetLexicon(land.Lexicon{LandID: l.ID, Terms: []land.LexiconTerm{
		{Term: "aquifer", Weight: 2, Lang: "en"},
	}})

	queue := queuemem.NewQueue(16)
	builder := graph.NewBuilder(store, ids, clock, nil, zap.NewNop())
	chain := extract.NewChain(100, zap.NewNop(), extract.NewStructured(100), extract.NewBasic())
	worker := pipeline.New(
		queue, store, fetcher, chain, builder, nil,
		storemem.NewBlobStore(), nil, sha256.New(), clock, nil,
		score.DefaultSnapshot(),
		pipeline.Config{BlobPrefix: "raw", FetchTimeout: time.Second},
		zap.NewNop(),
	)
	runner := pipeline.NewRunner(store, worker, zap.NewNop())
	dispatch := pipeline.NewDispatcher(queue, []*pipeline.Worker{worker})
	domains := domain.NewCrawler(store, fetcher, nil, ids, clock, time.Second, zap.NewNop())

	server := NewServer(store, runner, dispatch, domains, ids, clock, cfg, zap.NewNop())
	return &testEnv{store: store, queue: queue, fetcher: fetcher, server: server, land: l}
}

func (e *testEnv) seedUnit(t *testing.T, url string, depth int) land.CrawlUnit {
	t.Helper()
	ids := idgen.New()
	unitID, err := ids.NewID()
	require.NoError(t, err)
	domID, err := ids.NewID()
	require.NoError(t, err)
	dom, err := e.store.UpsertDomain(context.Background(), land.Domain{ID: domID, Name: land.HostOf(url)})
	require.NoError(t, err)
	unit, err := e.store.UpsertUnit(context.Background(), land.CrawlUnit{
		ID: unitID, LandID: e.land.ID, DomainID: dom.ID,
		URL: url, Depth: depth, DiscoveredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return unit
}

func (e *testEnv) do(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	// The memory backend has no land under the zero UUID; the not-found
	// answer still counts as ready.
	env := newEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

// unreachableStore simulates a store whose backend stopped answering.
type unreachableStore struct {
	*storemem.UnitStore
}

func (unreachableStore) GetLexicon(context.Context, uuid.UUID) (land.Lexicon, error) {
	return land.Lexicon{}, errors.New("dial tcp: connection refused")
}

func TestServer_Readyz_StoreUnavailable(t *testing.T) {
	t.Parallel()
	metrics.Init()

	ids := idgen.New()
	clock := system.New()
	server := NewServer(unreachableStore{storemem.NewUnitStore()}, nil, nil, nil, ids, clock, config.Config{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RegisterUnit_NormalizesAndEnqueues(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/v1/lands/"+env.land.ID.String()+"/units",
		`{"url":"https://Hydro.example.org:443/reports/2026#section"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "https://hydro.example.org/reports/2026")

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.False(t, item.Consolidate)

	unit, err := env.store.GetUnit(context.Background(), item.UnitID)
	require.NoError(t, err)
	require.Equal(t, "https://hydro.example.org/reports/2026", unit.URL)
}

func TestServer_RegisterUnit_BadRequests(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	base := "/v1/lands/" + env.land.ID.String() + "/units"

	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, base, "{invalid").Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, base, `{"url":""}`).Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, base, `{"url":"ftp://example.org/x"}`).Code)
	require.Equal(t, http.StatusBadRequest,
		env.do(http.MethodPost, base, `{"url":"https://example.org/x","depth":-1}`).Code)
}

func TestServer_RegisterUnit_UnknownLand(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/v1/lands/"+uuid.NewString()+"/units",
		`{"url":"https://example.org/x"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SubmitUnit_ProcessAndConsolidate(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	unit := env.seedUnit(t, "https://hydro.example.org/a", 0)

	rec := env.do(http.MethodPost, "/v1/units/"+unit.ID.String()+"/process", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, unit.ID, item.UnitID)
	require.False(t, item.Consolidate)

	rec = env.do(http.MethodPost, "/v1/units/"+unit.ID.String()+"/consolidate", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	item, err = env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.True(t, item.Consolidate)
}

func TestServer_SubmitUnit_Errors(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	require.Equal(t, http.StatusNotFound,
		env.do(http.MethodPost, "/v1/units/"+uuid.NewString()+"/process", "").Code)
	require.Equal(t, http.StatusBadRequest,
		env.do(http.MethodPost, "/v1/units/not-a-uuid/process", "").Code)
}

func TestServer_CrawlLand_ReturnsOutcomes(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	unit := env.seedUnit(t, "https://hydro.example.org/reports", 0)
	env.fetcher.set(unit.URL, articlePage(unit.URL))

	rec := env.do(http.MethodPost, "/v1/lands/"+env.land.ID.String()+"/crawl", `{"limit":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"count":1`)
	require.Contains(t, rec.Body.String(), string(land.OutcomeProcessed))
}

func TestServer_CrawlLand_EmptyBodyUsesDefaultLimit(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/v1/lands/"+env.land.ID.String()+"/crawl", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"count":0`)
}

func TestServer_Recrawl_RequiresStatuses(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/v1/lands/"+env.land.ID.String()+"/recrawl", `{"statuses":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Recrawl_TouchesFailedUnits(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	unit := env.seedUnit(t, "https://hydro.example.org/flaky", 0)

	// No stubbed response: the fetch fails with a transport error.
	rec := env.do(http.MethodPost, "/v1/lands/"+env.land.ID.String()+"/crawl", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), string(land.OutcomeFetchFailed))

	rec = env.do(http.MethodPost, "/v1/lands/"+env.land.ID.String()+"/recrawl", `{"statuses":[-1]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"touched":1`)

	env.fetcher.set(unit.URL, articlePage(unit.URL))
	rec = env.do(http.MethodPost, "/v1/lands/"+env.land.ID.String()+"/crawl", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), string(land.OutcomeProcessed))
}

func TestServer_GetUnit(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	unit := env.seedUnit(t, "https://hydro.example.org/page", 0)

	rec := env.do(http.MethodGet, "/v1/units/"+unit.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), unit.URL)
}

func TestServer_ListLinksAndMedia(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	source := env.seedUnit(t, "https://hydro.example.org/a", 0)
	target := env.seedUnit(t, "https://hydro.example.org/b", 1)

	require.NoError(t, env.store.UpsertLink(context.Background(), land.Link{
		SourceID: source.ID, TargetID: target.ID, AnchorText: "next",
	}))
	require.NoError(t, env.store.UpsertMediaRef(context.Background(), land.MediaRef{
		UnitID: source.ID, URL: "https://hydro.example.org/fig.png", Type: land.MediaImage,
	}))

	rec := env.do(http.MethodGet, "/v1/units/"+source.ID.String()+"/links", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "next")

	rec = env.do(http.MethodGet, "/v1/units/"+source.ID.String()+"/media", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "fig.png")
}

func TestServer_RefreshDomain(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	env.fetcher.set("https://hydro.example.org/", land.FetchResult{
		StatusCode:  200,
		Body:        []byte(`<html><head><title>Hydrology Institute</title></head><body>hi</body></html>`),
		ContentType: "text/html",
	})

	rec := env.do(http.MethodPost, "/v1/domains/hydro.example.org/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Hydrology Institute")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	rec := env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
