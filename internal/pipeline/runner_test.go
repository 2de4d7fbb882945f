package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terralab/landcrawler/internal/land"
)

func TestCrawlLand_ProcessesPendingUnitsInOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	runner := NewRunner(env.store, env.worker, zap.NewNop())

	deep := env.seedUnit(t, "https://hydro.example.org/deep", 2)
	shallow := env.seedUnit(t, "https://hydro.example.org/shallow", 0)
	broken := env.seedUnit(t, "https://hydro.example.org/broken", 1)

	env.fetcher.results[deep.URL] = htmlResult(deep.URL, 200, articleBody())
	env.fetcher.results[shallow.URL] = htmlResult(shallow.URL, 200, articleBody())
	env.fetcher.errs[broken.URL] = &land.FetchError{Kind: land.FetchErrTimeout, URL: broken.URL}

	outcomes, err := runner.CrawlLand(context.Background(), env.land.ID, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	require.Equal(t, shallow.ID, outcomes[0].UnitID, "depth 0 first")
	require.Equal(t, broken.ID, outcomes[1].UnitID)
	require.Equal(t, deep.ID, outcomes[2].UnitID)

	require.Equal(t, land.OutcomeProcessed, outcomes[0].Status)
	require.Equal(t, land.OutcomeFetchFailed, outcomes[1].Status)
	require.Equal(t, land.OutcomeProcessed, outcomes[2].Status)
}

func TestCrawlLand_EmptyLexiconStillRuns(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.store.SetLexicon(land.Lexicon{LandID: env.land.ID})
	runner := NewRunner(env.store, env.worker, zap.NewNop())

	unit := env.seedUnit(t, "https://hydro.example.org/reports/2026", 0)
	env.fetcher.results[unit.URL] = htmlResult(unit.URL, 200, articleBody())

	outcomes, err := runner.CrawlLand(context.Background(), env.land.ID, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, land.OutcomeProcessed, outcomes[0].Status)
	require.Zero(t, outcomes[0].Relevance, "starved dictionary zeroes every score")
}

func TestCrawlLand_StopsBetweenUnitsOnCancel(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	runner := NewRunner(env.store, env.worker, zap.NewNop())
	env.seedUnit(t, "https://hydro.example.org/a", 0)
	env.seedUnit(t, "https://hydro.example.org/b", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := runner.CrawlLand(ctx, env.land.ID, 10)
	require.Error(t, err)
	require.Empty(t, outcomes)
}

func TestCrawlLand_HonorsLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	runner := NewRunner(env.store, env.worker, zap.NewNop())

	for _, u := range []string{"https://h.example.org/1", "https://h.example.org/2", "https://h.example.org/3"} {
		unit := env.seedUnit(t, u, 0)
		env.fetcher.results[unit.URL] = htmlResult(unit.URL, 200, articleBody())
	}

	outcomes, err := runner.CrawlLand(context.Background(), env.land.ID, 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
}

func TestMarkForRecrawlThenCrawlAgain(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	runner := NewRunner(env.store, env.worker, zap.NewNop())

	unit := env.seedUnit(t, "https://hydro.example.org/flaky", 0)
	env.fetcher.errs[unit.URL] = &land.FetchError{Kind: land.FetchErrTimeout, URL: unit.URL}

	outcomes, err := runner.CrawlLand(context.Background(), env.land.ID, 10)
	require.NoError(t, err)
	require.Equal(t, land.OutcomeFetchFailed, outcomes[0].Status)

	// The site recovers; mark transport errors and run again.
	delete(env.fetcher.errs, unit.URL)
	env.fetcher.results[unit.URL] = htmlResult(unit.URL, 200, articleBody())

	touched, err := runner.MarkForRecrawl(context.Background(), env.land.ID, []int{land.StatusTransportError})
	require.NoError(t, err)
	require.Equal(t, int64(1), touched)

	outcomes, err = runner.CrawlLand(context.Background(), env.land.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, outcomes)
	require.Equal(t, land.OutcomeProcessed, outcomes[0].Status)
}
