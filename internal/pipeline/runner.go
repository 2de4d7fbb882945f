package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terralab/landcrawler/internal/land"
)

// Runner drives whole-land batches through a worker, one unit at a time,
// checking for cancellation between units so a stop request never interrupts
// a unit mid-flight.
type Runner struct {
	store  land.UnitStore
	worker *Worker
	logger *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(store land.UnitStore, worker *Worker, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{store: store, worker: worker, logger: logger}
}

// CrawlLand processes up to limit pending units of a land, in depth-then-age
// order. Before touching the first unit it checks for dictionary starvation:
// an empty lexicon silently zeroes every relevance score, so it is surfaced
// loudly up front instead of discovered after the batch.
func (r *Runner) CrawlLand(ctx context.Context, landID uuid.UUID, limit int) ([]land.Outcome, error) {
	lexicon, err := r.store.GetLexicon(ctx, landID)
	if err != nil {
		return nil, fmt.Errorf("load lexicon: %w", err)
	}
	if lexicon.Empty() {
		r.logger.Warn("lexicon is empty: every relevance score in this batch will be zero",
			zap.String("land_id", landID.String()))
	}

	candidates, err := r.store.NextCandidates(ctx, landID, limit)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	outcomes := make([]land.Outcome, 0, len(candidates))
	for _, unit := range candidates {
		if ctx.Err() != nil {
			return outcomes, fmt.Errorf("batch interrupted: %w", ctx.Err())
		}
		out, err := r.worker.ProcessUnit(ctx, unit.ID)
		if err != nil {
			r.logger.Error("unit failed",
				zap.String("unit_id", unit.ID.String()),
				zap.String("url", unit.URL),
				zap.Error(err))
			continue
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// MarkForRecrawl clears the processed state of units whose stored status
// matches the filter, then reports how many became selectable again.
func (r *Runner) MarkForRecrawl(ctx context.Context, landID uuid.UUID, statuses []int) (int64, error) {
	touched, err := r.store.MarkForRecrawl(ctx, landID, statuses)
	if err != nil {
		return 0, fmt.Errorf("mark for recrawl: %w", err)
	}
	r.logger.Info("units marked for recrawl",
		zap.String("land_id", landID.String()),
		zap.Ints("statuses", statuses),
		zap.Int64("touched", touched))
	return touched, nil
}
