package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"binfleet-backend/internal/events"
	"binfleet-backend/internal/forecast"
	"binfleet-backend/internal/lock"
	"binfleet-backend/internal/metrics"
	"binfleet-backend/internal/models"
	"binfleet-backend/internal/store"
)

const (
	refreshLockTTL = 2 * time.Minute
	// refreshPassTimeout bounds a shared pass once it is detached from the first caller
	refreshPassTimeout = 10 * time.Minute
)

// RefreshFailure is one bin the oracle or the store could not refresh
type RefreshFailure struct {
	BinID  string `json:"bin_id"`
	Reason string `json:"reason"`
}

// RefreshResult reports one refresh pass. Failures never discard successes.
type RefreshResult struct {
	Refreshed int              `json:"refreshed"`
	Failed    []RefreshFailure `json:"failed"`
	Skipped   int              `json:"skipped"`
}

type refreshOutcome int

const (
	outcomeRefreshed refreshOutcome = iota
	outcomeFailed
	outcomeSkipped
)

func (o refreshOutcome) String() string {
	switch o {
	case outcomeRefreshed:
		return "refreshed"
	case outcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// Refresher re-predicts growth for bins whose prediction predates their
// latest collection event.
type Refresher struct {
	repo         store.Repository
	oracle       GrowthOracle
	locker       lock.Locker
	publisher    events.Publisher
	modelVersion string
	concurrency  int
	now          func() time.Time

	passes singleflight.Group
}

func NewRefresher(repo store.Repository, oracle GrowthOracle, locker lock.Locker, publisher events.Publisher, modelVersion string, concurrency int) *Refresher {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Refresher{
		repo:         repo,
		oracle:       oracle,
		locker:       locker,
		publisher:    publisher,
		modelVersion: modelVersion,
		concurrency:  max(1, concurrency),
		now:          time.Now,
	}
}

// Refresh runs one pass over stale bins. Concurrent callers share the pass in
// flight. The returned error covers only whole-pass failures such as an
// unreadable history store.
func (r *Refresher) Refresh(ctx context.Context) (RefreshResult, error) {
	ch := r.passes.DoChan("refresh", func() (interface{}, error) {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshPassTimeout)
		defer cancel()
		return r.run(passCtx)
	})

	select {
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return RefreshResult{}, res.Err
		}
		return res.Val.(RefreshResult), nil
	}
}

func (r *Refresher) run(ctx context.Context) (RefreshResult, error) {
	invokedAt := r.now()
	histories, err := forecast.LoadHistories(ctx, r.repo, invokedAt)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("failed to load bin histories: %w", err)
	}

	result := RefreshResult{Failed: []RefreshFailure{}}
	var mu sync.Mutex
	record := func(binID string, outcome refreshOutcome, reason string) {
		metrics.RefreshOutcomes.WithLabelValues(outcome.String()).Inc()
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case outcomeRefreshed:
			result.Refreshed++
		case outcomeFailed:
			result.Failed = append(result.Failed, RefreshFailure{BinID: binID, Reason: reason})
		default:
			result.Skipped++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, h := range histories {
		if !h.NeedsRefresh() {
			continue
		}
		if len(h.Events) < 2 {
			// no cycle duration can be derived yet
			record(h.Bin.ID, outcomeSkipped, "")
			continue
		}
		binID := h.Bin.ID
		g.Go(func() error {
			outcome, reason := r.refreshBin(gctx, binID, invokedAt)
			record(binID, outcome, reason)
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("🔄 [REFRESH] Pass complete: refreshed=%d failed=%d skipped=%d", result.Refreshed, len(result.Failed), result.Skipped)
	if result.Refreshed > 0 || len(result.Failed) > 0 {
		if err := r.publisher.Publish(ctx, events.New(events.TypePredictionsRefreshed, "", result)); err != nil {
			log.Printf("⚠️  [REFRESH] Failed to publish refresh event: %v", err)
		}
	}
	return result, nil
}

// refreshBin re-checks staleness under the bin lock, then calls the oracle
// and appends the new prediction.
func (r *Refresher) refreshBin(ctx context.Context, binID string, invokedAt time.Time) (refreshOutcome, string) {
	release, err := r.locker.Acquire(ctx, lock.RefreshKey(binID), refreshLockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return outcomeSkipped, ""
	}
	if err != nil {
		return outcomeFailed, fmt.Sprintf("failed to lock bin: %v", err)
	}
	defer release()

	recent, err := r.repo.RecentEventsForBin(ctx, binID, 2)
	if err != nil {
		return outcomeFailed, fmt.Sprintf("failed to read collection events: %v", err)
	}
	if len(recent) < 2 {
		return outcomeSkipped, ""
	}

	latest, err := r.repo.LatestPrediction(ctx, binID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return outcomeFailed, fmt.Sprintf("failed to read latest prediction: %v", err)
	}
	if latest != nil && latest.PredictedAt > recent[0].CollectedAt {
		// refreshed by a concurrent pass since the histories were read
		return outcomeSkipped, ""
	}

	req := BuildOracleRequest(binID, recent[0], recent[1])
	growth, err := r.oracle.Predict(ctx, req)
	if err != nil {
		log.Printf("❌ [REFRESH] Oracle failed for bin %s: %v", binID, err)
		return outcomeFailed, err.Error()
	}

	inserted, err := r.repo.InsertPrediction(ctx, &models.GrowthPrediction{
		BinID:                   binID,
		PredictedAvgDailyGrowth: growth,
		PredictedAt:             invokedAt.Unix(),
		ModelVersion:            r.modelVersion,
	})
	if err != nil {
		return outcomeFailed, fmt.Sprintf("failed to save prediction: %v", err)
	}
	if !inserted {
		return outcomeSkipped, ""
	}
	return outcomeRefreshed, ""
}

// BuildOracleRequest derives the cycle from the two most recent events
// (latest first). The cycle duration is rounded up to whole days.
func BuildOracleRequest(binID string, latest, previous models.CollectionEvent) OracleRequest {
	elapsed := latest.Time().Sub(previous.Time())
	return OracleRequest{
		BinID:                binID,
		LatestFillPercentage: latest.FillPercentage,
		CycleDurationDays:    int(math.Ceil(elapsed.Hours() / 24)),
		CycleStartMonth:      int(latest.Time().Month()),
	}
}
