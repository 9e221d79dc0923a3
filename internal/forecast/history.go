package forecast

import (
	"context"
	"fmt"
	"time"

	"binfleet-backend/internal/models"
)

// eventsPerBin is how many recent collection events the engine reads
const eventsPerBin = 2

// HistoryReader is the read side of the relational history store
type HistoryReader interface {
	ActiveBins(ctx context.Context) ([]models.Bin, error)
	RecentCollectionEvents(ctx context.Context, perBin int) (map[string][]models.CollectionEvent, error)
	LatestPredictions(ctx context.Context) (map[string]models.GrowthPrediction, error)
	NextScheduledStops(ctx context.Context, from time.Time) (map[string]models.ScheduledStop, error)
}

// LoadHistories reads active bins with their two latest events, latest
// prediction and next scheduled stop after the latest collection.
func LoadHistories(ctx context.Context, r HistoryReader, now time.Time) ([]BinHistory, error) {
	bins, err := r.ActiveBins(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active bins: %w", err)
	}

	events, err := r.RecentCollectionEvents(ctx, eventsPerBin)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection events: %w", err)
	}

	predictions, err := r.LatestPredictions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load predictions: %w", err)
	}

	stops, err := r.NextScheduledStops(ctx, Today(now))
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduled stops: %w", err)
	}

	histories := make([]BinHistory, 0, len(bins))
	for _, bin := range bins {
		h := BinHistory{Bin: bin, Events: events[bin.ID]}
		if p, ok := predictions[bin.ID]; ok {
			h.Prediction = &p
		}
		if s, ok := stops[bin.ID]; ok {
			h.NextStop = &s
		}
		histories = append(histories, h)
	}
	return histories, nil
}
