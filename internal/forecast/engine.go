package forecast

import (
	"errors"
	"math"
	"time"

	"binfleet-backend/internal/models"
)

// Policy constants
const (
	// FillThreshold is the fill percentage at which a bin needs collection soon
	FillThreshold = 80.0

	// CriticalDays is the cut for mandatory routing (priority feed)
	CriticalDays = 1
	// HighRiskDays and MediumRiskDays are the presentation tier cuts
	HighRiskDays   = 3
	MediumRiskDays = 7
)

// ErrStaleData marks a prediction computed before the bin's latest collection
// event. It triggers a refresh; it is never reported as a failure.
var ErrStaleData = errors.New("growth prediction predates latest collection event")

// BinHistory is everything the engine needs to know about one bin
type BinHistory struct {
	Bin        models.Bin
	Events     []models.CollectionEvent // newest first, at most two used
	Prediction *models.GrowthPrediction // latest, nil when none
	NextStop   *models.ScheduledStop    // earliest stop on/after today and after the latest collection, nil when none
}

// LatestEvent returns the most recent collection event
func (h BinHistory) LatestEvent() (models.CollectionEvent, bool) {
	if len(h.Events) == 0 {
		return models.CollectionEvent{}, false
	}
	return h.Events[0], true
}

// NeedsRefresh is true when there is no prediction or the latest collection
// event happened at or after the prediction was computed.
func (h BinHistory) NeedsRefresh() bool {
	latest, ok := h.LatestEvent()
	if !ok {
		return h.Prediction == nil
	}
	if h.Prediction == nil {
		return true
	}
	return latest.CollectedAt >= h.Prediction.PredictedAt
}

// Today truncates now to the start of its UTC day
func Today(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}

// Estimate projects fill from the last collection to today at the given growth
func Estimate(growth float64, lastCollected, today time.Time) models.FreshForecast {
	daysElapsed := math.Max(today.Sub(lastCollected).Hours()/24, 0)
	fill := math.Min(math.Max(growth*daysElapsed, 0), 100)

	f := models.FreshForecast{Growth: growth, EstimatedFill: fill}
	switch {
	case fill >= FillThreshold:
		f.DaysToThreshold = 0
		f.Reachable = true
	case growth > 0:
		f.DaysToThreshold = int(math.Ceil((FillThreshold - fill) / growth))
		f.Reachable = true
	}

	if f.Reachable {
		f.Tier = Classify(f.DaysToThreshold)
	} else {
		f.Tier = models.RiskLow
	}
	return f
}

// Classify maps days-to-threshold onto the presentation tier
func Classify(daysToThreshold int) models.RiskTier {
	switch {
	case daysToThreshold <= HighRiskDays:
		return models.RiskHigh
	case daysToThreshold <= MediumRiskDays:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// IsCritical is the stricter priority-feed cut
func IsCritical(daysToThreshold int) bool {
	return daysToThreshold <= CriticalDays
}

// Forecast derives the forecast variant. Stale and unknown forecasts are
// returned together with ErrStaleData.
func (h BinHistory) Forecast(now time.Time) (models.BinForecast, error) {
	latest, ok := h.LatestEvent()
	if !ok {
		return models.UnknownForecast{}, ErrStaleData
	}
	if h.Prediction == nil {
		return models.UnknownForecast{LastFill: latest.FillPercentage}, ErrStaleData
	}
	if h.NeedsRefresh() {
		return models.StaleForecast{LastFill: latest.FillPercentage}, ErrStaleData
	}
	return Estimate(h.Prediction.PredictedAvgDailyGrowth, latest.Time(), Today(now)), nil
}

// SchedulingStatus is Scheduled when a stop is planned after the latest
// collection and on or after today
func (h BinHistory) SchedulingStatus(now time.Time) models.SchedulingStatus {
	latest, ok := h.LatestEvent()
	if !ok || h.NextStop == nil {
		return models.StatusNotScheduled
	}
	if h.NextStop.PlannedAt > latest.CollectedAt && h.NextStop.PlannedAt >= Today(now).Unix() {
		return models.StatusScheduled
	}
	return models.StatusNotScheduled
}

// Evaluate builds the risk row for a bin. Bins without any collection event
// produce no row.
func Evaluate(h BinHistory, now time.Time) (models.BinRiskRow, bool) {
	latest, ok := h.LatestEvent()
	if !ok {
		return models.BinRiskRow{}, false
	}

	// Stale rows are still returned so they can be surfaced
	forecast, _ := h.Forecast(now)

	return models.BinRiskRow{
		BinID:            h.Bin.ID,
		BinNumber:        h.Bin.BinNumber,
		CurrentStreet:    h.Bin.CurrentStreet,
		Region:           h.Bin.Region,
		LastCollectedAt:  latest.Time(),
		Forecast:         forecast,
		SchedulingStatus: h.SchedulingStatus(now),
	}, true
}

// EvaluateAll evaluates every bin, skipping those without history
func EvaluateAll(histories []BinHistory, now time.Time) []models.BinRiskRow {
	rows := make([]models.BinRiskRow, 0, len(histories))
	for _, h := range histories {
		if row, ok := Evaluate(h, now); ok {
			rows = append(rows, row)
		}
	}
	return rows
}
