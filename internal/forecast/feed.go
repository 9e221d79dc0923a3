package forecast

import (
	"time"

	"binfleet-backend/internal/models"
)

// PriorityEntry is the hand-off from prediction to routing
type PriorityEntry struct {
	BinID           string `json:"bin_id"`
	DaysToThreshold int    `json:"days_to_threshold"`
	IsHighPriority  bool   `json:"is_high_priority"`
}

// Feed emits an entry for every bin with history, a fresh prediction and a
// strictly positive growth rate.
func Feed(histories []BinHistory, now time.Time) []PriorityEntry {
	var entries []PriorityEntry
	for _, h := range histories {
		f, err := h.Forecast(now)
		if err != nil {
			continue
		}
		fresh, ok := f.(models.FreshForecast)
		if !ok || fresh.Growth <= 0 {
			continue
		}
		entries = append(entries, PriorityEntry{
			BinID:           h.Bin.ID,
			DaysToThreshold: fresh.DaysToThreshold,
			IsHighPriority:  IsCritical(fresh.DaysToThreshold),
		})
	}
	return entries
}

// Candidate is a bin offered to the route solver
type Candidate struct {
	Bin             models.Bin
	DaysToThreshold int
	Mandatory       bool
}

// RoutingCandidates returns the urgent-unscheduled population: feed entries
// within the high-risk cut whose bin has no future stop. Critical entries are
// mandatory, the rest optional.
func RoutingCandidates(histories []BinHistory, now time.Time) []Candidate {
	byID := make(map[string]BinHistory, len(histories))
	for _, h := range histories {
		byID[h.Bin.ID] = h
	}

	var out []Candidate
	for _, e := range Feed(histories, now) {
		if e.DaysToThreshold > HighRiskDays {
			continue
		}
		h := byID[e.BinID]
		if h.SchedulingStatus(now) == models.StatusScheduled {
			continue
		}
		out = append(out, Candidate{
			Bin:             h.Bin,
			DaysToThreshold: e.DaysToThreshold,
			Mandatory:       e.IsHighPriority,
		})
	}
	return out
}
