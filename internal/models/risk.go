package models

import (
	"encoding/json"
	"time"
)

// RiskTier is the presentation-facing urgency of a bin
type RiskTier string

const (
	RiskHigh   RiskTier = "High"
	RiskMedium RiskTier = "Medium"
	RiskLow    RiskTier = "Low"
)

// SchedulingStatus tells whether a bin already has a future stop planned
type SchedulingStatus string

const (
	StatusScheduled    SchedulingStatus = "Scheduled"
	StatusNotScheduled SchedulingStatus = "Not Scheduled"
)

// BinForecast is one of UnknownForecast, StaleForecast or FreshForecast.
type BinForecast interface {
	isBinForecast()
}

// UnknownForecast: the bin has collection history but no prediction yet
type UnknownForecast struct {
	LastFill int
}

// StaleForecast: the latest prediction predates the latest collection event
type StaleForecast struct {
	LastFill int
}

// FreshForecast is a usable estimate. When Reachable is false the bin never
// crosses the threshold under the model (growth <= 0) and DaysToThreshold is
// meaningless.
type FreshForecast struct {
	Growth          float64
	EstimatedFill   float64
	DaysToThreshold int
	Reachable       bool
	Tier            RiskTier
}

func (UnknownForecast) isBinForecast() {}
func (StaleForecast) isBinForecast()   {}
func (FreshForecast) isBinForecast()   {}

// BinRiskRow is the per-bin computed view. Not persisted.
type BinRiskRow struct {
	BinID            string
	BinNumber        int
	CurrentStreet    string
	Region           string
	LastCollectedAt  time.Time
	Forecast         BinForecast
	SchedulingStatus SchedulingStatus
}

// Fresh returns the fresh estimate when there is one
func (r BinRiskRow) Fresh() (FreshForecast, bool) {
	f, ok := r.Forecast.(FreshForecast)
	return f, ok
}

// EstimatedFill is the estimate for fresh rows and the last observed fill otherwise
func (r BinRiskRow) EstimatedFill() float64 {
	switch f := r.Forecast.(type) {
	case FreshForecast:
		return f.EstimatedFill
	case StaleForecast:
		return float64(f.LastFill)
	case UnknownForecast:
		return float64(f.LastFill)
	}
	return 0
}

// Growth is nil unless the row is fresh
func (r BinRiskRow) Growth() *float64 {
	if f, ok := r.Fresh(); ok {
		g := f.Growth
		return &g
	}
	return nil
}

// DaysToThreshold is nil unless the row is fresh and the threshold is reachable
func (r BinRiskRow) DaysToThreshold() *int {
	if f, ok := r.Fresh(); ok && f.Reachable {
		d := f.DaysToThreshold
		return &d
	}
	return nil
}

// Tier is empty for rows without a fresh estimate
func (r BinRiskRow) Tier() RiskTier {
	if f, ok := r.Fresh(); ok {
		return f.Tier
	}
	return ""
}

// AutoSelected is true for high-risk bins with no future stop
func (r BinRiskRow) AutoSelected() bool {
	return r.Tier() == RiskHigh && r.SchedulingStatus == StatusNotScheduled
}

// StatusNote is the human-readable forecast state
func (r BinRiskRow) StatusNote() string {
	switch r.Forecast.(type) {
	case StaleForecast:
		return "Collection done, pending refresh"
	case UnknownForecast:
		return "Awaiting first prediction"
	}
	return ""
}

type binRiskRowJSON struct {
	BinID            string           `json:"bin_id"`
	BinNumber        int              `json:"bin_number"`
	CurrentStreet    string           `json:"current_street"`
	Region           string           `json:"region"`
	LastCollectedIso string           `json:"last_collected_iso"`
	GrowthRate       *float64         `json:"growth_rate"`
	EstimatedFill    float64          `json:"estimated_fill"`
	DaysToThreshold  *int             `json:"days_to_threshold"`
	RiskTier         RiskTier         `json:"risk_tier,omitempty"`
	SchedulingStatus SchedulingStatus `json:"scheduling_status"`
	AutoSelected     bool             `json:"auto_selected"`
	StatusNote       string           `json:"status_note,omitempty"`
}

func (r BinRiskRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(binRiskRowJSON{
		BinID:            r.BinID,
		BinNumber:        r.BinNumber,
		CurrentStreet:    r.CurrentStreet,
		Region:           r.Region,
		LastCollectedIso: r.LastCollectedAt.Format(time.RFC3339),
		GrowthRate:       r.Growth(),
		EstimatedFill:    r.EstimatedFill(),
		DaysToThreshold:  r.DaysToThreshold(),
		RiskTier:         r.Tier(),
		SchedulingStatus: r.SchedulingStatus,
		AutoSelected:     r.AutoSelected(),
		StatusNote:       r.StatusNote(),
	})
}
