package models

import "time"

// Bin statuses. Only active bins are considered by risk and routing.
const (
	BinStatusActive   = "active"
	BinStatusInactive = "inactive"
)

type Bin struct {
	ID            string   `json:"id" db:"id"`
	BinNumber     int      `json:"bin_number" db:"bin_number"`
	CurrentStreet string   `json:"current_street" db:"current_street"`
	Region        string   `json:"region" db:"region"`
	Status        string   `json:"status" db:"status"`
	Latitude      *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude     *float64 `json:"longitude,omitempty" db:"longitude"`
	CreatedAt     int64    `json:"created_at" db:"created_at"` // Unix timestamp
	UpdatedAt     int64    `json:"updated_at" db:"updated_at"` // Unix timestamp
}

// HasCoordinates reports whether the bin can be placed in a distance matrix
func (b *Bin) HasCoordinates() bool {
	return b.Latitude != nil && b.Longitude != nil
}

// CollectionEvent is one physical emptying/measurement of a bin (append-only)
type CollectionEvent struct {
	ID             int64  `json:"id" db:"id"`
	BinID          string `json:"bin_id" db:"bin_id"`
	CollectedAt    int64  `json:"collected_at" db:"collected_at"` // Unix timestamp
	FillPercentage int    `json:"fill_percentage" db:"fill_percentage"`
}

// Time returns the collection timestamp in UTC
func (e CollectionEvent) Time() time.Time {
	return time.Unix(e.CollectedAt, 0).UTC()
}

// GrowthPrediction is a growth-rate estimate for a bin. Never updated, only
// superseded by a newer row (latest predicted_at wins).
type GrowthPrediction struct {
	ID                      string  `json:"id" db:"id"`
	BinID                   string  `json:"bin_id" db:"bin_id"`
	PredictedAvgDailyGrowth float64 `json:"predicted_avg_daily_growth" db:"predicted_avg_daily_growth"`
	PredictedAt             int64   `json:"predicted_at" db:"predicted_at"` // Unix timestamp
	ModelVersion            string  `json:"model_version" db:"model_version"`
}

// Time returns the prediction timestamp in UTC
func (p GrowthPrediction) Time() time.Time {
	return time.Unix(p.PredictedAt, 0).UTC()
}
