package store

import (
	"context"
	"errors"

	"binfleet-backend/internal/forecast"
	"binfleet-backend/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Repository is the relational history store consumed by the engine,
// the refresh orchestrator and route persistence.
type Repository interface {
	forecast.HistoryReader

	// Per-bin reads used to re-check staleness under the bin lock
	RecentEventsForBin(ctx context.Context, binID string, n int) ([]models.CollectionEvent, error)
	LatestPrediction(ctx context.Context, binID string) (*models.GrowthPrediction, error)

	// InsertPrediction appends a prediction. inserted is false when a row for
	// the same bin and timestamp already exists.
	InsertPrediction(ctx context.Context, p *models.GrowthPrediction) (inserted bool, err error)

	RouteGroupsForDate(ctx context.Context, date string) ([]models.RouteGroupDetail, error)
	SaveRoutePlan(ctx context.Context, plan PlanWrite) (SaveResult, error)

	Officers(ctx context.Context) ([]models.User, error)
	FCMTokens(ctx context.Context, userIDs []string) ([]models.FCMToken, error)

	// Write side used by the fixture builder and ingestion
	CountBins(ctx context.Context) (int, error)
	CreateBin(ctx context.Context, bin *models.Bin) error
	UpdateBinLocation(ctx context.Context, binID string, lat, lng float64) error
	RecordCollection(ctx context.Context, event *models.CollectionEvent) error
	CreateUser(ctx context.Context, user *models.User) error
	RegisterFCMToken(ctx context.Context, token *models.FCMToken) error
}

// GroupWrite is one solved officer slot with its ordered bin ids
type GroupWrite struct {
	Slot   int
	BinIDs []string
}

// PlanWrite is a whole day's plan handed to SaveRoutePlan.
// Groups are only used when no groups exist yet for Date.
type PlanWrite struct {
	Date        string // YYYY-MM-DD
	PlannedAt   int64  // Unix time stamped on every new stop
	Groups      []GroupWrite
	Assignments map[int]string // slot -> officer user id
	AssignedBy  string
}

// SaveResult reports what SaveRoutePlan did for the date
type SaveResult struct {
	Created            bool  `json:"created"`
	GroupsCreated      int   `json:"groups_created"`
	StopsCreated       int   `json:"stops_created"`
	AssignmentsUpdated int   `json:"updated"`
	IgnoredSlots       []int `json:"ignored_slots"`
}
