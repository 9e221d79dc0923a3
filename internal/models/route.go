package models

// RouteGroup is one officer slot's ordered set of stops for a planned date
type RouteGroup struct {
	ID        string `json:"id" db:"id"`
	PlanDate  string `json:"plan_date" db:"plan_date"` // YYYY-MM-DD
	Slot      int    `json:"slot" db:"slot"`           // 1-based officer slot
	CreatedAt int64  `json:"created_at" db:"created_at"`
}

// ScheduledStop is a planned collection of a bin inside a route group
type ScheduledStop struct {
	ID            string `json:"id" db:"id"`
	RouteGroupID  string `json:"route_group_id" db:"route_group_id"`
	BinID         string `json:"bin_id" db:"bin_id"`
	SequenceOrder int    `json:"sequence_order" db:"sequence_order"`
	PlannedAt     int64  `json:"planned_at" db:"planned_at"` // Unix timestamp
	CreatedAt     int64  `json:"created_at" db:"created_at"`
}

// RouteAssignment attaches an officer to a route group (at most one per group)
type RouteAssignment struct {
	ID           string `json:"id" db:"id"`
	RouteGroupID string `json:"route_group_id" db:"route_group_id"`
	AssignedTo   string `json:"assigned_to" db:"assigned_to"`
	AssignedBy   string `json:"assigned_by" db:"assigned_by"`
	AssignedAt   int64  `json:"assigned_at" db:"assigned_at"`
	UpdatedAt    int64  `json:"updated_at" db:"updated_at"`
}

// StopWithBin is a scheduled stop joined with the bin it visits
type StopWithBin struct {
	ScheduledStop
	BinNumber     int      `json:"bin_number" db:"bin_number"`
	CurrentStreet string   `json:"current_street" db:"current_street"`
	Region        string   `json:"region" db:"region"`
	Latitude      *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude     *float64 `json:"longitude,omitempty" db:"longitude"`
}

// RouteGroupDetail is a persisted route group with its stops and assignment
type RouteGroupDetail struct {
	RouteGroup
	Stops      []StopWithBin    `json:"stops"`
	Assignment *RouteAssignment `json:"assignment,omitempty"`
}
