package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"binfleet-backend/internal/models"
)

const foreignKeyViolation = "23503"

// Postgres is the sqlx-backed Repository
type Postgres struct {
	db *sqlx.DB
}

var _ Repository = (*Postgres)(nil)

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) ActiveBins(ctx context.Context) ([]models.Bin, error) {
	var bins []models.Bin
	query := `
		SELECT id, bin_number, current_street, region, status, latitude, longitude, created_at, updated_at
		FROM bins
		WHERE status = $1
		ORDER BY bin_number
	`
	if err := p.db.SelectContext(ctx, &bins, query, models.BinStatusActive); err != nil {
		return nil, fmt.Errorf("failed to select active bins: %w", err)
	}
	return bins, nil
}

func (p *Postgres) RecentCollectionEvents(ctx context.Context, perBin int) (map[string][]models.CollectionEvent, error) {
	var events []models.CollectionEvent
	query := `
		SELECT id, bin_id, collected_at, fill_percentage
		FROM (
			SELECT ce.id, ce.bin_id, ce.collected_at, ce.fill_percentage,
				ROW_NUMBER() OVER (PARTITION BY ce.bin_id ORDER BY ce.collected_at DESC, ce.id DESC) AS rn
			FROM collection_events ce
		) ranked
		WHERE rn <= $1
		ORDER BY bin_id, collected_at DESC, id DESC
	`
	if err := p.db.SelectContext(ctx, &events, query, perBin); err != nil {
		return nil, fmt.Errorf("failed to select collection events: %w", err)
	}

	out := make(map[string][]models.CollectionEvent)
	for _, e := range events {
		out[e.BinID] = append(out[e.BinID], e)
	}
	return out, nil
}

func (p *Postgres) RecentEventsForBin(ctx context.Context, binID string, n int) ([]models.CollectionEvent, error) {
	var events []models.CollectionEvent
	query := `
		SELECT id, bin_id, collected_at, fill_percentage
		FROM collection_events
		WHERE bin_id = $1
		ORDER BY collected_at DESC, id DESC
		LIMIT $2
	`
	if err := p.db.SelectContext(ctx, &events, query, binID, n); err != nil {
		return nil, fmt.Errorf("failed to select events for bin %s: %w", binID, err)
	}
	return events, nil
}

func (p *Postgres) LatestPredictions(ctx context.Context) (map[string]models.GrowthPrediction, error) {
	var predictions []models.GrowthPrediction
	query := `
		SELECT DISTINCT ON (bin_id) id, bin_id, predicted_avg_daily_growth, predicted_at, model_version
		FROM growth_predictions
		ORDER BY bin_id, predicted_at DESC
	`
	if err := p.db.SelectContext(ctx, &predictions, query); err != nil {
		return nil, fmt.Errorf("failed to select latest predictions: %w", err)
	}

	out := make(map[string]models.GrowthPrediction, len(predictions))
	for _, pr := range predictions {
		out[pr.BinID] = pr
	}
	return out, nil
}

func (p *Postgres) LatestPrediction(ctx context.Context, binID string) (*models.GrowthPrediction, error) {
	var pr models.GrowthPrediction
	query := `
		SELECT id, bin_id, predicted_avg_daily_growth, predicted_at, model_version
		FROM growth_predictions
		WHERE bin_id = $1
		ORDER BY predicted_at DESC
		LIMIT 1
	`
	err := p.db.GetContext(ctx, &pr, query, binID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest prediction for bin %s: %w", binID, err)
	}
	return &pr, nil
}

func (p *Postgres) InsertPrediction(ctx context.Context, pr *models.GrowthPrediction) (bool, error) {
	if pr.ID == "" {
		pr.ID = uuid.New().String()
	}
	query := `
		INSERT INTO growth_predictions (id, bin_id, predicted_avg_daily_growth, predicted_at, model_version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (bin_id, predicted_at) DO NOTHING
	`
	res, err := p.db.ExecContext(ctx, query, pr.ID, pr.BinID, pr.PredictedAvgDailyGrowth, pr.PredictedAt, pr.ModelVersion)
	if err != nil {
		return false, fmt.Errorf("failed to insert prediction for bin %s: %w", pr.BinID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// NextScheduledStops returns, per bin, the earliest stop planned on or after
// from and strictly after the bin's latest collection
func (p *Postgres) NextScheduledStops(ctx context.Context, from time.Time) (map[string]models.ScheduledStop, error) {
	var stops []models.ScheduledStop
	query := `
		SELECT DISTINCT ON (s.bin_id) s.id, s.route_group_id, s.bin_id, s.sequence_order, s.planned_at, s.created_at
		FROM scheduled_stops s
		LEFT JOIN (
			SELECT bin_id, MAX(collected_at) AS last_collected_at
			FROM collection_events
			GROUP BY bin_id
		) lc ON lc.bin_id = s.bin_id
		WHERE s.planned_at >= $1
			AND (lc.last_collected_at IS NULL OR s.planned_at > lc.last_collected_at)
		ORDER BY s.bin_id, s.planned_at ASC
	`
	if err := p.db.SelectContext(ctx, &stops, query, from.Unix()); err != nil {
		return nil, fmt.Errorf("failed to select scheduled stops: %w", err)
	}

	out := make(map[string]models.ScheduledStop, len(stops))
	for _, s := range stops {
		out[s.BinID] = s
	}
	return out, nil
}

func (p *Postgres) RouteGroupsForDate(ctx context.Context, date string) ([]models.RouteGroupDetail, error) {
	return routeGroupsForDate(ctx, p.db, date)
}

// routeGroupsForDate runs against the pool or inside a transaction
func routeGroupsForDate(ctx context.Context, q sqlx.QueryerContext, date string) ([]models.RouteGroupDetail, error) {
	var groups []models.RouteGroup
	if err := sqlx.SelectContext(ctx, q, &groups, `
		SELECT id, plan_date, slot, created_at
		FROM route_groups
		WHERE plan_date = $1
		ORDER BY slot
	`, date); err != nil {
		return nil, fmt.Errorf("failed to select route groups: %w", err)
	}

	details := make([]models.RouteGroupDetail, 0, len(groups))
	if len(groups) == 0 {
		return details, nil
	}

	ids := make([]string, len(groups))
	index := make(map[string]int, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
		index[g.ID] = i
		details = append(details, models.RouteGroupDetail{RouteGroup: g, Stops: []models.StopWithBin{}})
	}

	var stops []models.StopWithBin
	if err := sqlx.SelectContext(ctx, q, &stops, `
		SELECT s.id, s.route_group_id, s.bin_id, s.sequence_order, s.planned_at, s.created_at,
			b.bin_number, b.current_street, b.region, b.latitude, b.longitude
		FROM scheduled_stops s
		JOIN bins b ON b.id = s.bin_id
		WHERE s.route_group_id = ANY($1)
		ORDER BY s.route_group_id, s.sequence_order
	`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to select scheduled stops: %w", err)
	}
	for _, s := range stops {
		i := index[s.RouteGroupID]
		details[i].Stops = append(details[i].Stops, s)
	}

	var assignments []models.RouteAssignment
	if err := sqlx.SelectContext(ctx, q, &assignments, `
		SELECT id, route_group_id, assigned_to, assigned_by, assigned_at, updated_at
		FROM route_assignments
		WHERE route_group_id = ANY($1)
	`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to select route assignments: %w", err)
	}
	for _, a := range assignments {
		a := a
		details[index[a.RouteGroupID]].Assignment = &a
	}

	return details, nil
}

// SaveRoutePlan writes a day's plan in one transaction. A transaction-scoped
// advisory lock keyed by the date serialises concurrent writers, and
// UNIQUE(plan_date, slot) backs it up.
func (p *Postgres) SaveRoutePlan(ctx context.Context, plan PlanWrite) (SaveResult, error) {
	result := SaveResult{IgnoredSlots: []int{}}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "route_plan:"+plan.Date); err != nil {
		return result, fmt.Errorf("failed to lock plan date %s: %w", plan.Date, err)
	}

	var existing []models.RouteGroup
	if err := tx.SelectContext(ctx, &existing, `
		SELECT id, plan_date, slot, created_at FROM route_groups WHERE plan_date = $1
	`, plan.Date); err != nil {
		return result, fmt.Errorf("failed to select route groups: %w", err)
	}

	now := time.Now().Unix()

	if len(existing) == 0 {
		for _, gw := range plan.Groups {
			if len(gw.BinIDs) == 0 {
				continue
			}
			g := models.RouteGroup{ID: uuid.New().String(), PlanDate: plan.Date, Slot: gw.Slot, CreatedAt: now}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO route_groups (id, plan_date, slot, created_at) VALUES ($1, $2, $3, $4)
			`, g.ID, g.PlanDate, g.Slot, g.CreatedAt); err != nil {
				return SaveResult{}, fmt.Errorf("failed to create route group %d: %w", gw.Slot, err)
			}

			for i, binID := range gw.BinIDs {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO scheduled_stops (id, route_group_id, bin_id, sequence_order, planned_at, created_at)
					VALUES ($1, $2, $3, $4, $5, $6)
				`, uuid.New().String(), g.ID, binID, i+1, plan.PlannedAt, now); err != nil {
					return SaveResult{}, fmt.Errorf("failed to create stop %d of group %d: %w", i+1, gw.Slot, err)
				}
				result.StopsCreated++
			}

			existing = append(existing, g)
			result.GroupsCreated++
		}
		result.Created = result.GroupsCreated > 0
	}

	bySlot := make(map[int]models.RouteGroup, len(existing))
	for _, g := range existing {
		bySlot[g.Slot] = g
	}

	for _, slot := range sortedSlots(plan.Assignments) {
		officerID := plan.Assignments[slot]
		g, ok := bySlot[slot]
		if !ok || officerID == "" {
			result.IgnoredSlots = append(result.IgnoredSlots, slot)
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO route_assignments (id, route_group_id, assigned_to, assigned_by, assigned_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (route_group_id) DO UPDATE
			SET assigned_to = EXCLUDED.assigned_to,
				assigned_by = EXCLUDED.assigned_by,
				updated_at = EXCLUDED.updated_at
		`, uuid.New().String(), g.ID, officerID, plan.AssignedBy, now); err != nil {
			return SaveResult{}, fmt.Errorf("failed to assign slot %d: %w", slot, err)
		}
		result.AssignmentsUpdated++
	}

	if err := tx.Commit(); err != nil {
		return SaveResult{}, fmt.Errorf("failed to commit route plan: %w", err)
	}

	if len(result.IgnoredSlots) > 0 {
		log.Printf("⚠️  [ASSIGN-ROUTES] %s: ignored unknown slots %v", plan.Date, result.IgnoredSlots)
	}
	return result, nil
}

func (p *Postgres) Officers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	query := `
		SELECT id, email, name, role, created_at, updated_at
		FROM users
		WHERE role = $1
		ORDER BY name
	`
	if err := p.db.SelectContext(ctx, &users, query, models.RoleOfficer); err != nil {
		return nil, fmt.Errorf("failed to select officers: %w", err)
	}
	return users, nil
}

func (p *Postgres) FCMTokens(ctx context.Context, userIDs []string) ([]models.FCMToken, error) {
	var tokens []models.FCMToken
	if len(userIDs) == 0 {
		return tokens, nil
	}
	query := `
		SELECT id, user_id, token, device_type, created_at, updated_at
		FROM fcm_tokens
		WHERE user_id = ANY($1)
	`
	if err := p.db.SelectContext(ctx, &tokens, query, pq.Array(userIDs)); err != nil {
		return nil, fmt.Errorf("failed to select FCM tokens: %w", err)
	}
	return tokens, nil
}

func (p *Postgres) CountBins(ctx context.Context) (int, error) {
	var count int
	if err := p.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM bins`); err != nil {
		return 0, fmt.Errorf("failed to count bins: %w", err)
	}
	return count, nil
}

func (p *Postgres) CreateBin(ctx context.Context, bin *models.Bin) error {
	if bin.ID == "" {
		bin.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	bin.CreatedAt, bin.UpdatedAt = now, now

	query := `
		INSERT INTO bins (id, bin_number, current_street, region, status, latitude, longitude, created_at, updated_at)
		VALUES (:id, :bin_number, :current_street, :region, :status, :latitude, :longitude, :created_at, :updated_at)
	`
	if _, err := p.db.NamedExecContext(ctx, query, bin); err != nil {
		return fmt.Errorf("failed to create bin %d: %w", bin.BinNumber, err)
	}
	return nil
}

func (p *Postgres) UpdateBinLocation(ctx context.Context, binID string, lat, lng float64) error {
	query := `
		UPDATE bins
		SET latitude = $1, longitude = $2, updated_at = $3
		WHERE id = $4
	`
	res, err := p.db.ExecContext(ctx, query, lat, lng, time.Now().Unix(), binID)
	if err != nil {
		return fmt.Errorf("failed to update location for bin %s: %w", binID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update location for bin %s: %w", binID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) RecordCollection(ctx context.Context, event *models.CollectionEvent) error {
	query := `
		INSERT INTO collection_events (bin_id, collected_at, fill_percentage)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	if err := p.db.QueryRowxContext(ctx, query, event.BinID, event.CollectedAt, event.FillPercentage).Scan(&event.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return fmt.Errorf("failed to record collection for bin %s: %w", event.BinID, ErrNotFound)
		}
		return fmt.Errorf("failed to record collection for bin %s: %w", event.BinID, err)
	}
	return nil
}

func (p *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	user.CreatedAt, user.UpdatedAt = now, now

	query := `
		INSERT INTO users (id, email, name, role, created_at, updated_at)
		VALUES (:id, :email, :name, :role, :created_at, :updated_at)
	`
	if _, err := p.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.Email, err)
	}
	return nil
}

func (p *Postgres) RegisterFCMToken(ctx context.Context, token *models.FCMToken) error {
	now := time.Now().Unix()
	token.CreatedAt, token.UpdatedAt = now, now

	query := `
		INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id,
			device_type = EXCLUDED.device_type,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	if err := p.db.QueryRowxContext(ctx, query, token.UserID, token.Token, token.DeviceType, now).Scan(&token.ID); err != nil {
		return fmt.Errorf("failed to register FCM token: %w", err)
	}
	return nil
}
