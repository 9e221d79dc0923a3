package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"binfleet-backend/internal/events"
	"binfleet-backend/internal/forecast"
	"binfleet-backend/internal/lock"
	"binfleet-backend/internal/metrics"
	"binfleet-backend/internal/models"
	"binfleet-backend/internal/services/routing"
	"binfleet-backend/internal/store"
)

const (
	planDateLayout = "2006-01-02"
	assignLockTTL  = time.Minute
	// solveTimeout bounds a shared solve detached from the first caller
	solveTimeout = time.Minute
)

var (
	ErrInvalidPlanDate = errors.New("plan date must be YYYY-MM-DD")
	ErrUnknownOfficer  = errors.New("assignment targets an unknown officer")
)

// PlannerConfig is the routing policy the planner runs with
type PlannerConfig struct {
	Depot         routing.Location
	Options       routing.Options
	PlannedOffset time.Duration // time of day (UTC) stamped on new stops
}

// PlanPreview is what an admin reviews before assigning officers
type PlanPreview struct {
	Date     string                 `json:"date"`
	Existing bool                   `json:"existing"`
	Groups   []routing.PlannedGroup `json:"groups"`
	Dropped  []string               `json:"dropped"`
	Excluded []string               `json:"excluded"`
	Officers []models.User          `json:"officers"`
}

// Planner turns the routing candidates for a date into a solved plan and
// persists officer assignments for it.
type Planner struct {
	repo      store.Repository
	locker    lock.Locker
	cache     *routing.PlanCache
	notifier  Notifier
	publisher events.Publisher
	cfg       PlannerConfig
	now       func() time.Time

	solves singleflight.Group
}

func NewPlanner(repo store.Repository, locker lock.Locker, cache *routing.PlanCache, notifier Notifier, publisher events.Publisher, cfg PlannerConfig) *Planner {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Planner{
		repo:      repo,
		locker:    locker,
		cache:     cache,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ParsePlanDate validates a YYYY-MM-DD date and returns its UTC midnight
func ParsePlanDate(date string) (time.Time, error) {
	d, err := time.Parse(planDateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPlanDate, date)
	}
	return d, nil
}

// Preview returns the persisted groups for date when they exist, then the
// cached preview, otherwise solves a fresh plan and caches it for assignment.
// Every admin reviewing the same date sees the plan Assign will persist.
func (p *Planner) Preview(ctx context.Context, date string) (PlanPreview, error) {
	if _, err := ParsePlanDate(date); err != nil {
		return PlanPreview{}, err
	}

	officers, err := p.repo.Officers(ctx)
	if err != nil {
		return PlanPreview{}, fmt.Errorf("failed to load officers: %w", err)
	}

	existing, err := p.repo.RouteGroupsForDate(ctx, date)
	if err != nil {
		return PlanPreview{}, fmt.Errorf("failed to load route groups: %w", err)
	}
	if len(existing) > 0 {
		return PlanPreview{
			Date:     date,
			Existing: true,
			Groups:   plannedGroups(existing),
			Dropped:  []string{},
			Excluded: []string{},
			Officers: officers,
		}, nil
	}

	plan, ok := p.cache.Get(date)
	if !ok {
		if plan, err = p.solve(ctx, date); err != nil {
			return PlanPreview{}, err
		}
	}
	return PlanPreview{
		Date:     date,
		Groups:   plan.Groups,
		Dropped:  plan.Dropped,
		Excluded: plan.Excluded,
		Officers: officers,
	}, nil
}

// solve runs one search per date at a time; concurrent callers share it
func (p *Planner) solve(ctx context.Context, date string) (routing.Plan, error) {
	ch := p.solves.DoChan(date, func() (interface{}, error) {
		solveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), solveTimeout)
		defer cancel()
		return p.computePlan(solveCtx, date)
	})

	select {
	case <-ctx.Done():
		return routing.Plan{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return routing.Plan{}, res.Err
		}
		return res.Val.(routing.Plan), nil
	}
}

func (p *Planner) computePlan(ctx context.Context, date string) (routing.Plan, error) {
	now := p.now()
	histories, err := forecast.LoadHistories(ctx, p.repo, now)
	if err != nil {
		return routing.Plan{}, fmt.Errorf("failed to load bin histories: %w", err)
	}

	candidates := forecast.RoutingCandidates(histories, now)
	nodes, excluded := routing.NodesFromCandidates(candidates)

	plan := routing.Plan{Date: date, Groups: []routing.PlannedGroup{}, Dropped: []string{}, CreatedAt: now}
	if len(nodes) > 0 {
		mandatory := make([]bool, len(nodes))
		for i, n := range nodes {
			mandatory[i] = n.Mandatory
		}
		problem := routing.Problem{Matrix: routing.BuildMatrix(p.cfg.Depot, nodes), Mandatory: mandatory}

		start := time.Now()
		sol, err := routing.Solve(ctx, problem, p.cfg.Options)
		metrics.SolverDuration.Observe(time.Since(start).Seconds())
		switch {
		case errors.Is(err, routing.ErrNoFeasibleRoute):
			log.Printf("⚠️  [PLAN-ROUTES] No feasible route for %s with %d candidates, returning empty plan", date, len(nodes))
		case err != nil:
			return routing.Plan{}, fmt.Errorf("failed to solve routes: %w", err)
		default:
			plan = routing.BuildPlan(date, nodes, sol)
			metrics.SolverDroppedStops.Add(float64(len(sol.Dropped)))
			log.Printf("✅ [PLAN-ROUTES] %s: %d groups, %d dropped, distance=%dm, iterations=%d", date, len(plan.Groups), len(plan.Dropped), sol.Distance, sol.Iterations)
		}
	}
	plan.Excluded = excluded
	if plan.Excluded == nil {
		plan.Excluded = []string{}
	}

	p.cache.Set(plan)
	if err := p.publisher.Publish(ctx, events.New(events.TypeRoutePlanSolved, date, plan)); err != nil {
		log.Printf("⚠️  [PLAN-ROUTES] Failed to publish plan event: %v", err)
	}
	return plan, nil
}

// Assign persists the plan for date (creating groups only if none exist)
// and attaches officers by slot. Held under the per-date lock.
func (p *Planner) Assign(ctx context.Context, date string, assignments map[int]string, assignedBy string) (store.SaveResult, error) {
	day, err := ParsePlanDate(date)
	if err != nil {
		return store.SaveResult{}, err
	}
	if err := p.validateOfficers(ctx, assignments); err != nil {
		return store.SaveResult{}, err
	}

	release, err := p.locker.Acquire(ctx, lock.RoutePlanKey(date), assignLockTTL)
	if err != nil {
		return store.SaveResult{}, fmt.Errorf("failed to lock route plan %s: %w", date, err)
	}
	defer release()

	existing, err := p.repo.RouteGroupsForDate(ctx, date)
	if err != nil {
		return store.SaveResult{}, fmt.Errorf("failed to load route groups: %w", err)
	}

	write := store.PlanWrite{
		Date:        date,
		PlannedAt:   day.Add(p.cfg.PlannedOffset).Unix(),
		Assignments: assignments,
		AssignedBy:  assignedBy,
	}
	if len(existing) == 0 {
		plan, ok := p.cache.Get(date)
		if !ok {
			if plan, err = p.solve(ctx, date); err != nil {
				return store.SaveResult{}, err
			}
		}
		for _, g := range plan.Groups {
			gw := store.GroupWrite{Slot: g.Slot}
			for _, s := range g.Stops {
				gw.BinIDs = append(gw.BinIDs, s.BinID)
			}
			write.Groups = append(write.Groups, gw)
		}
	}

	result, err := p.repo.SaveRoutePlan(ctx, write)
	if err != nil {
		return store.SaveResult{}, err
	}
	p.cache.Invalidate(date)

	kind := "reassigned"
	if result.Created {
		kind = "created"
	}
	metrics.RoutePlansSaved.WithLabelValues(kind).Inc()
	log.Printf("✅ [ASSIGN-ROUTES] %s %s: %d groups, %d stops, %d assignments", date, kind, result.GroupsCreated, result.StopsCreated, result.AssignmentsUpdated)

	p.notifyAssigned(ctx, date, assignments, result.IgnoredSlots)
	if err := p.publisher.Publish(ctx, events.New(events.TypeRoutesAssigned, date, result)); err != nil {
		log.Printf("⚠️  [ASSIGN-ROUTES] Failed to publish assignment event: %v", err)
	}
	return result, nil
}

// Plan returns the persisted route groups for date
func (p *Planner) Plan(ctx context.Context, date string) ([]models.RouteGroupDetail, error) {
	if _, err := ParsePlanDate(date); err != nil {
		return nil, err
	}
	groups, err := p.repo.RouteGroupsForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load route groups: %w", err)
	}
	if groups == nil {
		groups = []models.RouteGroupDetail{}
	}
	return groups, nil
}

func (p *Planner) validateOfficers(ctx context.Context, assignments map[int]string) error {
	if len(assignments) == 0 {
		return nil
	}
	officers, err := p.repo.Officers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load officers: %w", err)
	}
	known := make(map[string]bool, len(officers))
	for _, o := range officers {
		known[o.ID] = true
	}
	for slot, id := range assignments {
		if id != "" && !known[id] {
			return fmt.Errorf("%w: slot %d -> %s", ErrUnknownOfficer, slot, id)
		}
	}
	return nil
}

// notifyAssigned pushes each assigned officer their group. Failures are logged.
func (p *Planner) notifyAssigned(ctx context.Context, date string, assignments map[int]string, ignored []int) {
	skip := make(map[int]bool, len(ignored))
	for _, s := range ignored {
		skip[s] = true
	}

	groups, err := p.repo.RouteGroupsForDate(ctx, date)
	if err != nil {
		log.Printf("⚠️  [ASSIGN-ROUTES] Skipping notifications, failed to reload groups: %v", err)
		return
	}

	var officerIDs []string
	for slot, id := range assignments {
		if !skip[slot] && id != "" {
			officerIDs = append(officerIDs, id)
		}
	}
	if len(officerIDs) == 0 {
		return
	}

	tokens, err := p.repo.FCMTokens(ctx, officerIDs)
	if err != nil {
		log.Printf("⚠️  [ASSIGN-ROUTES] Skipping notifications, failed to load FCM tokens: %v", err)
		return
	}
	byUser := map[string][]string{}
	for _, t := range tokens {
		byUser[t.UserID] = append(byUser[t.UserID], t.Token)
	}

	for _, g := range groups {
		officerID, ok := assignments[g.Slot]
		if !ok || skip[g.Slot] || officerID == "" {
			continue
		}
		notice := RouteNotice{
			OfficerID:    officerID,
			Tokens:       byUser[officerID],
			PlanDate:     date,
			RouteGroupID: g.ID,
			TotalBins:    len(g.Stops),
		}
		if err := p.notifier.NotifyRouteAssigned(ctx, notice); err != nil {
			log.Printf("⚠️  [ASSIGN-ROUTES] Failed to notify officer %s: %v", officerID, err)
		}
	}
}

// plannedGroups presents persisted groups in the same shape as a solved plan
func plannedGroups(details []models.RouteGroupDetail) []routing.PlannedGroup {
	groups := make([]routing.PlannedGroup, 0, len(details))
	for _, d := range details {
		g := routing.PlannedGroup{Slot: d.Slot, Stops: make([]routing.PlannedStop, 0, len(d.Stops))}
		for _, s := range d.Stops {
			stop := routing.PlannedStop{BinID: s.BinID, BinNumber: s.BinNumber, Position: s.SequenceOrder}
			if s.Latitude != nil && s.Longitude != nil {
				stop.Location = routing.Location{Latitude: *s.Latitude, Longitude: *s.Longitude}
			}
			g.Stops = append(g.Stops, stop)
		}
		groups = append(groups, g)
	}
	return groups
}
