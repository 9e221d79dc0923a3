package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"binfleet-backend/internal/models"
)

// Memory is an in-process Repository used by tests and when no DATABASE_URL is set.
type Memory struct {
	mu          sync.Mutex
	bins        map[string]models.Bin
	events      map[string][]models.CollectionEvent  // bin id -> events, oldest first
	predictions map[string][]models.GrowthPrediction // bin id -> predictions, insertion order
	groups      map[string][]models.RouteGroup       // plan date -> groups
	stops       map[string][]models.ScheduledStop    // route group id -> stops
	assignments map[string]models.RouteAssignment    // route group id -> assignment
	users       map[string]models.User
	tokens      []models.FCMToken
	nextEventID int64
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		bins:        map[string]models.Bin{},
		events:      map[string][]models.CollectionEvent{},
		predictions: map[string][]models.GrowthPrediction{},
		groups:      map[string][]models.RouteGroup{},
		stops:       map[string][]models.ScheduledStop{},
		assignments: map[string]models.RouteAssignment{},
		users:       map[string]models.User{},
	}
}

func (m *Memory) ActiveBins(ctx context.Context) ([]models.Bin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.Bin{}
	for _, b := range m.bins {
		if b.Status == models.BinStatusActive {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BinNumber < out[j].BinNumber })
	return out, nil
}

// newestFirst returns up to n events for a bin, newest first. Caller holds mu.
func (m *Memory) newestFirst(binID string, n int) []models.CollectionEvent {
	all := m.events[binID]
	out := make([]models.CollectionEvent, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out
}

func (m *Memory) RecentCollectionEvents(ctx context.Context, perBin int) (map[string][]models.CollectionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]models.CollectionEvent, len(m.events))
	for binID := range m.events {
		out[binID] = m.newestFirst(binID, perBin)
	}
	return out, nil
}

func (m *Memory) RecentEventsForBin(ctx context.Context, binID string, n int) ([]models.CollectionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newestFirst(binID, n), nil
}

// latest picks the newest prediction by timestamp. Caller holds mu.
func (m *Memory) latest(binID string) (models.GrowthPrediction, bool) {
	var best models.GrowthPrediction
	found := false
	for _, p := range m.predictions[binID] {
		if !found || p.PredictedAt >= best.PredictedAt {
			best = p
			found = true
		}
	}
	return best, found
}

func (m *Memory) LatestPredictions(ctx context.Context) (map[string]models.GrowthPrediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.GrowthPrediction, len(m.predictions))
	for binID := range m.predictions {
		if p, ok := m.latest(binID); ok {
			out[binID] = p
		}
	}
	return out, nil
}

func (m *Memory) LatestPrediction(ctx context.Context, binID string) (*models.GrowthPrediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.latest(binID)
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) InsertPrediction(ctx context.Context, p *models.GrowthPrediction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.predictions[p.BinID] {
		if existing.PredictedAt == p.PredictedAt {
			return false, nil
		}
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	m.predictions[p.BinID] = append(m.predictions[p.BinID], *p)
	return true, nil
}

// NextScheduledStops returns, per bin, the earliest stop planned on or after
// from and strictly after the bin's latest collection
func (m *Memory) NextScheduledStops(ctx context.Context, from time.Time) (map[string]models.ScheduledStop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := map[string]models.ScheduledStop{}
	for _, stops := range m.stops {
		for _, s := range stops {
			if s.PlannedAt < from.Unix() {
				continue
			}
			if events := m.events[s.BinID]; len(events) > 0 && s.PlannedAt <= events[len(events)-1].CollectedAt {
				continue
			}
			if cur, ok := out[s.BinID]; !ok || s.PlannedAt < cur.PlannedAt {
				out[s.BinID] = s
			}
		}
	}
	return out, nil
}

func (m *Memory) RouteGroupsForDate(ctx context.Context, date string) ([]models.RouteGroupDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detailsForDate(date), nil
}

// detailsForDate joins groups with stops, bins and assignments. Caller holds mu.
func (m *Memory) detailsForDate(date string) []models.RouteGroupDetail {
	out := []models.RouteGroupDetail{}
	for _, g := range m.groups[date] {
		d := models.RouteGroupDetail{RouteGroup: g, Stops: []models.StopWithBin{}}
		for _, s := range m.stops[g.ID] {
			b := m.bins[s.BinID]
			d.Stops = append(d.Stops, models.StopWithBin{
				ScheduledStop: s,
				BinNumber:     b.BinNumber,
				CurrentStreet: b.CurrentStreet,
				Region:        b.Region,
				Latitude:      b.Latitude,
				Longitude:     b.Longitude,
			})
		}
		if a, ok := m.assignments[g.ID]; ok {
			a := a
			d.Assignment = &a
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

func (m *Memory) SaveRoutePlan(ctx context.Context, plan PlanWrite) (SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := SaveResult{IgnoredSlots: []int{}}
	now := time.Now().Unix()

	existing := m.groups[plan.Date]
	if len(existing) == 0 {
		var groups []models.RouteGroup
		stops := map[string][]models.ScheduledStop{}
		for _, gw := range plan.Groups {
			if len(gw.BinIDs) == 0 {
				continue
			}
			g := models.RouteGroup{ID: uuid.New().String(), PlanDate: plan.Date, Slot: gw.Slot, CreatedAt: now}
			for i, binID := range gw.BinIDs {
				if _, ok := m.bins[binID]; !ok {
					return SaveResult{}, fmt.Errorf("failed to create stop for bin %s: %w", binID, ErrNotFound)
				}
				stops[g.ID] = append(stops[g.ID], models.ScheduledStop{
					ID:            uuid.New().String(),
					RouteGroupID:  g.ID,
					BinID:         binID,
					SequenceOrder: i + 1,
					PlannedAt:     plan.PlannedAt,
					CreatedAt:     now,
				})
				result.StopsCreated++
			}
			groups = append(groups, g)
		}
		if len(groups) > 0 {
			m.groups[plan.Date] = groups
			for id, s := range stops {
				m.stops[id] = s
			}
			existing = groups
			result.Created = true
			result.GroupsCreated = len(groups)
		}
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
		a, ok := m.assignments[g.ID]
		if !ok {
			a = models.RouteAssignment{ID: uuid.New().String(), RouteGroupID: g.ID, AssignedAt: now}
		}
		a.AssignedTo = officerID
		a.AssignedBy = plan.AssignedBy
		a.UpdatedAt = now
		m.assignments[g.ID] = a
		result.AssignmentsUpdated++
	}

	return result, nil
}

func (m *Memory) Officers(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.User{}
	for _, u := range m.users {
		if u.Role == models.RoleOfficer {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) FCMTokens(ctx context.Context, userIDs []string) ([]models.FCMToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	out := []models.FCMToken{}
	for _, t := range m.tokens {
		if want[t.UserID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) CountBins(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bins), nil
}

func (m *Memory) CreateBin(ctx context.Context, bin *models.Bin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bins {
		if b.BinNumber == bin.BinNumber {
			return fmt.Errorf("bin number %d already exists", bin.BinNumber)
		}
	}
	if bin.ID == "" {
		bin.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	bin.CreatedAt, bin.UpdatedAt = now, now
	m.bins[bin.ID] = *bin
	return nil
}

func (m *Memory) UpdateBinLocation(ctx context.Context, binID string, lat, lng float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bins[binID]
	if !ok {
		return fmt.Errorf("failed to update location for bin %s: %w", binID, ErrNotFound)
	}
	b.Latitude, b.Longitude = &lat, &lng
	b.UpdatedAt = time.Now().Unix()
	m.bins[binID] = b
	return nil
}

func (m *Memory) RecordCollection(ctx context.Context, event *models.CollectionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bins[event.BinID]; !ok {
		return fmt.Errorf("failed to record collection for bin %s: %w", event.BinID, ErrNotFound)
	}
	m.nextEventID++
	event.ID = m.nextEventID

	events := append(m.events[event.BinID], *event)
	sort.SliceStable(events, func(i, j int) bool { return events[i].CollectedAt < events[j].CollectedAt })
	m.events[event.BinID] = events
	return nil
}

func (m *Memory) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	user.CreatedAt, user.UpdatedAt = now, now
	m.users[user.ID] = *user
	return nil
}

func (m *Memory) RegisterFCMToken(ctx context.Context, token *models.FCMToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	for i, t := range m.tokens {
		if t.Token == token.Token {
			m.tokens[i].UserID = token.UserID
			m.tokens[i].DeviceType = token.DeviceType
			m.tokens[i].UpdatedAt = now
			return nil
		}
	}
	token.ID = len(m.tokens) + 1
	token.CreatedAt, token.UpdatedAt = now, now
	m.tokens = append(m.tokens, *token)
	return nil
}

func sortedSlots(assignments map[int]string) []int {
	slots := make([]int, 0, len(assignments))
	for slot := range assignments {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots
}
