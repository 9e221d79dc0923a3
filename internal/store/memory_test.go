package store

import (
	"context"
	"testing"
	"time"

	"binfleet-backend/internal/forecast"
	"binfleet-backend/internal/models"
)

func seedBins(t *testing.T, m *Memory, n int) []models.Bin {
	t.Helper()
	ctx := context.Background()
	bins := make([]models.Bin, 0, n)
	for i := 1; i <= n; i++ {
		lat, lng := 37.33+float64(i)*0.001, -121.88
		b := models.Bin{BinNumber: i, CurrentStreet: "Main St", Region: "95113", Status: models.BinStatusActive, Latitude: &lat, Longitude: &lng}
		if err := m.CreateBin(ctx, &b); err != nil {
			t.Fatalf("create bin: %v", err)
		}
		bins = append(bins, b)
	}
	return bins
}

func TestSaveRoutePlanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	bins := seedBins(t, m, 4)

	officer := models.User{Name: "Ana", Email: "ana@example.com", Role: models.RoleOfficer}
	if err := m.CreateUser(ctx, &officer); err != nil {
		t.Fatalf("create user: %v", err)
	}

	plan := PlanWrite{
		Date:      "2026-03-11",
		PlannedAt: time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC).Unix(),
		Groups: []GroupWrite{
			{Slot: 1, BinIDs: []string{bins[0].ID, bins[1].ID}},
			{Slot: 2, BinIDs: []string{bins[2].ID, bins[3].ID}},
		},
		Assignments: map[int]string{1: officer.ID},
		AssignedBy:  "admin-1",
	}

	first, err := m.SaveRoutePlan(ctx, plan)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if !first.Created || first.GroupsCreated != 2 || first.StopsCreated != 4 || first.AssignmentsUpdated != 1 {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := m.SaveRoutePlan(ctx, plan)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if second.Created || second.StopsCreated != 0 || second.AssignmentsUpdated != 1 {
		t.Fatalf("second save should only update assignments: %+v", second)
	}

	details, err := m.RouteGroupsForDate(ctx, plan.Date)
	if err != nil {
		t.Fatalf("read groups: %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(details))
	}
	total := 0
	for _, d := range details {
		for i, s := range d.Stops {
			if s.SequenceOrder != i+1 {
				t.Fatalf("slot %d: sequence %d at position %d", d.Slot, s.SequenceOrder, i)
			}
		}
		total += len(d.Stops)
	}
	if total != 4 {
		t.Fatalf("expected 4 stops after two saves, got %d", total)
	}
	if details[0].Assignment == nil || details[0].Assignment.AssignedTo != officer.ID {
		t.Fatalf("slot 1 should be assigned to %s", officer.ID)
	}
	if details[1].Assignment != nil {
		t.Fatal("slot 2 should be unassigned")
	}
}

func TestSaveRoutePlanReassignsWithoutTouchingStops(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	bins := seedBins(t, m, 2)

	plan := PlanWrite{
		Date:        "2026-03-12",
		Groups:      []GroupWrite{{Slot: 1, BinIDs: []string{bins[1].ID, bins[0].ID}}},
		Assignments: map[int]string{1: "officer-a"},
	}
	if _, err := m.SaveRoutePlan(ctx, plan); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Different groups on the second call must be ignored
	res, err := m.SaveRoutePlan(ctx, PlanWrite{
		Date:        "2026-03-12",
		Groups:      []GroupWrite{{Slot: 1, BinIDs: []string{bins[0].ID}}},
		Assignments: map[int]string{1: "officer-b", 5: "officer-c"},
	})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if len(res.IgnoredSlots) != 1 || res.IgnoredSlots[0] != 5 {
		t.Fatalf("expected slot 5 ignored, got %v", res.IgnoredSlots)
	}

	details, _ := m.RouteGroupsForDate(ctx, "2026-03-12")
	if len(details[0].Stops) != 2 || details[0].Stops[0].BinID != bins[1].ID {
		t.Fatalf("stops changed on reassignment: %+v", details[0].Stops)
	}
	if details[0].Assignment.AssignedTo != "officer-b" {
		t.Fatalf("expected officer-b, got %s", details[0].Assignment.AssignedTo)
	}
}

func TestSaveRoutePlanIsAtomicOnUnknownBin(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	bins := seedBins(t, m, 1)

	_, err := m.SaveRoutePlan(ctx, PlanWrite{
		Date: "2026-03-13",
		Groups: []GroupWrite{
			{Slot: 1, BinIDs: []string{bins[0].ID}},
			{Slot: 2, BinIDs: []string{"missing"}},
		},
	})
	if err == nil {
		t.Fatal("expected error for unknown bin")
	}
	details, _ := m.RouteGroupsForDate(ctx, "2026-03-13")
	if len(details) != 0 {
		t.Fatalf("no groups should be written, got %d", len(details))
	}
}

func TestLatestPredictionWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	bins := seedBins(t, m, 1)
	id := bins[0].ID

	if _, err := m.LatestPrediction(ctx, id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, p := range []models.GrowthPrediction{
		{BinID: id, PredictedAvgDailyGrowth: 3, PredictedAt: 200},
		{BinID: id, PredictedAvgDailyGrowth: 1, PredictedAt: 100},
	} {
		p := p
		if ok, err := m.InsertPrediction(ctx, &p); err != nil || !ok {
			t.Fatalf("insert: %v %v", ok, err)
		}
	}

	dup := models.GrowthPrediction{BinID: id, PredictedAvgDailyGrowth: 9, PredictedAt: 200}
	if ok, _ := m.InsertPrediction(ctx, &dup); ok {
		t.Fatal("duplicate timestamp must not insert")
	}

	latest, err := m.LatestPrediction(ctx, id)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.PredictedAvgDailyGrowth != 3 {
		t.Fatalf("expected growth 3, got %v", latest.PredictedAvgDailyGrowth)
	}
}

func TestRecentEventsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	bins := seedBins(t, m, 1)

	for _, at := range []int64{300, 100, 200} {
		if err := m.RecordCollection(ctx, &models.CollectionEvent{BinID: bins[0].ID, CollectedAt: at, FillPercentage: 50}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	events, _ := m.RecentCollectionEvents(ctx, 2)
	got := events[bins[0].ID]
	if len(got) != 2 || got[0].CollectedAt != 300 || got[1].CollectedAt != 200 {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestNextScheduledStopSkipsStopsBeforeLatestCollection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	bins := seedBins(t, m, 2)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	todayStop := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	tomorrowStop := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)

	// both bins were on this morning's route, only the first is planned again tomorrow
	if _, err := m.SaveRoutePlan(ctx, PlanWrite{
		Date:      "2026-03-10",
		PlannedAt: todayStop.Unix(),
		Groups:    []GroupWrite{{Slot: 1, BinIDs: []string{bins[0].ID, bins[1].ID}}},
	}); err != nil {
		t.Fatalf("save today: %v", err)
	}
	for _, b := range bins {
		ev := models.CollectionEvent{BinID: b.ID, CollectedAt: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC).Unix(), FillPercentage: 5}
		if err := m.RecordCollection(ctx, &ev); err != nil {
			t.Fatalf("record collection: %v", err)
		}
	}
	if _, err := m.SaveRoutePlan(ctx, PlanWrite{
		Date:      "2026-03-11",
		PlannedAt: tomorrowStop.Unix(),
		Groups:    []GroupWrite{{Slot: 1, BinIDs: []string{bins[0].ID}}},
	}); err != nil {
		t.Fatalf("save tomorrow: %v", err)
	}

	stops, err := m.NextScheduledStops(ctx, forecast.Today(now))
	if err != nil {
		t.Fatalf("next stops: %v", err)
	}
	if s, ok := stops[bins[0].ID]; !ok || s.PlannedAt != tomorrowStop.Unix() {
		t.Fatalf("expected tomorrow's stop for bin 1, got %+v (found=%v)", s, ok)
	}
	if s, ok := stops[bins[1].ID]; ok {
		t.Fatalf("stop before the latest collection should not count, got %+v", s)
	}

	histories, err := forecast.LoadHistories(ctx, m, now)
	if err != nil {
		t.Fatalf("load histories: %v", err)
	}
	want := map[string]models.SchedulingStatus{
		bins[0].ID: models.StatusScheduled,
		bins[1].ID: models.StatusNotScheduled,
	}
	for _, h := range histories {
		if got := h.SchedulingStatus(now); got != want[h.Bin.ID] {
			t.Fatalf("bin %d: expected %s, got %s", h.Bin.BinNumber, want[h.Bin.ID], got)
		}
	}
}
