package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"binfleet-backend/internal/fixtures"
	"binfleet-backend/internal/lock"
	"binfleet-backend/internal/metrics"
	"binfleet-backend/internal/models"
	"binfleet-backend/internal/services"
	"binfleet-backend/internal/services/routing"
	"binfleet-backend/internal/store"
)

const testSecret = "handlers-secret"

type apiFixture struct {
	handler  http.Handler
	repo     *store.Memory
	stale    models.Bin
	critical models.Bin
	officer  models.User
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMemory()
	b := fixtures.New(ctx, repo, time.Now())

	critical := b.Bin(1, "1 Main St", "Downtown", 37.3400, -121.9000)
	b.Collected(critical, 9, 70).Collected(critical, 2, 20).Predicted(critical, 40, 1)
	optional := b.Bin(2, "2 Main St", "Downtown", 37.3500, -121.9100)
	b.Collected(optional, 9, 70).Collected(optional, 2, 20).Predicted(optional, 20, 1)
	stale := b.Bin(3, "3 Main St", "Downtown", 37.3300, -121.8900)
	b.Collected(stale, 16, 70).Collected(stale, 2, 35).Predicted(stale, 5, 20)
	officer := b.Officer("Alice", "alice@binfleet.local")
	if err := b.Err(); err != nil {
		t.Fatalf("fixtures: %v", err)
	}

	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"predictedNextAvgDailyGrowth": 6})
	}))
	t.Cleanup(oracle.Close)
	client, err := services.NewOracleClient(oracle.URL, time.Second, 50)
	if err != nil {
		t.Fatalf("oracle client: %v", err)
	}

	locker := lock.NewLocal()
	planner := services.NewPlanner(repo, locker, routing.NewPlanCache(time.Minute), nil, nil, services.PlannerConfig{
		Depot: routing.Location{Latitude: 37.34692, Longitude: -121.92984},
		Options: routing.Options{
			Vehicles:       2,
			SearchBudget:   200 * time.Millisecond,
			DropPenalty:    100000,
			BalancePenalty: 100000,
			CountSlack:     2,
			MaxIterations:  20,
		},
		PlannedOffset: 8 * time.Hour,
	})

	handler := NewRouter(Deps{
		Repo:      repo,
		Refresher: services.NewRefresher(repo, client, locker, nil, "v-test", 2),
		Planner:   planner,
		JWTSecret: testSecret,
		PageSize:  20,
	})
	return apiFixture{handler: handler, repo: repo, stale: stale, critical: critical, officer: officer}
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"email":   userID + "@binfleet.local",
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + s
}

func (f apiFixture) do(t *testing.T, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.RegisterDefault()
	f := newAPIFixture(t)
	f.do(t, http.MethodGet, "/health", "", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "binfleet_http_requests_total") {
		t.Fatal("request counter missing from /metrics")
	}
}

func TestGetPriorityFeed(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/bins/priority-feed", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var feed []struct {
		BinID          string `json:"bin_id"`
		IsHighPriority bool   `json:"is_high_priority"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &feed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(feed) != 2 {
		t.Fatalf("expected the two fresh bins, got %+v", feed)
	}
	for _, e := range feed {
		if e.BinID == f.stale.ID {
			t.Fatal("stale bin must not be in the feed")
		}
		if e.BinID == f.critical.ID && !e.IsHighPriority {
			t.Fatal("critical bin should be high priority")
		}
	}
}

func TestGetOfficers(t *testing.T) {
	f := newAPIFixture(t)

	if rec := f.do(t, http.MethodGet, "/api/manager/officers", bearer(t, f.officer.ID, models.RoleOfficer), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/api/manager/officers", bearer(t, "admin-1", models.RoleAdmin), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var officers []models.User
	if err := json.Unmarshal(rec.Body.Bytes(), &officers); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(officers) != 1 || officers[0].ID != f.officer.ID {
		t.Fatalf("unexpected officers %+v", officers)
	}
}

func TestGetBinRisk(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/bins/risk", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var page struct {
		Rows []struct {
			BinID      string `json:"bin_id"`
			StatusNote string `json:"status_note"`
		} `json:"rows"`
		TotalRows int `json:"total_rows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.TotalRows != 3 || len(page.Rows) != 3 {
		t.Fatalf("expected three rows, got %+v", page)
	}
	if last := page.Rows[2]; last.BinID != f.stale.ID || last.StatusNote == "" {
		t.Fatalf("stale row should sort last with a note, got %+v", last)
	}

	rec = f.do(t, http.MethodGet, "/api/bins/risk?risk=High", "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, row := range page.Rows {
		if row.BinID == f.stale.ID {
			t.Fatal("risk filter must exclude stale rows")
		}
	}

	if rec := f.do(t, http.MethodGet, "/api/bins/risk?sort=color", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown sort, got %d", rec.Code)
	}
}

func TestRefreshRequiresAdmin(t *testing.T) {
	f := newAPIFixture(t)
	path := "/api/manager/predictions/refresh"

	if rec := f.do(t, http.MethodPost, path, "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, path, bearer(t, f.officer.ID, models.RoleOfficer), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, path, bearer(t, "admin-1", models.RoleAdmin), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result services.RefreshResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Refreshed != 1 || len(result.Failed) != 0 {
		t.Fatalf("expected the stale bin to refresh, got %+v", result)
	}
}

func TestSolveAssignAndReadPlan(t *testing.T) {
	f := newAPIFixture(t)
	admin := bearer(t, "admin-1", models.RoleAdmin)
	date := time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")

	rec := f.do(t, http.MethodPost, "/api/manager/route-plans/"+date+"/solve", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("solve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var preview services.PlanPreview
	if err := json.Unmarshal(rec.Body.Bytes(), &preview); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if preview.Existing || len(preview.Groups) == 0 || len(preview.Officers) != 1 {
		t.Fatalf("unexpected preview %+v", preview)
	}

	body := map[string]interface{}{"assignments": map[string]string{
		strconv.Itoa(preview.Groups[0].Slot): f.officer.ID,
		"not-a-slot":                         f.officer.ID,
	}}
	rec = f.do(t, http.MethodPost, "/api/manager/route-plans/"+date+"/assign", admin, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("assign: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var saved store.SaveResult
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !saved.Created || saved.AssignmentsUpdated != 1 {
		t.Fatalf("unexpected save result %+v", saved)
	}

	rec = f.do(t, http.MethodGet, "/api/route-plans/"+date, "", nil)
	var groups []models.RouteGroupDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(groups) != len(preview.Groups) {
		t.Fatalf("expected %d persisted groups, got %d", len(preview.Groups), len(groups))
	}
	if groups[0].Assignment == nil || groups[0].Assignment.AssignedBy != "admin-1" {
		t.Fatalf("assignment should record the admin, got %+v", groups[0].Assignment)
	}

	if rec := f.do(t, http.MethodPost, "/api/manager/route-plans/tomorrow/solve", admin, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
}

func TestRecordCollection(t *testing.T) {
	f := newAPIFixture(t)
	admin := bearer(t, "admin-1", models.RoleAdmin)

	rec := f.do(t, http.MethodPost, "/api/bins/"+f.critical.ID+"/collections", admin, map[string]int{"fill_percentage": 85})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	events, err := f.repo.RecentEventsForBin(context.Background(), f.critical.ID, 1)
	if err != nil || len(events) != 1 || events[0].FillPercentage != 85 {
		t.Fatalf("event not recorded: %+v (%v)", events, err)
	}

	if rec := f.do(t, http.MethodPost, "/api/bins/missing/collections", admin, map[string]int{"fill_percentage": 10}); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/bins/"+f.critical.ID+"/collections", admin, map[string]int{"fill_percentage": 120}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRegisterDevice(t *testing.T) {
	f := newAPIFixture(t)
	auth := bearer(t, f.officer.ID, models.RoleOfficer)

	rec := f.do(t, http.MethodPost, "/api/fcm-tokens", auth, map[string]string{"token": "tok-1", "device_type": "ios"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	tokens, err := f.repo.FCMTokens(context.Background(), []string{f.officer.ID})
	if err != nil || len(tokens) != 1 || tokens[0].Token != "tok-1" {
		t.Fatalf("token not stored: %+v (%v)", tokens, err)
	}

	if rec := f.do(t, http.MethodPost, "/api/fcm-tokens", auth, map[string]string{"token": "tok-2", "device_type": "pager"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
