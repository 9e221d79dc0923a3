package routing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"binfleet-backend/internal/forecast"
	"binfleet-backend/internal/models"
)

var depot = Location{Latitude: 37.34692, Longitude: -121.92984}

func testOptions() Options {
	return Options{
		Vehicles:            3,
		SearchBudget:        2 * time.Second,
		SpanCostCoefficient: 100,
		DropPenalty:         100000,
		BalancePenalty:      100000,
		CountSlack:          2,
		MaxIterations:       50,
	}
}

func nodesAround(n int) []Node {
	nodes := make([]Node, n)
	for i := range nodes {
		nodes[i] = Node{
			BinID:     string(rune('a' + i)),
			BinNumber: i + 1,
			Location:  Location{Latitude: 37.33 + 0.004*float64(i%4), Longitude: -121.89 + 0.003*float64(i/4)},
		}
	}
	return nodes
}

func problemFor(nodes []Node) Problem {
	mandatory := make([]bool, len(nodes))
	for i, n := range nodes {
		mandatory[i] = n.Mandatory
	}
	return Problem{Matrix: BuildMatrix(depot, nodes), Mandatory: mandatory}
}

func TestBuildMatrixSymmetricZeroDiagonal(t *testing.T) {
	m := BuildMatrix(depot, nodesAround(6))
	if m.Size() != 7 {
		t.Fatalf("expected 7x7 matrix, got %d", m.Size())
	}
	for i := range m {
		if m[i][i] != 0 {
			t.Fatalf("diagonal %d = %d", i, m[i][i])
		}
		for j := range m {
			if m[i][j] != m[j][i] {
				t.Fatalf("asymmetric at %d,%d", i, j)
			}
			if i != j && m[i][j] <= 0 {
				t.Fatalf("distinct points must have positive distance at %d,%d", i, j)
			}
		}
	}
}

func TestHaversineMetersKnownDistance(t *testing.T) {
	// One degree of latitude is about 111.19 km on a 6371 km sphere
	d := HaversineMeters(Location{0, 0}, Location{1, 0})
	if math.Abs(d-111195) > 10 {
		t.Fatalf("expected ~111195 m, got %.0f", d)
	}
}

func TestNodesFromCandidatesExcludesMissingGeo(t *testing.T) {
	lat, lng := 37.33, -121.88
	candidates := []forecast.Candidate{
		{Bin: models.Bin{ID: "with", Latitude: &lat, Longitude: &lng}, Mandatory: true},
		{Bin: models.Bin{ID: "without"}},
	}
	nodes, excluded := NodesFromCandidates(candidates)
	if len(nodes) != 1 || nodes[0].BinID != "with" || !nodes[0].Mandatory {
		t.Fatalf("unexpected nodes %+v", nodes)
	}
	if len(excluded) != 1 || excluded[0] != "without" {
		t.Fatalf("unexpected excluded %v", excluded)
	}

	_, err := NodeFromCandidate(candidates[1])
	if !errors.Is(err, ErrMissingGeoData) {
		t.Fatalf("expected ErrMissingGeoData, got %v", err)
	}
}

func TestSolveCriticalScenario(t *testing.T) {
	nodes := nodesAround(4)
	nodes[2].Mandatory = true

	sol, err := Solve(context.Background(), problemFor(nodes), testOptions())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}

	limit := testOptions().StopCap(4)
	if limit != 4 {
		t.Fatalf("expected cap 4, got %d", limit)
	}

	seen := map[int]int{}
	for _, r := range sol.Routes {
		if len(r.Stops) > limit {
			t.Fatalf("vehicle %d has %d stops", r.Vehicle, len(r.Stops))
		}
		for i, st := range r.Stops {
			if st.Position != i+1 {
				t.Fatalf("positions must be contiguous, got %d at %d", st.Position, i)
			}
			seen[st.Node]++
		}
	}
	if seen[2] != 1 {
		t.Fatalf("critical node must appear exactly once, got %d", seen[2])
	}
	for _, d := range sol.Dropped {
		if d == 2 {
			t.Fatal("critical node dropped")
		}
		seen[d]++
	}
	for i := range nodes {
		if seen[i] != 1 {
			t.Fatalf("node %d accounted %d times", i, seen[i])
		}
	}
}

func TestSolveRespectsCapAndBalance(t *testing.T) {
	nodes := nodesAround(12)
	for i := range nodes {
		nodes[i].Mandatory = true
	}
	// Without span pressure any imbalance costs more than all arcs together
	opts := testOptions()
	opts.SpanCostCoefficient = 0

	sol, err := Solve(context.Background(), problemFor(nodes), opts)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(sol.Dropped) != 0 {
		t.Fatalf("mandatory nodes dropped: %v", sol.Dropped)
	}
	total := 0
	for _, r := range sol.Routes {
		if len(r.Stops) > opts.StopCap(12) {
			t.Fatalf("vehicle %d over cap: %d", r.Vehicle, len(r.Stops))
		}
		if len(r.Stops) < opts.EvenShare(12) {
			t.Fatalf("vehicle %d under even share: %d", r.Vehicle, len(r.Stops))
		}
		total += len(r.Stops)
	}
	if total != 12 {
		t.Fatalf("expected 12 stops, got %d", total)
	}
}

func TestSolveNeverWorseThanConstruction(t *testing.T) {
	nodes := nodesAround(9)
	p := problemFor(nodes)
	opts := testOptions()

	s := newSearch(context.Background(), p, opts)
	first, ok := s.construct()
	if !ok {
		t.Fatal("construction failed")
	}
	initial := s.cost(first)

	sol, err := Solve(context.Background(), p, opts)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if sol.Cost > initial {
		t.Fatalf("search made things worse: %d > %d", sol.Cost, initial)
	}
}

func TestSolveEmptyProblem(t *testing.T) {
	sol, err := Solve(context.Background(), Problem{Matrix: BuildMatrix(depot, nil)}, testOptions())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(sol.Routes) != 3 || len(sol.Dropped) != 0 {
		t.Fatalf("unexpected empty solution %+v", sol)
	}
	for _, r := range sol.Routes {
		if len(r.Stops) != 0 {
			t.Fatal("empty problem produced stops")
		}
	}
}

func TestSolveCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Solve(ctx, problemFor(nodesAround(5)), testOptions())
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNoFeasibleRoute) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestBuildPlanSkipsEmptyVehicles(t *testing.T) {
	nodes := nodesAround(2)
	sol := Solution{
		Routes: []VehicleRoute{
			{Vehicle: 0, Stops: []Stop{{Node: 1, Position: 1}}},
			{Vehicle: 1, Stops: []Stop{}},
			{Vehicle: 2, Stops: []Stop{{Node: 0, Position: 1, Mandatory: true}}},
		},
	}
	plan := BuildPlan("2026-03-11", nodes, sol)
	if len(plan.Groups) != 2 || plan.Groups[0].Slot != 1 || plan.Groups[1].Slot != 3 {
		t.Fatalf("unexpected groups %+v", plan.Groups)
	}
	if plan.Groups[1].Stops[0].BinID != nodes[0].BinID || !plan.Groups[1].Stops[0].Mandatory {
		t.Fatalf("unexpected stop %+v", plan.Groups[1].Stops[0])
	}
	if plan.Empty() {
		t.Fatal("plan with stops reported empty")
	}
}

func TestPlanCache(t *testing.T) {
	c := NewPlanCache(time.Minute)
	if _, ok := c.Get("2026-03-11"); ok {
		t.Fatal("unexpected hit")
	}
	c.Set(Plan{Date: "2026-03-11"})
	if _, ok := c.Get("2026-03-11"); !ok {
		t.Fatal("expected hit")
	}
	c.Invalidate("2026-03-11")
	if _, ok := c.Get("2026-03-11"); ok {
		t.Fatal("expected miss after invalidate")
	}
	stats := c.Stats()
	if stats["hits"].(int64) != 1 || stats["misses"].(int64) != 2 {
		t.Fatalf("unexpected stats %v", stats)
	}
}
