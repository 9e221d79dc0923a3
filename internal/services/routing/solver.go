package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNoFeasibleRoute is returned when the search ends before a first
// feasible solution exists
var ErrNoFeasibleRoute = errors.New("no feasible route found within search budget")

const (
	defaultSearchBudget = 2 * time.Second
	// guidedLambda scales arc penalties relative to the average arc cost at a local optimum
	guidedLambda = 0.1
	// checkEvery bounds how many neighbours are evaluated between expiry checks
	checkEvery = 128
)

// Options is the routing policy
type Options struct {
	Vehicles            int
	SearchBudget        time.Duration
	SpanCostCoefficient int64 // per meter of (longest - shortest) route
	DropPenalty         int64 // per optional node left out
	BalancePenalty      int64 // per stop a vehicle falls short of the even share
	CountSlack          int   // hard cap is ceil(N/K) + CountSlack
	MaxIterations       int   // guided local search rounds; 0 means until the budget ends
}

// Problem is a distance matrix (depot at 0) plus the mandatory flag of each node.
// Node i lives at matrix index i+1.
type Problem struct {
	Matrix    Matrix
	Mandatory []bool
}

// Stop is one visited node inside a vehicle route
type Stop struct {
	Node      int  `json:"node"`
	Position  int  `json:"position"` // 1-based, depot excluded
	Mandatory bool `json:"mandatory"`
}

// VehicleRoute is one vehicle's ordered stops between depot start and end
type VehicleRoute struct {
	Vehicle  int    `json:"vehicle"` // 0-based
	Stops    []Stop `json:"stops"`
	Distance int64  `json:"distance_m"`
}

// Solution is the best plan found within the budget
type Solution struct {
	Routes     []VehicleRoute `json:"routes"`
	Dropped    []int          `json:"dropped"`
	Cost       int64          `json:"cost"`
	Distance   int64          `json:"distance_m"`
	Iterations int            `json:"iterations"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// StopCap is the hard per-vehicle stop limit for n nodes
func (o Options) StopCap(n int) int {
	if o.Vehicles <= 0 {
		return n
	}
	return (n+o.Vehicles-1)/o.Vehicles + o.CountSlack
}

// EvenShare is the soft per-vehicle lower bound for n nodes
func (o Options) EvenShare(n int) int {
	if o.Vehicles <= 0 {
		return 0
	}
	return n / o.Vehicles
}

// Solve runs the search on its own goroutine and waits for it or for ctx.
// An empty problem yields an empty solution without searching.
func Solve(ctx context.Context, p Problem, opts Options) (Solution, error) {
	if opts.Vehicles <= 0 {
		return Solution{}, fmt.Errorf("invalid fleet size %d", opts.Vehicles)
	}
	n := len(p.Mandatory)
	if p.Matrix.Size() != n+1 {
		return Solution{}, fmt.Errorf("matrix size %d does not match %d nodes plus depot", p.Matrix.Size(), n)
	}
	if n == 0 {
		return Solution{Routes: emptyRoutes(opts.Vehicles), Dropped: []int{}}, nil
	}
	if opts.SearchBudget <= 0 {
		opts.SearchBudget = defaultSearchBudget
	}

	type outcome struct {
		sol Solution
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		s := newSearch(ctx, p, opts)
		sol, err := s.run()
		done <- outcome{sol, err}
	}()

	select {
	case <-ctx.Done():
		return Solution{}, ctx.Err()
	case out := <-done:
		return out.sol, out.err
	}
}

func emptyRoutes(k int) []VehicleRoute {
	routes := make([]VehicleRoute, k)
	for v := range routes {
		routes[v] = VehicleRoute{Vehicle: v, Stops: []Stop{}}
	}
	return routes
}

// plan is the mutable search state: node indices per vehicle plus dropped optionals
type plan struct {
	routes  [][]int
	dropped []int
}

func (pl plan) clone() plan {
	c := plan{routes: make([][]int, len(pl.routes)), dropped: append([]int(nil), pl.dropped...)}
	for v, r := range pl.routes {
		c.routes[v] = append([]int(nil), r...)
	}
	return c
}

type search struct {
	ctx       context.Context
	m         Matrix
	mandatory []bool
	opts      Options
	n         int
	stopCap   int
	share     int
	deadline  time.Time
	started   time.Time

	penalties [][]int
	lambda    float64
	evals     int
	expired   bool

	best     plan
	bestCost int64
	found    bool
	rounds   int
}

func newSearch(ctx context.Context, p Problem, opts Options) *search {
	n := len(p.Mandatory)
	penalties := make([][]int, n+1)
	for i := range penalties {
		penalties[i] = make([]int, n+1)
	}
	now := time.Now()
	return &search{
		ctx:       ctx,
		m:         p.Matrix,
		mandatory: p.Mandatory,
		opts:      opts,
		n:         n,
		stopCap:   opts.StopCap(n),
		share:     opts.EvenShare(n),
		deadline:  now.Add(opts.SearchBudget),
		started:   now,
		penalties: penalties,
	}
}

func (s *search) run() (Solution, error) {
	current, ok := s.construct()
	if !ok {
		return Solution{}, ErrNoFeasibleRoute
	}
	s.consider(current)

	for !s.stop() {
		current = s.descend(current)
		if s.stop() {
			break
		}
		s.rounds++
		s.penalize(current)
	}

	return s.solution(), nil
}

// stop reports whether the budget, iteration cap or caller context ended the search
func (s *search) stop() bool {
	if s.expired {
		return true
	}
	if s.opts.MaxIterations > 0 && s.rounds >= s.opts.MaxIterations {
		s.expired = true
	} else if time.Now().After(s.deadline) || s.ctx.Err() != nil {
		s.expired = true
	}
	return s.expired
}

// construct builds a first solution with the cheapest-arc rule: vehicles take
// turns extending their path with the cheapest arc to an unrouted node.
func (s *search) construct() (plan, bool) {
	k := s.opts.Vehicles
	pl := plan{routes: make([][]int, k)}
	routed := make([]bool, s.n)

	for remaining := s.n; remaining > 0; {
		if s.stop() {
			return plan{}, false
		}
		progress := false
		for v := 0; v < k && remaining > 0; v++ {
			if len(pl.routes[v]) >= s.stopCap {
				continue
			}
			from := 0
			if r := pl.routes[v]; len(r) > 0 {
				from = r[len(r)-1] + 1
			}
			next := -1
			for i := 0; i < s.n; i++ {
				if routed[i] {
					continue
				}
				if next < 0 || s.m[from][i+1] < s.m[from][next+1] {
					next = i
				}
			}
			pl.routes[v] = append(pl.routes[v], next)
			routed[next] = true
			remaining--
			progress = true
		}
		if !progress {
			return plan{}, false
		}
	}
	pl.dropped = []int{}
	return pl, true
}

func (s *search) routeDistance(r []int) int64 {
	if len(r) == 0 {
		return 0
	}
	d := s.m[0][r[0]+1]
	for i := 1; i < len(r); i++ {
		d += s.m[r[i-1]+1][r[i]+1]
	}
	return d + s.m[r[len(r)-1]+1][0]
}

// cost is the true objective: arc cost, span cost, balance and drop penalties
func (s *search) cost(pl plan) int64 {
	var total int64
	var longest, shortest int64 = 0, math.MaxInt64
	for _, r := range pl.routes {
		d := s.routeDistance(r)
		total += d
		if d > longest {
			longest = d
		}
		if d < shortest {
			shortest = d
		}
		if short := s.share - len(r); short > 0 {
			total += int64(short) * s.opts.BalancePenalty
		}
	}
	total += s.opts.SpanCostCoefficient * (longest - shortest)
	total += int64(len(pl.dropped)) * s.opts.DropPenalty
	return total
}

// augmented adds the guided local search arc penalties to the true cost
func (s *search) augmented(pl plan) float64 {
	c := float64(s.cost(pl))
	if s.lambda == 0 {
		return c
	}
	var pen int
	for _, r := range pl.routes {
		prev := 0
		for _, node := range r {
			pen += s.penalties[prev][node+1]
			prev = node + 1
		}
		if len(r) > 0 {
			pen += s.penalties[prev][0]
		}
	}
	return c + s.lambda*float64(pen)
}

func (s *search) feasible(pl plan) bool {
	for _, r := range pl.routes {
		if len(r) > s.stopCap {
			return false
		}
	}
	for _, node := range pl.dropped {
		if s.mandatory[node] {
			return false
		}
	}
	return true
}

// consider records pl as the incumbent when it beats the best true cost
func (s *search) consider(pl plan) {
	c := s.cost(pl)
	if !s.found || c < s.bestCost {
		s.best = pl.clone()
		s.bestCost = c
		s.found = true
	}
}

// descend applies first-improvement moves on the augmented cost until none improves
func (s *search) descend(pl plan) plan {
	current := s.augmented(pl)
	for {
		next, value, ok := s.improve(pl, current)
		if !ok {
			return pl
		}
		pl, current = next, value
		s.consider(pl)
	}
}

// try evaluates a neighbour; it is accepted when feasible and strictly better
func (s *search) try(candidate plan, current float64) (float64, bool) {
	s.evals++
	if !s.feasible(candidate) {
		return 0, false
	}
	v := s.augmented(candidate)
	return v, v < current-1e-9
}

// tick is called per neighbour and ends the scan once the search has expired
func (s *search) tick() bool {
	if s.evals%checkEvery == 0 {
		return s.stop()
	}
	return s.expired
}

func (s *search) improve(pl plan, current float64) (plan, float64, bool) {
	moves := []func(plan, float64) (plan, float64, bool){
		s.relocate,
		s.exchange,
		s.twoOpt,
		s.dropOptional,
		s.insertDropped,
	}
	for _, move := range moves {
		if next, v, ok := move(pl, current); ok {
			return next, v, true
		}
		if s.expired {
			break
		}
	}
	return pl, current, false
}

// relocate moves one node to another position in any route
func (s *search) relocate(pl plan, current float64) (plan, float64, bool) {
	for from, r := range pl.routes {
		for i := range r {
			for to := range pl.routes {
				limit := len(pl.routes[to])
				if to == from {
					limit--
				}
				for j := 0; j <= limit; j++ {
					if to == from && j == i {
						continue
					}
					if s.tick() {
						return pl, current, false
					}
					c := pl.clone()
					node := c.routes[from][i]
					c.routes[from] = append(c.routes[from][:i], c.routes[from][i+1:]...)
					c.routes[to] = insertAt(c.routes[to], j, node)
					if v, ok := s.try(c, current); ok {
						return c, v, true
					}
				}
			}
		}
	}
	return pl, current, false
}

// exchange swaps two nodes, within one route or across routes
func (s *search) exchange(pl plan, current float64) (plan, float64, bool) {
	for a, ra := range pl.routes {
		for i := range ra {
			for b := a; b < len(pl.routes); b++ {
				start := 0
				if b == a {
					start = i + 1
				}
				for j := start; j < len(pl.routes[b]); j++ {
					if s.tick() {
						return pl, current, false
					}
					c := pl.clone()
					c.routes[a][i], c.routes[b][j] = c.routes[b][j], c.routes[a][i]
					if v, ok := s.try(c, current); ok {
						return c, v, true
					}
				}
			}
		}
	}
	return pl, current, false
}

// twoOpt reverses a segment inside one route
func (s *search) twoOpt(pl plan, current float64) (plan, float64, bool) {
	for v, r := range pl.routes {
		for i := 0; i < len(r)-1; i++ {
			for j := i + 1; j < len(r); j++ {
				if s.tick() {
					return pl, current, false
				}
				c := pl.clone()
				reverse(c.routes[v][i : j+1])
				if val, ok := s.try(c, current); ok {
					return c, val, true
				}
			}
		}
	}
	return pl, current, false
}

// dropOptional takes an optional node out of its route
func (s *search) dropOptional(pl plan, current float64) (plan, float64, bool) {
	for v, r := range pl.routes {
		for i, node := range r {
			if s.mandatory[node] {
				continue
			}
			if s.tick() {
				return pl, current, false
			}
			c := pl.clone()
			c.routes[v] = append(c.routes[v][:i], c.routes[v][i+1:]...)
			c.dropped = append(c.dropped, node)
			if val, ok := s.try(c, current); ok {
				return c, val, true
			}
		}
	}
	return pl, current, false
}

// insertDropped puts a dropped node back at any position
func (s *search) insertDropped(pl plan, current float64) (plan, float64, bool) {
	for d := range pl.dropped {
		for v := range pl.routes {
			for j := 0; j <= len(pl.routes[v]); j++ {
				if s.tick() {
					return pl, current, false
				}
				c := pl.clone()
				node := c.dropped[d]
				c.dropped = append(c.dropped[:d], c.dropped[d+1:]...)
				c.routes[v] = insertAt(c.routes[v], j, node)
				if val, ok := s.try(c, current); ok {
					return c, val, true
				}
			}
		}
	}
	return pl, current, false
}

// penalize raises the penalty of the arcs with the highest utility
// cost/(1+penalty) in the local optimum and sets lambda on first use.
func (s *search) penalize(pl plan) {
	type arc struct{ from, to int }
	var arcs []arc
	var arcCost int64
	for _, r := range pl.routes {
		prev := 0
		for _, node := range r {
			arcs = append(arcs, arc{prev, node + 1})
			arcCost += s.m[prev][node+1]
			prev = node + 1
		}
		if len(r) > 0 {
			arcs = append(arcs, arc{prev, 0})
			arcCost += s.m[prev][0]
		}
	}
	if len(arcs) == 0 {
		return
	}
	if s.lambda == 0 {
		s.lambda = guidedLambda * float64(arcCost) / float64(len(arcs))
		if s.lambda == 0 {
			s.lambda = guidedLambda
		}
	}

	bestUtility := -1.0
	for _, a := range arcs {
		u := float64(s.m[a.from][a.to]) / float64(1+s.penalties[a.from][a.to])
		if u > bestUtility {
			bestUtility = u
		}
	}
	for _, a := range arcs {
		u := float64(s.m[a.from][a.to]) / float64(1+s.penalties[a.from][a.to])
		if u >= bestUtility-1e-9 {
			s.penalties[a.from][a.to]++
			s.penalties[a.to][a.from]++
		}
	}
}

func (s *search) solution() Solution {
	sol := Solution{
		Routes:     make([]VehicleRoute, len(s.best.routes)),
		Dropped:    append([]int{}, s.best.dropped...),
		Cost:       s.bestCost,
		Iterations: s.rounds,
		Elapsed:    time.Since(s.started),
	}
	for v, r := range s.best.routes {
		vr := VehicleRoute{Vehicle: v, Stops: make([]Stop, 0, len(r)), Distance: s.routeDistance(r)}
		for i, node := range r {
			vr.Stops = append(vr.Stops, Stop{Node: node, Position: i + 1, Mandatory: s.mandatory[node]})
		}
		sol.Routes[v] = vr
		sol.Distance += vr.Distance
	}
	return sol
}

func insertAt(r []int, i, node int) []int {
	r = append(r, 0)
	copy(r[i+1:], r[i:])
	r[i] = node
	return r
}

func reverse(r []int) {
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
}
