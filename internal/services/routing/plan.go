package routing

import "time"

// PlannedStop is one bin inside an officer slot
type PlannedStop struct {
	BinID     string   `json:"bin_id"`
	BinNumber int      `json:"bin_number"`
	Position  int      `json:"position"`
	Mandatory bool     `json:"mandatory"`
	Location  Location `json:"location"`
}

// PlannedGroup is the ordered stops for one officer slot (1-based)
type PlannedGroup struct {
	Slot           int           `json:"slot"`
	Stops          []PlannedStop `json:"stops"`
	DistanceMeters int64         `json:"distance_m"`
}

// Plan is a solved, not yet persisted, route plan for one date
type Plan struct {
	Date      string         `json:"date"`
	Groups    []PlannedGroup `json:"groups"`
	Dropped   []string       `json:"dropped"`  // optional bins the solver left out
	Excluded  []string       `json:"excluded"` // bins without coordinates
	CreatedAt time.Time      `json:"created_at"`
}

// Empty reports whether the plan has no stops at all
func (p Plan) Empty() bool {
	for _, g := range p.Groups {
		if len(g.Stops) > 0 {
			return false
		}
	}
	return true
}

// BuildPlan maps solver node indices back to bins. Vehicles without stops
// produce no group; slot numbers follow the vehicle index.
func BuildPlan(date string, nodes []Node, sol Solution) Plan {
	plan := Plan{Date: date, Groups: []PlannedGroup{}, Dropped: []string{}, Excluded: []string{}, CreatedAt: time.Now()}
	for _, r := range sol.Routes {
		if len(r.Stops) == 0 {
			continue
		}
		g := PlannedGroup{Slot: r.Vehicle + 1, DistanceMeters: r.Distance}
		for _, st := range r.Stops {
			n := nodes[st.Node]
			g.Stops = append(g.Stops, PlannedStop{
				BinID:     n.BinID,
				BinNumber: n.BinNumber,
				Position:  st.Position,
				Mandatory: st.Mandatory,
				Location:  n.Location,
			})
		}
		plan.Groups = append(plan.Groups, g)
	}
	for _, d := range sol.Dropped {
		plan.Dropped = append(plan.Dropped, nodes[d].BinID)
	}
	return plan
}
