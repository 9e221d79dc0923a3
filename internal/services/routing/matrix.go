package routing

import (
	"errors"
	"fmt"
	"log"
	"math"

	"binfleet-backend/internal/forecast"
)

// EarthRadiusKm is the sphere radius used for great-circle distances
const EarthRadiusKm = 6371.0

// ErrMissingGeoData marks a bin that cannot be placed in a distance matrix
var ErrMissingGeoData = errors.New("bin has no coordinates")

// Location is a geographic point
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Node is a bin offered to the solver
type Node struct {
	BinID     string
	BinNumber int
	Location  Location
	Mandatory bool
}

// NodeFromCandidate converts a routing candidate, failing with
// ErrMissingGeoData when the bin has no coordinates.
func NodeFromCandidate(c forecast.Candidate) (Node, error) {
	if !c.Bin.HasCoordinates() {
		return Node{}, fmt.Errorf("bin %d: %w", c.Bin.BinNumber, ErrMissingGeoData)
	}
	return Node{
		BinID:     c.Bin.ID,
		BinNumber: c.Bin.BinNumber,
		Location:  Location{Latitude: *c.Bin.Latitude, Longitude: *c.Bin.Longitude},
		Mandatory: c.Mandatory,
	}, nil
}

// NodesFromCandidates keeps every candidate with coordinates and returns the
// ids of those excluded.
func NodesFromCandidates(candidates []forecast.Candidate) (nodes []Node, excluded []string) {
	for _, c := range candidates {
		n, err := NodeFromCandidate(c)
		if err != nil {
			log.Printf("⚠️  [PLAN-ROUTES] excluding from matrix: %v", err)
			excluded = append(excluded, c.Bin.ID)
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, excluded
}

// HaversineMeters is the great-circle distance between two points in meters
func HaversineMeters(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c * 1000
}

// Matrix holds integer meter distances. Index 0 is the depot, index i+1 is node i.
type Matrix [][]int64

// BuildMatrix computes the symmetric, zero-diagonal distance matrix for the
// depot followed by the nodes.
func BuildMatrix(depot Location, nodes []Node) Matrix {
	points := make([]Location, 0, len(nodes)+1)
	points = append(points, depot)
	for _, n := range nodes {
		points = append(points, n.Location)
	}

	m := make(Matrix, len(points))
	for i := range m {
		m[i] = make([]int64, len(points))
	}
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			d := int64(math.Round(HaversineMeters(points[i], points[j])))
			m[i][j] = d
			m[j][i] = d
		}
	}
	return m
}

// Size is the number of locations including the depot
func (m Matrix) Size() int {
	return len(m)
}
