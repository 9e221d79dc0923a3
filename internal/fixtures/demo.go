package fixtures

import (
	"context"
	"fmt"
	"log"
	"time"

	"binfleet-backend/internal/store"
)

type demoBin struct {
	number int
	street string
	region string
	lat    float64
	lng    float64
	fill   int
}

// Downtown San Jose collection points
var demoBins = []demoBin{
	{1, "325 S 1st St", "95113", 37.3329, -121.8866, 45},
	{2, "200 E Santa Clara St", "95113", 37.3361, -121.8869, 67},
	{3, "151 W Mission St", "95110", 37.3343, -121.8936, 23},
	{4, "408 Almaden Blvd", "95110", 37.3313, -121.8917, 89},
	{5, "180 Park Ave", "95113", 37.3351, -121.8894, 12},
	{6, "72 N Almaden Ave", "95110", 37.3352, -121.8931, 78},
	{7, "345 E Santa Clara St", "95113", 37.3357, -121.8826, 56},
	{8, "99 S Market St", "95113", 37.3339, -121.8905, 34},
	{9, "201 S 2nd St", "95113", 37.3326, -121.8863, 91},
	{10, "150 S 1st St", "95113", 37.3344, -121.8877, 15},
	{11, "88 W San Carlos St", "95113", 37.3307, -121.8901, 82},
	{12, "250 S 3rd St", "95112", 37.3311, -121.8842, 47},
	{13, "123 N 4th St", "95112", 37.3389, -121.8822, 63},
	{14, "456 W San Fernando St", "95113", 37.3323, -121.8955, 29},
	{15, "789 E Julian St", "95112", 37.3442, -121.8793, 71},
	{16, "321 N 1st St", "95112", 37.3423, -121.8878, 38},
	{17, "654 E St John St", "95112", 37.3473, -121.8786, 95},
	{18, "147 S 4th St", "95112", 37.3341, -121.8828, 19},
	{19, "258 W St James St", "95110", 37.3385, -121.8972, 86},
	{20, "369 E San Salvador St", "95112", 37.3289, -121.8816, 52},
	{21, "741 S 5th St", "95112", 37.3267, -121.8807, 44},
	{22, "852 N 6th St", "95112", 37.3512, -121.8789, 76},
	{23, "963 E Empire St", "95112", 37.3531, -121.8771, 31},
	{24, "159 S 7th St", "95112", 37.3336, -121.8774, 68},
}

// SeedDemo fills an empty repository with bins in every forecast state, two
// collection events each, and a small officer roster. It is a no-op when
// bins already exist.
func SeedDemo(ctx context.Context, repo store.Repository, now time.Time) error {
	count, err := repo.CountBins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		log.Println("✓ Bins already seeded, skipping...")
		return nil
	}

	log.Printf("🌱 Seeding %d demo bins...", len(demoBins))

	b := New(ctx, repo, now)
	for i, d := range demoBins {
		bin := b.Bin(d.number, d.street, d.region, d.lat, d.lng)

		latest := float64(1 + i%6)
		cycle := float64(7 + i%8)
		b.Collected(bin, latest+cycle, d.fill).Collected(bin, latest, d.fill)

		growth := float64(d.fill) / cycle
		switch i % 5 {
		case 0:
			// awaiting first prediction
		case 1:
			b.Predicted(bin, growth, latest+1)
		default:
			b.Predicted(bin, growth, latest-0.5)
		}
	}

	admin := b.Admin("Dispatch Admin", "admin@binfleet.local")
	for i, name := range []string{"Ana Officer", "Ben Officer", "Chidi Officer", "Dana Officer"} {
		officer := b.Officer(name, fmt.Sprintf("officer%d@binfleet.local", i+1))
		b.Device(officer, fmt.Sprintf("demo-device-%d", i+1))
	}

	if err := b.Err(); err != nil {
		return fmt.Errorf("failed to seed demo data: %w", err)
	}

	log.Printf("✓ Seeded %d bins, 4 officers and admin %s", len(demoBins), admin.Email)
	return nil
}
