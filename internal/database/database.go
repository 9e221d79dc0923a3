package database

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	maxOpenConns    = 20
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
)

// Connect opens the Postgres pool and verifies it with a ping
func Connect(dbURL string) (*sqlx.DB, error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Println("🔌 DATABASE CONNECTION")
	log.Printf("   📍 URL prefix: %s...", dbURL[:min(30, len(dbURL))])
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Printf("❌ sqlx.Connect() failed (%T): %v", err, err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		log.Printf("❌ Ping() failed (%T): %v", err, err)
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ DATABASE CONNECTION SUCCESSFUL")
	return db, nil
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		// Create users table
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('officer', 'admin')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Create FCM tokens table for officer push notifications
		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token TEXT NOT NULL UNIQUE,
			device_type TEXT NOT NULL DEFAULT 'android',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user_id ON fcm_tokens(user_id)`,

		// Create bins table
		`CREATE TABLE IF NOT EXISTS bins (
			id TEXT PRIMARY KEY,
			bin_number INT NOT NULL UNIQUE,
			current_street TEXT NOT NULL,
			region TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'inactive')),
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bins_status ON bins(status)`,

		// Collection events are append-only
		`CREATE TABLE IF NOT EXISTS collection_events (
			id BIGSERIAL PRIMARY KEY,
			bin_id TEXT NOT NULL REFERENCES bins(id) ON DELETE CASCADE,
			collected_at BIGINT NOT NULL,
			fill_percentage INT NOT NULL CHECK(fill_percentage BETWEEN 0 AND 100)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_collection_events_bin_time ON collection_events(bin_id, collected_at DESC)`,

		// Growth predictions: latest predicted_at wins
		`CREATE TABLE IF NOT EXISTS growth_predictions (
			id TEXT PRIMARY KEY,
			bin_id TEXT NOT NULL REFERENCES bins(id) ON DELETE CASCADE,
			predicted_avg_daily_growth DOUBLE PRECISION NOT NULL,
			predicted_at BIGINT NOT NULL,
			model_version TEXT NOT NULL,
			UNIQUE(bin_id, predicted_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_growth_predictions_bin_time ON growth_predictions(bin_id, predicted_at DESC)`,

		// One route group per officer slot per date
		`CREATE TABLE IF NOT EXISTS route_groups (
			id TEXT PRIMARY KEY,
			plan_date TEXT NOT NULL,
			slot INT NOT NULL CHECK(slot >= 1),
			created_at BIGINT NOT NULL,
			UNIQUE(plan_date, slot)
		)`,

		`CREATE TABLE IF NOT EXISTS scheduled_stops (
			id TEXT PRIMARY KEY,
			route_group_id TEXT NOT NULL REFERENCES route_groups(id) ON DELETE CASCADE,
			bin_id TEXT NOT NULL REFERENCES bins(id) ON DELETE CASCADE,
			sequence_order INT NOT NULL CHECK(sequence_order >= 1),
			planned_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			UNIQUE(route_group_id, sequence_order)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_stops_bin_planned ON scheduled_stops(bin_id, planned_at)`,

		// At most one officer per route group
		`CREATE TABLE IF NOT EXISTS route_assignments (
			id TEXT PRIMARY KEY,
			route_group_id TEXT NOT NULL UNIQUE REFERENCES route_groups(id) ON DELETE CASCADE,
			assigned_to TEXT NOT NULL REFERENCES users(id),
			assigned_by TEXT NOT NULL,
			assigned_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_route_assignments_assigned_to ON route_assignments(assigned_to)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("✓ Database migrations completed")
	return nil
}
