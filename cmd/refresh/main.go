package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"binfleet-backend/internal/config"
	"binfleet-backend/internal/database"
	"binfleet-backend/internal/events"
	"binfleet-backend/internal/lock"
	"binfleet-backend/internal/services"
	"binfleet-backend/internal/store"
)

// One refresh pass for cron. Exits non-zero only when the pass itself fails;
// per-bin oracle failures are logged and reported in the summary.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	oracle, err := services.NewOracleClient(cfg.OracleURL, cfg.OracleTimeout, cfg.OracleRPS)
	if err != nil {
		log.Fatalf("Oracle client: %v", err)
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		redisLocker, err := lock.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaBrokers != "" {
		kafkaPublisher, err := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Fatalf("Kafka configuration invalid: %v", err)
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	refresher := services.NewRefresher(store.NewPostgres(db), oracle, locker, publisher, cfg.ModelVersion, cfg.OracleConcurrency)
	result, err := refresher.Refresh(ctx)
	if err != nil {
		log.Fatalf("Refresh pass failed: %v", err)
	}

	for _, f := range result.Failed {
		log.Printf("   ❌ %s: %s", f.BinID, f.Reason)
	}
	log.Printf("Refresh completed: %d refreshed, %d failed, %d skipped", result.Refreshed, len(result.Failed), result.Skipped)
}
