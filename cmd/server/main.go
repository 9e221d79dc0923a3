package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"binfleet-backend/internal/config"
	"binfleet-backend/internal/database"
	"binfleet-backend/internal/events"
	"binfleet-backend/internal/fixtures"
	"binfleet-backend/internal/handlers"
	"binfleet-backend/internal/lock"
	"binfleet-backend/internal/metrics"
	"binfleet-backend/internal/models"
	"binfleet-backend/internal/services"
	"binfleet-backend/internal/services/routing"
	"binfleet-backend/internal/store"
	"binfleet-backend/internal/websocket"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 BINFLEET BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ FATAL ERROR: invalid configuration: %v", err)
	}
	metrics.RegisterDefault()

	// Repository: Postgres when configured, in-memory otherwise
	var repo store.Repository
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("❌ FATAL ERROR: Database connection failed: %v", err)
		}
		defer db.Close()

		if err := database.Migrate(db); err != nil {
			log.Fatalf("❌ FATAL ERROR: Database migrations failed: %v", err)
		}
		repo = store.NewPostgres(db)
	} else {
		log.Println("⚠️  DATABASE_URL not set, using in-memory store (data is lost on restart)")
		repo = store.NewMemory()
	}

	if cfg.SeedDemo {
		log.Println("🌱 Seeding demo data...")
		if err := fixtures.SeedDemo(ctx, repo, time.Now()); err != nil {
			log.Fatalf("❌ FATAL ERROR: Demo seeding failed: %v", err)
		}
	}

	// Locks: Redis across instances, in-process otherwise
	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		redisLocker, err := lock.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ FATAL ERROR: Redis connection failed: %v", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
		log.Println("✅ Redis advisory locks enabled")
	}

	// Events: dashboards always, Kafka when configured
	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	publishers := events.Multi{events.NewHub(wsHub, models.RoleAdmin)}
	if cfg.KafkaBrokers != "" {
		kafkaPublisher, err := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Fatalf("❌ FATAL ERROR: Kafka configuration invalid: %v", err)
		}
		defer kafkaPublisher.Close()
		publishers = append(publishers, kafkaPublisher)
		log.Printf("✅ Publishing events to Kafka topic %s", cfg.KafkaTopic)
	}

	notifier := newNotifier(ctx, cfg)

	var oracle services.GrowthOracle
	if client, err := services.NewOracleClient(cfg.OracleURL, cfg.OracleTimeout, cfg.OracleRPS); err != nil {
		log.Printf("⚠️  %v (prediction refresh will fail until configured)", err)
		oracle = unconfiguredOracle{}
	} else {
		oracle = client
	}

	offset, err := cfg.Policy.PlannedOffset()
	if err != nil {
		log.Fatalf("❌ FATAL ERROR: %v", err)
	}

	refresher := services.NewRefresher(repo, oracle, locker, publishers, cfg.ModelVersion, cfg.OracleConcurrency)
	planner := services.NewPlanner(repo, locker, routing.NewPlanCache(cfg.Policy.PlanCacheTTL), notifier, publishers, services.PlannerConfig{
		Depot:         cfg.Policy.Depot,
		Options:       cfg.Policy.SolverOptions(),
		PlannedOffset: offset,
	})

	var geocoder services.Geocoder
	if gs, err := services.NewGeocodingService(cfg.GoogleMapsAPIKey); err != nil {
		log.Printf("⚠️  %v (coordinate backfill disabled)", err)
	} else {
		geocoder = gs
	}

	router := handlers.NewRouter(handlers.Deps{
		Repo:      repo,
		Refresher: refresher,
		Planner:   planner,
		Hub:       wsHub,
		Geocoder:  geocoder,
		JWTSecret: cfg.JWTSecret,
		PageSize:  cfg.Policy.PageSize,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  Server shutdown: %v", err)
		}
	}()

	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("✅ ALL INITIALIZATION COMPLETE")
	log.Printf("🚀 Server starting on http://localhost:%s", cfg.Port)
	log.Println("═══════════════════════════════════════════════════════════════════")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("❌ FATAL ERROR: Server failed to start on port %s: %v", cfg.Port, err)
	}
	log.Println("👋 Server stopped")
}

// newNotifier initializes Firebase Cloud Messaging. Supports both file path
// and base64-encoded credentials; without either, notices are only logged.
func newNotifier(ctx context.Context, cfg *config.Config) services.Notifier {
	var (
		fcm *services.FCMService
		err error
	)
	switch {
	case cfg.FirebaseCredentialsBase64 != "":
		fcm, err = services.NewFCMServiceFromBase64(ctx, cfg.FirebaseCredentialsBase64)
	case cfg.FirebaseCredentialsFile != "":
		fcm, err = services.NewFCMService(ctx, cfg.FirebaseCredentialsFile)
	default:
		log.Println("⚠️  Firebase credentials not set (push notifications disabled)")
		return services.LogNotifier{}
	}
	if err != nil {
		log.Printf("⚠️  Failed to initialize FCM: %v (push notifications disabled)", err)
		return services.LogNotifier{}
	}
	log.Println("✅ Firebase Cloud Messaging initialized")
	return fcm
}

// unconfiguredOracle fails every bin so refresh reports the misconfiguration per bin
type unconfiguredOracle struct{}

func (unconfiguredOracle) Predict(context.Context, services.OracleRequest) (float64, error) {
	return 0, services.ErrOracleUnavailable
}
