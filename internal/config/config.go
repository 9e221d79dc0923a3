package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"binfleet-backend/internal/services/routing"
)

// Config holds process settings read from the environment
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string

	OracleURL         string
	OracleTimeout     time.Duration
	OracleRPS         float64
	OracleConcurrency int
	ModelVersion      string

	RedisURL     string
	KafkaBrokers string
	KafkaTopic   string

	FirebaseCredentialsBase64 string
	FirebaseCredentialsFile   string
	GoogleMapsAPIKey          string

	PolicyPath string
	SeedDemo   bool

	Policy Policy
}

// Policy is the routing and presentation policy, optionally read from YAML
type Policy struct {
	FleetSize           int              `yaml:"fleet_size"`
	Depot               routing.Location `yaml:"depot"`
	SearchBudget        time.Duration    `yaml:"search_budget"`
	SpanCostCoefficient int64            `yaml:"span_cost_coefficient"`
	DropPenalty         int64            `yaml:"drop_penalty"`
	BalancePenalty      int64            `yaml:"balance_penalty"`
	CountSlack          int              `yaml:"count_slack"`
	PlannedTimeOfDay    string           `yaml:"planned_time_of_day"`
	PageSize            int              `yaml:"page_size"`
	PlanCacheTTL        time.Duration    `yaml:"plan_cache_ttl"`
}

// DefaultPolicy starts from the depot at the main warehouse
func DefaultPolicy() Policy {
	return Policy{
		FleetSize:           3,
		Depot:               routing.Location{Latitude: 37.34692, Longitude: -121.92984},
		SearchBudget:        2 * time.Second,
		SpanCostCoefficient: 100,
		// dropping a bin outweighs 100 km of longest-minus-shortest imbalance
		DropPenalty:         10000000,
		BalancePenalty:      100000,
		CountSlack:          2,
		PlannedTimeOfDay:    "08:00",
		PageSize:            20,
		PlanCacheTTL:        30 * time.Minute,
	}
}

// Load reads .env (if present) and the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	}

	cfg := &Config{
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		Port:                      getEnv("PORT", "8080"),
		JWTSecret:                 os.Getenv("APP_JWT_SECRET"),
		OracleURL:                 os.Getenv("ORACLE_URL"),
		ModelVersion:              getEnv("MODEL_VERSION", "v1"),
		RedisURL:                  os.Getenv("REDIS_URL"),
		KafkaBrokers:              os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:                getEnv("KAFKA_TOPIC", "binfleet.events"),
		FirebaseCredentialsBase64: os.Getenv("FIREBASE_CREDENTIALS_BASE64"),
		FirebaseCredentialsFile:   os.Getenv("FIREBASE_CREDENTIALS_FILE"),
		GoogleMapsAPIKey:          os.Getenv("GOOGLE_MAPS_API_KEY"),
		PolicyPath:                os.Getenv("PLANNER_CONFIG"),
	}

	var err error
	if cfg.OracleTimeout, err = time.ParseDuration(getEnv("ORACLE_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("invalid ORACLE_TIMEOUT: %w", err)
	}
	if cfg.OracleRPS, err = strconv.ParseFloat(getEnv("ORACLE_RPS", "5"), 64); err != nil || cfg.OracleRPS <= 0 {
		return nil, fmt.Errorf("invalid ORACLE_RPS %q", os.Getenv("ORACLE_RPS"))
	}
	if cfg.OracleConcurrency, err = strconv.Atoi(getEnv("ORACLE_CONCURRENCY", "4")); err != nil || cfg.OracleConcurrency < 1 {
		return nil, fmt.Errorf("invalid ORACLE_CONCURRENCY %q", os.Getenv("ORACLE_CONCURRENCY"))
	}
	if cfg.SeedDemo, err = strconv.ParseBool(getEnv("SEED_DEMO", "false")); err != nil {
		return nil, fmt.Errorf("invalid SEED_DEMO: %w", err)
	}

	if cfg.Policy, err = LoadPolicy(cfg.PolicyPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPolicy overlays the YAML file at path onto DefaultPolicy. An empty
// path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read planner config: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse planner config: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	log.Printf("✅ Loaded planner policy from %s (fleet=%d, budget=%s)", path, policy.FleetSize, policy.SearchBudget)
	return policy, nil
}

func (p Policy) Validate() error {
	switch {
	case p.FleetSize < 1:
		return fmt.Errorf("fleet_size must be at least 1, got %d", p.FleetSize)
	case p.SearchBudget <= 0:
		return fmt.Errorf("search_budget must be positive")
	case p.CountSlack < 0:
		return fmt.Errorf("count_slack must not be negative")
	case p.PageSize < 1:
		return fmt.Errorf("page_size must be at least 1")
	case p.PlanCacheTTL <= 0:
		return fmt.Errorf("plan_cache_ttl must be positive")
	}
	if _, err := p.PlannedOffset(); err != nil {
		return err
	}
	return nil
}

// SolverOptions maps the policy onto the route solver's options
func (p Policy) SolverOptions() routing.Options {
	return routing.Options{
		Vehicles:            p.FleetSize,
		SearchBudget:        p.SearchBudget,
		SpanCostCoefficient: p.SpanCostCoefficient,
		DropPenalty:         p.DropPenalty,
		BalancePenalty:      p.BalancePenalty,
		CountSlack:          p.CountSlack,
	}
}

// PlannedOffset parses planned_time_of_day ("HH:MM") as an offset from midnight UTC
func (p Policy) PlannedOffset() (time.Duration, error) {
	hh, mm, ok := strings.Cut(p.PlannedTimeOfDay, ":")
	if !ok {
		return 0, fmt.Errorf("planned_time_of_day must be HH:MM, got %q", p.PlannedTimeOfDay)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("planned_time_of_day must be HH:MM, got %q", p.PlannedTimeOfDay)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
