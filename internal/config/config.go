package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Ledger backends selectable through LEDGER_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env           string        // application environment (e.g. "dev", "prod")
	Port          string        // HTTP port to listen on
	JWTSecret     string        // secret used to verify customer and admin tokens
	LedgerBackend string        // memory | redis | mysql
	LedgerPrefix  string        // key prefix for the redis ledger
	DBUser        string        // database username (mysql backend only)
	DBPass        string        // database password (optional)
	DBHost        string        // database host address
	DBPort        string        // database port number
	DBName        string        // database name
	RabbitURL     string        // AMQP URL; empty disables messaging
	HoldTTL       time.Duration // how long a pending hold survives without payment
	SweepInterval time.Duration // how often abandoned holds are swept
	WebhookSecret string        // shared secret for POST /v1/orders/events
	ShowPending   bool          // expose pending holds as booked in availability
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	cfg := Config{
		Env:           envStr("APP_ENV", "dev"),
		Port:          envStr("APP_PORT", "8080"),
		JWTSecret:     must("JWT_SECRET"),
		LedgerBackend: strings.ToLower(envStr("LEDGER_BACKEND", BackendMemory)),
		LedgerPrefix:  envStr("LEDGER_PREFIX", "ledger"),
		RabbitURL:     envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		HoldTTL:       envDur("HOLD_TTL", 15*time.Minute),
		SweepInterval: envDur("SWEEP_INTERVAL", time.Minute),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		ShowPending:   envBool("PENDING_HOLDS_VISIBLE", false),
	}
	switch cfg.LedgerBackend {
	case BackendMemory, BackendRedis:
	case BackendMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = envStr("DB_PORT", "3306")
		cfg.DBName = must("DB_NAME")
	default:
		log.Fatalf("invalid LEDGER_BACKEND: %q", cfg.LedgerBackend)
	}
	if cfg.HoldTTL <= 0 {
		log.Fatalf("HOLD_TTL must be positive, got %s", cfg.HoldTTL)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
