package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"marketplace-dispatch/internal/session"
)

// Config stores service settings.
type Config struct {
	Port      int
	DB        DB
	Redis     Redis
	Kafka     Kafka
	Dispatch  Dispatch
	Retry     Retry
	RateLimit RateLimit
}

// DB stores Postgres connection settings.
type DB struct {
	Host string
	Port string
	User string
	Pass string
	Name string
}

// DSN returns the pgx connection string.
func (d DB) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Pass),
		Host:     d.Host + ":" + d.Port,
		Path:     d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Redis stores Redis settings. An empty Addr keeps race state, locks and presence in memory.
type Redis struct {
	Addr     string
	Password string
	DB       int
	// PresenceTTL bounds how long a courier stays online without a heartbeat.
	PresenceTTL time.Duration
}

// Enabled reports whether Redis is configured.
func (r Redis) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

// Kafka stores Kafka settings. Without brokers the consumer and producer are not started.
type Kafka struct {
	Brokers     []string
	GroupID     string
	OrdersTopic string
	EventsTopic string
}

// Enabled reports whether Kafka brokers are configured.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// Dispatch stores race engine settings.
type Dispatch struct {
	OperationTimeout time.Duration
	// OfferTTL expires offer rounds nobody answered; zero keeps offers open indefinitely.
	OfferTTL      time.Duration
	SweepInterval time.Duration
	StateTTL      time.Duration
	LockTTL       time.Duration
	// NotifyTimeout bounds the notifications sent after a round resolves, still under the order lock.
	NotifyTimeout time.Duration
}

// Retry stores backoff settings for retried dispatch attempts.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RateLimit stores the token bucket settings applied to courier responses.
type RateLimit struct {
	Enabled    bool
	Rate       float64
	Burst      int
	TTL        time.Duration
	MaxBuckets int
}

// Load reads configuration in order: .env (if present) → environment → flags.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("warning: .env not loaded: %v", err)
	}

	cfg := &Config{
		Port:      DefaultPort(),
		DB:        DefaultDB(),
		Redis:     DefaultRedis(),
		Kafka:     DefaultKafka(),
		Dispatch:  DefaultDispatch(),
		Retry:     DefaultRetry(),
		RateLimit: DefaultRateLimit(),
	}

	if err := loadEnv(cfg); err != nil {
		return nil, err
	}

	fs := pflag.CommandLine
	if fs.Lookup("port") == nil {
		fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to listen on")
		fs.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "redis address, empty keeps dispatch state in memory")
		fs.DurationVar(&cfg.Dispatch.OfferTTL, "offer-ttl", cfg.Dispatch.OfferTTL, "expire unanswered offers after this duration, 0 disables")
	}
	fs.ParseErrorsWhitelist.UnknownFlags = true
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = p
	}

	setString(&cfg.DB.Host, "POSTGRES_HOST")
	setString(&cfg.DB.Port, "POSTGRES_PORT")
	setString(&cfg.DB.User, "POSTGRES_USER")
	setString(&cfg.DB.Pass, "POSTGRES_PASSWORD")
	setString(&cfg.DB.Name, "POSTGRES_DB")
	if _, err := strconv.Atoi(cfg.DB.Port); err != nil {
		return fmt.Errorf("invalid POSTGRES_PORT %q: %w", cfg.DB.Port, err)
	}

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		cfg.Redis.DB = n
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	setString(&cfg.Kafka.GroupID, "KAFKA_GROUP_ID")
	setString(&cfg.Kafka.OrdersTopic, "KAFKA_ORDERS_TOPIC")
	setString(&cfg.Kafka.EventsTopic, "KAFKA_EVENTS_TOPIC")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DISPATCH_OPERATION_TIMEOUT", &cfg.Dispatch.OperationTimeout},
		{"DISPATCH_OFFER_TTL", &cfg.Dispatch.OfferTTL},
		{"DISPATCH_SWEEP_INTERVAL", &cfg.Dispatch.SweepInterval},
		{"DISPATCH_STATE_TTL", &cfg.Dispatch.StateTTL},
		{"DISPATCH_LOCK_TTL", &cfg.Dispatch.LockTTL},
		{"DISPATCH_NOTIFY_TIMEOUT", &cfg.Dispatch.NotifyTimeout},
		{"DISPATCH_RETRY_BASE_DELAY", &cfg.Retry.BaseDelay},
		{"DISPATCH_RETRY_MAX_DELAY", &cfg.Retry.MaxDelay},
		{"REDIS_PRESENCE_TTL", &cfg.Redis.PresenceTTL},
		{"RATE_LIMIT_TTL", &cfg.RateLimit.TTL},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	if v := os.Getenv("DISPATCH_RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DISPATCH_RETRY_MAX_ATTEMPTS %q: %w", v, err)
		}
		cfg.Retry.MaxAttempts = n
	}
	return loadRateLimit(&cfg.RateLimit)
}

func loadRateLimit(rl *RateLimit) error {
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_ENABLED %q: %w", v, err)
		}
		rl.Enabled = b
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS %q: %w", v, err)
		}
		rl.Rate = f
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"RATE_LIMIT_BURST", &rl.Burst},
		{"RATE_LIMIT_MAX_BUCKETS", &rl.MaxBuckets},
	}
	for _, it := range ints {
		v := strings.TrimSpace(os.Getenv(it.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", it.key, v, err)
		}
		*it.dst = n
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Dispatch.OperationTimeout <= 0 {
		return fmt.Errorf("invalid dispatch operation timeout: %s", c.Dispatch.OperationTimeout)
	}
	if c.Dispatch.OfferTTL < 0 {
		return fmt.Errorf("invalid offer ttl: %s", c.Dispatch.OfferTTL)
	}
	if c.Dispatch.OfferTTL > 0 && c.Dispatch.SweepInterval <= 0 {
		return fmt.Errorf("invalid sweep interval: %s", c.Dispatch.SweepInterval)
	}
	if c.Dispatch.LockTTL <= 0 || c.Dispatch.StateTTL <= 0 {
		return fmt.Errorf("lock and state ttl must be positive")
	}
	if c.Dispatch.NotifyTimeout <= 0 {
		return fmt.Errorf("invalid dispatch notify timeout: %s", c.Dispatch.NotifyTimeout)
	}
	if held := c.Dispatch.OperationTimeout + c.Dispatch.NotifyTimeout; c.Dispatch.LockTTL <= held {
		return fmt.Errorf("lock ttl %s must exceed operation timeout plus notify timeout (%s)", c.Dispatch.LockTTL, held)
	}
	if c.Redis.Enabled() && c.Redis.PresenceTTL <= session.PingPeriod {
		return fmt.Errorf("redis presence ttl %s must exceed the session ping period %s", c.Redis.PresenceTTL, session.PingPeriod)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive when enabled")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("invalid retry max attempts: %d", c.Retry.MaxAttempts)
	}
	if c.Kafka.Enabled() && (strings.TrimSpace(c.Kafka.GroupID) == "" || strings.TrimSpace(c.Kafka.OrdersTopic) == "") {
		return fmt.Errorf("kafka group id and orders topic are required when brokers are set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
