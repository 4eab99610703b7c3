package config

import "time"

const defaultPort = 8080

var defaultDB = DB{
	Host: "127.0.0.1",
	Port: "5432",
	User: "myuser",
	Pass: "mypassword",
	Name: "dispatch_db",
}

var defaultRedis = Redis{
	PresenceTTL: 90 * time.Second,
}

var defaultRateLimit = RateLimit{
	Enabled:    true,
	Rate:       5,
	Burst:      10,
	TTL:        10 * time.Minute,
	MaxBuckets: 100_000,
}

var defaultKafka = Kafka{
	GroupID:     "service-dispatch",
	OrdersTopic: "orders.lifecycle",
	EventsTopic: "dispatch.events",
}

var defaultDispatch = Dispatch{
	OperationTimeout: 5 * time.Second,
	OfferTTL:         0,
	SweepInterval:    5 * time.Second,
	StateTTL:         24 * time.Hour,
	LockTTL:          15 * time.Second,
	NotifyTimeout:    5 * time.Second,
}

var defaultRetry = Retry{
	MaxAttempts: 4,
	BaseDelay:   150 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

// DefaultPort returns the default port.
func DefaultPort() int {
	return defaultPort
}

// DefaultDB returns the default database settings.
func DefaultDB() DB {
	return defaultDB
}

// DefaultKafka returns the default Kafka settings. Brokers are empty, so Kafka is off by default.
func DefaultKafka() Kafka {
	return defaultKafka
}

// DefaultDispatch returns the default dispatch settings.
func DefaultDispatch() Dispatch {
	return defaultDispatch
}

// DefaultRetry returns the default retry settings for dispatch attempts.
func DefaultRetry() Retry {
	return defaultRetry
}

// DefaultRedis returns the default Redis settings. Addr is empty, so state stays in memory.
func DefaultRedis() Redis {
	return defaultRedis
}

// DefaultRateLimit returns the default limiter settings for courier responses.
func DefaultRateLimit() RateLimit {
	return defaultRateLimit
}
