package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is constructed once in main and injected into every component
// constructor. No component reads the environment on its own.
type Config struct {
	HTTPAddr    string
	PostgresDSN string
	RedisAddr   string

	// AgentURL is where agent invocations are POSTed.
	AgentURL         string
	AgentCallTimeout time.Duration

	WatchdogDelay time.Duration
	MaxRetries    int

	InvokerConcurrency int

	// QueueDedupWindow bounds how long a dedup key suppresses re-enqueues.
	QueueDedupWindow time.Duration

	// QueueMaxDeliveries caps the queue's own redelivery of a single
	// message; independent of the watchdog retry budget.
	QueueMaxDeliveries int

	TimerPollInterval time.Duration
}

func Load() *Config {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		PostgresDSN:        getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=revflow port=5432 sslmode=disable"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		AgentURL:           getEnv("AGENT_URL", "http://localhost:9090/invocations"),
		AgentCallTimeout:   getEnvDuration("AGENT_CALL_TIMEOUT", 30*time.Second),
		WatchdogDelay:      time.Duration(getEnvInt("WATCHDOG_DELAY_MINUTES", 65)) * time.Minute,
		MaxRetries:         getEnvInt("MAX_RETRIES", 3),
		InvokerConcurrency: getEnvInt("INVOKER_CONCURRENCY", 4),
		QueueDedupWindow:   getEnvDuration("QUEUE_DEDUP_WINDOW", 5*time.Minute),
		QueueMaxDeliveries: getEnvInt("QUEUE_MAX_DELIVERIES", 5),
		TimerPollInterval:  getEnvDuration("TIMER_POLL_INTERVAL", 5*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
