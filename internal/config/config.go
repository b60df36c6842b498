package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	PostgresDSN    string
	RedisAddr      string
	KafkaBrokers   []string
	ServiceName    string
	ReservationTTL time.Duration
	SweepInterval  time.Duration
}

// Load читает конфигурацию из окружения. Пустые DSN/адреса означают
// in-memory/nop бэкенды.
func Load() Config {
	return Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":9091"),
		PostgresDSN:    getenv("POSTGRES_DSN", ""),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		KafkaBrokers:   splitCSV(getenv("KAFKA_BROKERS", "")),
		ServiceName:    getenv("SERVICE_NAME", "lumina-checkout"),
		ReservationTTL: getdur("RESERVATION_TTL", 15*time.Minute),
		SweepInterval:  getdur("SWEEP_INTERVAL", 30*time.Second),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
