// Package config loads chatd configuration from the environment. A .env
// file in the working directory is honored when present, which keeps local
// development simple without affecting deployments.
package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all chatd settings.
type Config struct {
	ListenAddr     string   // address for the HTTP + WebSocket server
	PostgresDSN    string   // history store; empty runs chatd without persistence
	RedisAddr      string   // last-seen + rate limiting; empty disables both
	NATSURL        string   // cross-instance fan-out; empty means single instance
	InstanceName   string   // this instance's name in presence announcements
	AllowedOrigins []string // CORS origins for the REST API
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("config: loaded .env file")
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "chatd-1"
	}

	cfg := &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		NATSURL:        getEnv("NATS_URL", ""),
		InstanceName:   getEnv("INSTANCE_NAME", hostname),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
