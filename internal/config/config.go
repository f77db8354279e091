package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string

	MissedThreshold int
	AdminToken      string

	Notifier     string
	WebhookURL   string
	WebhookToken string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitPerMinute    int
	RateLimitBurst        int
	OrgRateLimitPerMinute int
	OrgRateLimitBurst     int
}

func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		MissedThreshold: readInt("MISSED_THRESHOLD", 5),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),

		Notifier:     os.Getenv("NOTIFIER"),
		WebhookURL:   os.Getenv("NOTIF_WEBHOOK_URL"),
		WebhookToken: os.Getenv("NOTIF_WEBHOOK_TOKEN"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       readInt("REDIS_DB", 0),

		RateLimitPerMinute:    readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:        readInt("RATE_LIMIT_BURST", 30),
		OrgRateLimitPerMinute: readInt("ORG_RATE_LIMIT_PER_MIN", 600),
		OrgRateLimitBurst:     readInt("ORG_RATE_LIMIT_BURST", 120),
	}
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
