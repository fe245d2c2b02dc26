package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the chat client.
type Config struct {
	Env      string
	LogLevel string
	Port     string

	APIBaseURL  string
	RealtimeURL string
	RedisURL    string

	AllowedOrigins []string

	PollInterval         time.Duration
	HeartbeatInterval    time.Duration
	TypingTimeout        time.Duration
	ConnectTimeout       time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	QueueSoftLimit       int
	PollFallback         bool

	// Static credentials for the command line client
	AuthToken string
	UserID    string
	UserName  string
	AgentID   string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics when no auth token is configured.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnv("PORT", "8090"),

		APIBaseURL:  strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:3001/api"), "/"),
		RealtimeURL: getEnv("REALTIME_URL", "ws://localhost:3001/ws"),
		RedisURL:    os.Getenv("REDIS_URL"),

		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),

		PollInterval:         getMillis("POLL_INTERVAL_MS", 2000),
		HeartbeatInterval:    getMillis("HEARTBEAT_INTERVAL_MS", 30000),
		TypingTimeout:        getMillis("TYPING_TIMEOUT_MS", 3000),
		ConnectTimeout:       getMillis("CONNECT_TIMEOUT_MS", 10000),
		ReconnectBaseDelay:   getMillis("RECONNECT_BASE_DELAY_MS", 1000),
		MaxReconnectAttempts: getInt("MAX_RECONNECT_ATTEMPTS", 5),
		QueueSoftLimit:       getInt("QUEUE_SOFT_LIMIT", 500),
		PollFallback:         getEnv("POLL_FALLBACK", "false") == "true",

		AuthToken: os.Getenv("AUTH_TOKEN"),
		UserID:    getEnv("USER_ID", "local-user"),
		UserName:  os.Getenv("USER_NAME"),
		AgentID:   getEnv("AGENT_ID", "therapist"),
	}

	if cfg.Env == "production" && cfg.AuthToken == "" {
		panic("AUTH_TOKEN is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func getMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getInt(key, defaultMillis)) * time.Millisecond
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
