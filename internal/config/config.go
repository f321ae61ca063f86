package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	LogLevel string

	DBDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// catalog
	CatalogFile string

	// admin + visitors
	AdminKey           string
	AdminKeyHash       string
	VisitorTokenSecret string
	VisitorTokenTTL    time.Duration

	// chat
	ChatHistoryCap    int
	PersistRetries    int
	PersistBackoff    time.Duration
	TurnRatePerMinute int
	KeepAlive         time.Duration

	// AI provider
	AIProvider        string
	AnswerBaseURL     string
	AnswerAPIKey      string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	// rabbitMQ
	RabbitURL   string
	RabbitQueue string
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func Load() Config {
	// DSN demo:
	// mysql:  app:apppass@tcp(127.0.0.1:3306)/repochat?charset=utf8mb4&parseTime=true&loc=Local
	// sqlite: sqlite:repochat.db
	dsn := getenv("DB_DSN", "sqlite:repochat.db")

	historyCap := getint("CHAT_HISTORY_CAP", 8)
	if historyCap <= 0 || historyCap > 100 {
		historyCap = 8
	}

	retries := getint("PERSIST_RETRIES", 3)
	if retries < 1 {
		retries = 1
	}

	return Config{
		HTTPAddr: getenv("HTTP_ADDR", ":"+getenv("API_PORT", getenv("PORT", "3001"))),
		LogLevel: getenv("LOG_LEVEL", "info"),

		DBDSN:         dsn,
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getint("REDIS_DB", 0),

		CatalogFile: getenv("CATALOG_FILE", "catalog.yaml"),

		AdminKey:           os.Getenv("ADMIN_KEY"),
		AdminKeyHash:       os.Getenv("ADMIN_KEY_HASH"),
		VisitorTokenSecret: getenv("VISITOR_TOKEN_SECRET", "dev-secret-change-me"),
		VisitorTokenTTL:    getduration("VISITOR_TOKEN_TTL", 30*24*time.Hour),

		ChatHistoryCap:    historyCap,
		PersistRetries:    retries,
		PersistBackoff:    getduration("PERSIST_BACKOFF", 200*time.Millisecond),
		TurnRatePerMinute: getint("TURN_RATE_PER_MINUTE", 20),
		KeepAlive:         getduration("SSE_KEEPALIVE", 15*time.Second),

		AIProvider:        strings.ToLower(getenv("AI_PROVIDER", "http")),
		AnswerBaseURL:     getenv("ANSWER_BASE_URL", "http://localhost:8787"),
		AnswerAPIKey:      os.Getenv("ANSWER_API_KEY"),
		OllamaBaseURL:     getenv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getenv("OLLAMA_MODEL", "llama3:latest"),
		OpenRouterBaseURL: getenv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getenv("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),

		// empty RABBIT_URL disables the persistence retry queue
		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: getenv("RABBIT_QUEUE", "chat_persist"),
	}
}
