package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppMode string
	Client  ClientConfig
	Hub     HubConfig
}

// ClientConfig configures one chat session against a messaging hub.
type ClientConfig struct {
	HubURL        string
	UserID        string
	JWTSecret     string
	TokenTTL      time.Duration
	PageSize      int
	CheckInterval time.Duration
	InvokeTimeout time.Duration
	Reconnect     ReconnectConfig
}

type ReconnectConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      int
}

type HubConfig struct {
	Port          string
	JWTSecret     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppMode: getEnv("APP_MODE", "development"),
		Client: ClientConfig{
			HubURL:        getEnv("CHAT_HUB_URL", "ws://localhost:8080/hub"),
			UserID:        getEnv("CHAT_USER_ID", ""),
			JWTSecret:     getEnv("CHAT_JWT_SECRET", "change-me"),
			TokenTTL:      getEnvAsDuration("CHAT_TOKEN_TTL", 5*time.Minute),
			PageSize:      getEnvAsInt("CHAT_PAGE_SIZE", 50),
			CheckInterval: getEnvAsDuration("CHAT_CHECK_INTERVAL", time.Second),
			InvokeTimeout: getEnvAsDuration("CHAT_INVOKE_TIMEOUT", 15*time.Second),
			Reconnect: ReconnectConfig{
				InitialInterval: getEnvAsDuration("CHAT_RECONNECT_INITIAL", 500*time.Millisecond),
				MaxInterval:     getEnvAsDuration("CHAT_RECONNECT_MAX", 30*time.Second),
				MaxRetries:      getEnvAsInt("CHAT_RECONNECT_RETRIES", 4),
			},
		},
		Hub: HubConfig{
			Port:          getEnv("HUB_PORT", "8080"),
			JWTSecret:     getEnv("HUB_JWT_SECRET", "change-me"),
			RedisAddr:     getEnv("HUB_REDIS_ADDR", ""),
			RedisPassword: getEnv("HUB_REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("HUB_REDIS_DB", 0),
		},
	}
}

// DefaultClientConfig returns the client defaults without reading the environment.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HubURL:        "ws://localhost:8080/hub",
		JWTSecret:     "change-me",
		TokenTTL:      5 * time.Minute,
		PageSize:      50,
		CheckInterval: time.Second,
		InvokeTimeout: 15 * time.Second,
		Reconnect: ReconnectConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			MaxRetries:      4,
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
