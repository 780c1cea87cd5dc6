// Package config provides configuration for the chat backend.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the chatd configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// OpenRouter
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	AppBaseURL        string
	AppTitle          string

	// RelayURL is the stream endpoint the orchestrator consumes; by
	// default the loopback address of this process's own relay surface.
	RelayURL string

	// Timeouts / intervals
	LLMTimeout     time.Duration
	FlushInterval  time.Duration
	ModelsCacheTTL time.Duration

	// Logging
	LogLevel string
	LogFile  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := getEnvInt("HTTP_PORT", 8080)
	cfg := &Config{
		HTTPPort:          port,
		DatabaseURL:       getEnv("DATABASE_URL", "file:chatd.db?cache=shared&mode=rwc"),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		AppBaseURL:        getEnv("APP_BASE_URL", "http://localhost:3000"),
		AppTitle:          getEnv("APP_TITLE", "Madlen Chat"),
		RelayURL:          getEnv("RELAY_URL", fmt.Sprintf("http://localhost:%d/api/chat/stream", port)),
		LLMTimeout:        time.Duration(getEnvInt("LLM_TIMEOUT_MS", 300000)) * time.Millisecond,
		FlushInterval:     time.Duration(getEnvInt("FLUSH_INTERVAL_MS", 200)) * time.Millisecond,
		ModelsCacheTTL:    time.Duration(getEnvInt("MODELS_CACHE_TTL_MS", 900000)) * time.Millisecond,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", "logs/chatd.log"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
