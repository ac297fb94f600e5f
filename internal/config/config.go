package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Server
	Port  int
	Debug bool

	// Executor
	ExecutorBackend string // docker, mock
	ExecTimeout     time.Duration
	MaxConcurrent   int // admission limit on simultaneous executions

	// Limits applied to every provisioned environment
	MemoryMB     int
	CPULimit     float64
	PidsLimit    int
	WorkspaceDir string

	// Language profiles
	ProfilesPath string // optional YAML override file

	// Terminal sessions
	MaxSessions    int
	SessionIdleTTL time.Duration
	SessionDBPath  string

	// Queue (optional async execution)
	AMQPURL      string
	QueueWorkers int

	// History (optional result audit)
	DatabaseURL string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:  getEnvInt("PORT", 8080),
		Debug: getEnvBool("DEBUG", false),

		ExecutorBackend: getEnv("EXECUTOR_BACKEND", "docker"),
		ExecTimeout:     time.Duration(getEnvInt("EXEC_TIMEOUT_SECONDS", 10)) * time.Second,
		MaxConcurrent:   getEnvInt("MAX_CONCURRENT_EXECUTIONS", 10),

		MemoryMB:     getEnvInt("ENV_MEMORY_MB", 256),
		CPULimit:     getEnvFloat("ENV_CPU_LIMIT", 0.5),
		PidsLimit:    getEnvInt("ENV_PIDS_LIMIT", 64),
		WorkspaceDir: getEnv("WORKSPACE_DIR", os.TempDir()),

		ProfilesPath: getEnv("LANGUAGE_PROFILES", ""),

		MaxSessions:    getEnvInt("MAX_TERMINAL_SESSIONS", 10),
		SessionIdleTTL: time.Duration(getEnvInt("SESSION_IDLE_TTL_SECONDS", 1800)) * time.Second,
		SessionDBPath:  getEnv("SESSION_DB_PATH", "sessions.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		QueueWorkers: getEnvInt("QUEUE_WORKERS", 3),

		DatabaseURL: getEnv("DATABASE_URL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
