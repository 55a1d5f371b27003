package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete gate configuration
type Config struct {
	Server        ServerConfig
	Workspace     WorkspaceConfig
	Policy        PolicyConfig
	RateLimit     RateLimitConfig
	Risk          RiskConfig
	Audit         AuditConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// WorkspaceConfig holds the protected resource root. Every path
// parameter must resolve inside Root, and the executor refuses to
// touch anything outside it.
type WorkspaceConfig struct {
	Root string
}

// PolicyConfig holds policy snapshot loading configuration
type PolicyConfig struct {
	Path string
}

// RateLimitConfig holds the default fixed-window limits applied when a
// policy rule carries no per-action override
type RateLimitConfig struct {
	DefaultRequests  int
	DefaultPeriod    time.Duration
	IdleTTL          time.Duration
	EvictionInterval time.Duration
}

// RiskConfig holds risk scorer weights and the veto threshold.
// Externalized so thresholds can be tuned without a rebuild.
type RiskConfig struct {
	Threshold       int
	AfterHoursBonus int
	RatePressureMax int
	HistoryMax      int
	HistoryWindow   time.Duration
	AfterHoursStart int // hour of day, inclusive
	AfterHoursEnd   int // hour of day, exclusive
}

// AuditConfig holds audit store configuration. When DatabaseURL is set
// the Postgres store is used; otherwise records append to the JSONL file.
type AuditConfig struct {
	FilePath     string
	DatabaseURL  string
	WriteTimeout time.Duration
	RetryBuffer  int
}

// AuthConfig holds actor token verification configuration
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	// Load .env if present; env vars already set take precedence
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8443),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Workspace: WorkspaceConfig{
			Root: getEnv("WORKSPACE_ROOT", "/workspace"),
		},
		Policy: PolicyConfig{
			Path: getEnv("POLICY_PATH", "policies.yaml"),
		},
		RateLimit: RateLimitConfig{
			DefaultRequests:  getEnvAsInt("RATE_LIMIT_DEFAULT_REQUESTS", 10),
			DefaultPeriod:    getEnvAsDuration("RATE_LIMIT_DEFAULT_PERIOD", time.Minute),
			IdleTTL:          getEnvAsDuration("RATE_LIMIT_IDLE_TTL", 15*time.Minute),
			EvictionInterval: getEnvAsDuration("RATE_LIMIT_EVICTION_INTERVAL", time.Minute),
		},
		Risk: RiskConfig{
			Threshold:       getEnvAsInt("RISK_THRESHOLD", 75),
			AfterHoursBonus: getEnvAsInt("RISK_AFTER_HOURS_BONUS", 30),
			RatePressureMax: getEnvAsInt("RISK_RATE_PRESSURE_MAX", 25),
			HistoryMax:      getEnvAsInt("RISK_HISTORY_MAX", 20),
			HistoryWindow:   getEnvAsDuration("RISK_HISTORY_WINDOW", 10*time.Minute),
			AfterHoursStart: getEnvAsInt("RISK_AFTER_HOURS_START", 22),
			AfterHoursEnd:   getEnvAsInt("RISK_AFTER_HOURS_END", 6),
		},
		Audit: AuditConfig{
			FilePath:     getEnv("AUDIT_FILE_PATH", "audit_log.jsonl"),
			DatabaseURL:  getEnv("AUDIT_DATABASE_URL", ""),
			WriteTimeout: getEnvAsDuration("AUDIT_WRITE_TIMEOUT", 2*time.Second),
			RetryBuffer:  getEnvAsInt("AUDIT_RETRY_BUFFER", 1024),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", "agent-gate"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that would otherwise surface
// as confusing runtime behavior
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace root must not be empty")
	}
	if c.RateLimit.DefaultRequests <= 0 {
		return fmt.Errorf("rate limit default requests must be positive, got %d", c.RateLimit.DefaultRequests)
	}
	if c.RateLimit.DefaultPeriod <= 0 {
		return fmt.Errorf("rate limit default period must be positive, got %s", c.RateLimit.DefaultPeriod)
	}
	if c.Risk.Threshold < 0 || c.Risk.Threshold > 100 {
		return fmt.Errorf("risk threshold must be within [0,100], got %d", c.Risk.Threshold)
	}
	if c.Audit.FilePath == "" && c.Audit.DatabaseURL == "" {
		return fmt.Errorf("audit requires a file path or a database URL")
	}
	if c.Environment == "production" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}
	return nil
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
