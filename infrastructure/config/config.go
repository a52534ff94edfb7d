package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress   string        `yaml:"server_address"`
	Environment     string        `yaml:"environment"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	BasePath        string        `yaml:"base_path"`

	// Storage
	StoreBackend  string `yaml:"store_backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	SQLitePath    string `yaml:"sqlite_path"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	IndexName     string `yaml:"index_name"`

	// AWS configuration
	AWSRegion    string `yaml:"aws_region"`
	EventBusName string `yaml:"event_bus_name"`

	// Lambda configuration
	IsLambda bool `yaml:"is_lambda"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Authentication
	JWTSecret       string `yaml:"jwt_secret"`
	JWTIssuer       string `yaml:"jwt_issuer"`
	EditTokenSecret string `yaml:"edit_token_secret"`

	// Rate limiting per client IP
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int `yaml:"rate_limit_burst"`

	// Store circuit breaker
	BreakerEnabled bool          `yaml:"breaker_enabled"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`

	// Feature flags
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing"`
	EnableCORS    bool `yaml:"enable_cors"`

	// OTLP collector for spans; empty keeps spans in process
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		ServerAddress:      ":8080",
		Environment:        "development",
		ShutdownTimeout:    15 * time.Second,
		BasePath:           "/wikibase-reconcile-edit/v0",
		StoreBackend:       StoreMemory,
		SQLitePath:         "data/reconcile-edit.db",
		DynamoDBTable:      "reconcile-edit",
		IndexName:          "GSI1",
		AWSRegion:          "us-west-2",
		JWTIssuer:          "reconcile-edit",
		LogLevel:           "info",
		RateLimitPerMinute: 120,
		RateLimitBurst:     20,
		BreakerEnabled:     true,
		BreakerTimeout:     60 * time.Second,
		EnableMetrics:      true,
		EnableCORS:         true,
		OTLPInsecure:       true,
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named
// by CONFIG_FILE (if any), then environment variables.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	cfg.overlayEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.ServerAddress = getEnv("SERVER_ADDRESS", c.ServerAddress)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.BasePath = getEnv("BASE_PATH", c.BasePath)

	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	c.PostgresDSN = getEnv("POSTGRES_DSN", getEnv("DATABASE_URL", c.PostgresDSN))
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.DynamoDBTable = getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", c.DynamoDBTable))
	c.IndexName = getEnv("INDEX_NAME", c.IndexName)

	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.EventBusName = getEnv("EVENT_BUS_NAME", c.EventBusName)
	c.IsLambda = getEnvBool("IS_LAMBDA", c.IsLambda || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "")

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTIssuer = getEnv("JWT_ISSUER", c.JWTIssuer)
	c.EditTokenSecret = getEnv("EDIT_TOKEN_SECRET", c.EditTokenSecret)

	c.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)
	c.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst)

	c.BreakerEnabled = getEnvBool("BREAKER_ENABLED", c.BreakerEnabled)
	c.BreakerTimeout = getEnvDuration("BREAKER_TIMEOUT", c.BreakerTimeout)

	c.EnableMetrics = getEnvBool("ENABLE_METRICS", c.EnableMetrics)
	c.EnableTracing = getEnvBool("ENABLE_TRACING", c.EnableTracing)
	c.EnableCORS = getEnvBool("ENABLE_CORS", c.EnableCORS)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.OTLPInsecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", c.OTLPInsecure)
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreSQLite:
	case StoreDynamoDB:
		if c.DynamoDBTable == "" || c.IndexName == "" {
			return fmt.Errorf("DYNAMODB_TABLE and INDEX_NAME are required for the dynamodb store")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.Environment == "production" {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.EditTokenSecret == "" {
			return fmt.Errorf("EDIT_TOKEN_SECRET is required in production")
		}
		if c.StoreBackend == StoreMemory {
			return fmt.Errorf("the memory store is not allowed in production")
		}
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
