package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for the whetstone service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Provider    ProviderConfig    `yaml:"provider"`
	Improvement ImprovementConfig `yaml:"improvement"`
	Security    SecurityConfig    `yaml:"security"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Events      EventsConfig      `yaml:"events"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures the version store backend
type DatabaseConfig struct {
	Type string `yaml:"type"` // "memory", "postgres"
	DSN  string `yaml:"dsn"`  // For Postgres
}

// ProviderConfig configures the language-model provider
type ProviderConfig struct {
	Type      string        `yaml:"type"` // "anthropic", "ollama", "mock"
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	Endpoint  string        `yaml:"endpoint"` // For Ollama / custom base URLs
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ImprovementConfig holds the lifecycle policy knobs
type ImprovementConfig struct {
	DefaultMinGrades  int           `yaml:"default_min_grades"`
	DefaultThreshold  float64       `yaml:"default_threshold"`
	FeedbackSampleCap int           `yaml:"feedback_sample_cap"`
	PreviewLength     int           `yaml:"preview_length"`
	MaxCycles         int           `yaml:"max_cycles"` // 0 = unlimited
	Cooldown          time.Duration `yaml:"cooldown"`   // 0 = none
}

// SecurityConfig configures authentication and CORS
type SecurityConfig struct {
	EnableAuth     bool     `yaml:"enable_auth"`
	APIKeys        []string `yaml:"api_keys,omitempty"`
	JWTSecret      string   `yaml:"jwt_secret,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig configures per-caller request limiting
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MaxRequests   int           `yaml:"max_requests"`
	Window        time.Duration `yaml:"window"`
	Backend       string        `yaml:"backend"` // "memory" or "redis"
	RedisURL      string        `yaml:"redis_url,omitempty"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// EventsConfig configures lifecycle event publishing
type EventsConfig struct {
	Enabled    bool          `yaml:"enabled"`
	NatsURL    string        `yaml:"nats_url"`
	StreamName string        `yaml:"stream_name"`
	Timeout    time.Duration `yaml:"timeout"`
}

// TelemetryConfig configures OpenTelemetry export
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// LoadConfigFromFile loads configuration from a YAML file at the specified path.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${ANTHROPIC_API_KEY}) before parsing YAML
	expanded := os.ExpandEnv(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "memory",
		},
		Provider: ProviderConfig{
			Type:      "mock",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
			Timeout:   90 * time.Second,
		},
		Improvement: ImprovementConfig{
			DefaultMinGrades:  50,
			DefaultThreshold:  3.5,
			FeedbackSampleCap: 10,
			PreviewLength:     500,
			MaxCycles:         0,
			Cooldown:          0,
		},
		Security: SecurityConfig{
			EnableAuth:     false,
			AllowedOrigins: []string{"*"},
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			MaxRequests:   30,
			Window:        time.Minute,
			Backend:       "memory",
			CleanupPeriod: 5 * time.Minute,
		},
		Events: EventsConfig{
			Enabled:    false,
			NatsURL:    "nats://localhost:4222",
			StreamName: "WHETSTONE",
			Timeout:    10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "otel-collector:4317",
			ServiceName:  "whetstone",
		},
	}
}
