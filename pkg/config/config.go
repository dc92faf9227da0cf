package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for quarry-agent.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Agent runtime limits
	Agent AgentConfig `yaml:"agent"`

	// Model provider configuration
	Model ModelConfig `yaml:"model"`

	// Analytical store configuration
	Store StoreConfig `yaml:"store"`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`
}

// AgentConfig bounds a single conversation turn.
type AgentConfig struct {
	// MaxToolCalls caps tool invocations per turn. Exceeding the budget ends
	// the turn with accumulated text rather than an error.
	MaxToolCalls int `yaml:"max_tool_calls" env:"AGENT_MAX_TOOL_CALLS" env-default:"3"`
	// RequestTimeoutMs bounds the whole turn regardless of tool iterations.
	RequestTimeoutMs int `yaml:"request_timeout_ms" env:"AGENT_REQUEST_TIMEOUT_MS" env-default:"60000"`
	// MaxRows caps the row count of every guarded query.
	MaxRows int `yaml:"max_rows" env:"AGENT_MAX_ROWS" env-default:"100"`
	// DeepResearch enables the extended research instruction block in the
	// system prompt.
	DeepResearch bool `yaml:"deep_research" env:"AGENT_DEEP_RESEARCH" env-default:"false"`
}

// ModelConfig selects and configures the model provider.
type ModelConfig struct {
	// Provider selects the model client: "openai" (any OpenAI-compatible
	// endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"MODEL_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"MODEL_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Name     string `yaml:"name" env:"MODEL_NAME" env-default:"gpt-4o"`
	APIKey   string `yaml:"-" env:"MODEL_API_KEY"` // Secret - not in YAML

	// TimeoutMs bounds a single model call.
	TimeoutMs int `yaml:"timeout_ms" env:"MODEL_TIMEOUT_MS" env-default:"30000"`
	// MaxRetries bounds retries of retryable model failures (429/5xx/timeout).
	MaxRetries int `yaml:"max_retries" env:"MODEL_MAX_RETRIES" env-default:"2"`
}

// StoreConfig selects and configures the analytical store backend.
type StoreConfig struct {
	// Driver selects the execution backend: "postgres", "mssql", or "mock".
	// The mock store serves fixtures and bypasses the concurrency limiter.
	Driver string `yaml:"driver" env:"STORE_DRIVER" env-default:"postgres"`

	Host     string `yaml:"host" env:"STORE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"STORE_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"STORE_USER" env-default:"quarry"`
	Password string `yaml:"-" env:"STORE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"STORE_DATABASE" env-default:"analytics"`
	SSLMode  string `yaml:"ssl_mode" env:"STORE_SSL_MODE" env-default:"disable"`

	// QueryTimeoutMs is the hard per-query timeout.
	QueryTimeoutMs int `yaml:"query_timeout_ms" env:"STORE_QUERY_TIMEOUT_MS" env-default:"5000"`
	// Concurrency bounds simultaneous executions against the real store.
	Concurrency int `yaml:"concurrency" env:"STORE_CONCURRENCY" env-default:"8"`
	// MaxConnections sizes the underlying connection pool.
	MaxConnections int32 `yaml:"max_connections" env:"STORE_MAX_CONNECTIONS" env-default:"25"`

	// FixturesPath points the mock store at a YAML fixture file.
	FixturesPath string `yaml:"fixtures_path" env:"STORE_FIXTURES_PATH" env-default:"fixtures/store.yaml"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether bearer tokens are required.
	// Set to false for local development without a gateway in front.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// DevTenantID is used when verification is disabled.
	DevTenantID string `yaml:"dev_tenant_id" env:"AUTH_DEV_TENANT_ID" env-default:"dev"`

	// SigningSecret verifies gateway-issued tokens. Environment only.
	SigningSecret string `yaml:"-" env:"AUTH_SIGNING_SECRET"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the runtime cannot operate with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "mssql", "mock":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}

	if c.Agent.MaxToolCalls < 1 {
		return fmt.Errorf("agent.max_tool_calls must be >= 1, got %d", c.Agent.MaxToolCalls)
	}
	if c.Store.Concurrency < 1 {
		return fmt.Errorf("store.concurrency must be >= 1, got %d", c.Store.Concurrency)
	}
	if c.Agent.MaxRows < 1 {
		return fmt.Errorf("agent.max_rows must be >= 1, got %d", c.Agent.MaxRows)
	}

	return nil
}

// ConnectionString returns a connection string for the configured store.
// Localhost is rewritten when running inside Docker so a store on the host
// machine stays reachable.
func (c *StoreConfig) ConnectionString() string {
	host := ResolveHostForDocker(c.Host)
	switch c.Driver {
	case "mssql":
		return fmt.Sprintf(
			"server=%s;port=%d;user id=%s;password=%s;database=%s",
			host, c.Port, c.User, c.Password, c.Database,
		)
	default:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
		)
	}
}
