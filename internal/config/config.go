package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/podrag/internal/domain"
)

// Index drivers.
const (
	DriverRedis  = "redis"
	DriverValkey = "valkey"
	DriverQdrant = "qdrant"
)

// Config holds the podrag service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Index      IndexConfig      `yaml:"index"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

// Addr returns the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// IndexConfig holds vector index connection and layout settings.
type IndexConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey, qdrant (default: redis)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"` // redis/valkey
	APIKey           string   `yaml:"api_key"`  // qdrant
	UseTLS           bool     `yaml:"use_tls"`
	AllowAnonymous   bool     `yaml:"allow_anonymous"`
	Name             string   `yaml:"name"`
	Namespace        string   `yaml:"namespace"`
	KeyPrefix        string   `yaml:"key_prefix"`
	Dimensions       int      `yaml:"dimensions"`
	VectorField      string   `yaml:"vector_field"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	TimeoutMs        int      `yaml:"timeout_ms"`
}

// EmbeddingConfig holds the query embedding provider settings.
type EmbeddingConfig struct {
	Provider         string      `yaml:"provider"` // metrics label
	BaseURL          string      `yaml:"base_url"`
	APIKey           string      `yaml:"api_key"`
	Model            string      `yaml:"model"`
	Dimensions       int         `yaml:"dimensions"` // sent to the provider; 0 = model default
	QueryInstruction string      `yaml:"query_instruction"`
	TimeoutMs        int         `yaml:"timeout_ms"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig holds embedding cache settings. Only the redis/valkey drivers have a cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	TTLSec  int  `yaml:"ttl_sec"` // 0 = no expiry
}

// GenerationConfig holds the answer generation provider settings.
type GenerationConfig struct {
	Provider  string        `yaml:"provider"` // metrics label
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	TimeoutMs int           `yaml:"timeout_ms"`
	Retries   *int          `yaml:"retries"` // nil = 1
	Breaker   BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the generation provider.
type BreakerConfig struct {
	MaxFailures    uint32 `yaml:"max_failures"`
	OpenTimeoutSec int    `yaml:"open_timeout_sec"`
	HalfOpenMax    uint32 `yaml:"half_open_max_requests"`
}

// RetrievalConfig holds query pipeline settings.
type RetrievalConfig struct {
	TopK                   int    `yaml:"top_k"`
	MaxTopK                int    `yaml:"max_top_k"`
	MaxContextChars        int    `yaml:"max_context_chars"`
	DegradeOnSearchFailure *bool  `yaml:"degrade_on_search_failure"`
	NoInformationAnswer    string `yaml:"no_information_answer"`
}

// MaxRetries reports how many times a transient failure is retried (default 1).
func (g GenerationConfig) MaxRetries() int {
	if g.Retries == nil {
		return 1
	}
	return max(*g.Retries, 0)
}

// Degrade reports the effective degradation policy (default true).
func (r RetrievalConfig) Degrade() bool {
	return r.DegradeOnSearchFailure == nil || *r.DegradeOnSearchFailure
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands environment variables, decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	vec := domain.DefaultVectorConfig()
	if c.Index.Driver == "" {
		c.Index.Driver = DriverRedis
	}
	if c.Index.Name == "" {
		c.Index.Name = vec.IndexName
	}
	if c.Index.Namespace == "" {
		c.Index.Namespace = vec.Namespace
	}
	if c.Index.Dimensions <= 0 {
		c.Index.Dimensions = vec.Dimensions
	}
	if c.Index.VectorField == "" && c.Index.Driver != DriverQdrant {
		c.Index.VectorField = "vector"
	}
	if c.Index.ReadinessTimeout <= 0 {
		c.Index.ReadinessTimeout = 10
	}
	if c.Index.TimeoutMs <= 0 {
		c.Index.TimeoutMs = 2000
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = vec.Model
	}
	if c.Embedding.TimeoutMs <= 0 {
		c.Embedding.TimeoutMs = 5000
	}

	if c.Generation.Provider == "" {
		c.Generation.Provider = "openai"
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "gpt-3.5-turbo-instruct"
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = 256
	}
	if c.Generation.TimeoutMs <= 0 {
		c.Generation.TimeoutMs = 30000
	}
	if c.Generation.Breaker.MaxFailures == 0 {
		c.Generation.Breaker.MaxFailures = 5
	}
	if c.Generation.Breaker.OpenTimeoutSec <= 0 {
		c.Generation.Breaker.OpenTimeoutSec = 30
	}
	if c.Generation.Breaker.HalfOpenMax == 0 {
		c.Generation.Breaker.HalfOpenMax = 1
	}

	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 10
	}
	if c.Retrieval.MaxTopK <= 0 {
		c.Retrieval.MaxTopK = 100
	}
	if c.Retrieval.MaxContextChars == 0 {
		c.Retrieval.MaxContextChars = 4000
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Index.Driver {
	case DriverRedis, DriverValkey:
		if c.Index.Password == "" && !c.Index.AllowAnonymous {
			return fmt.Errorf("index.password is required for driver %q (set index.allow_anonymous to skip)", c.Index.Driver)
		}
	case DriverQdrant:
		if c.Index.APIKey == "" && !c.Index.AllowAnonymous {
			return fmt.Errorf("index.api_key is required for driver %q (set index.allow_anonymous to skip)", c.Index.Driver)
		}
		if c.Embedding.Cache.Enabled {
			return fmt.Errorf("embedding.cache requires driver %q or %q", DriverRedis, DriverValkey)
		}
	default:
		return fmt.Errorf("index.driver must be %q, %q or %q, got %q", DriverRedis, DriverValkey, DriverQdrant, c.Index.Driver)
	}
	if len(c.Index.Addrs) == 0 {
		return fmt.Errorf("index.addrs is required")
	}

	if c.Generation.APIKey == "" {
		return fmt.Errorf("generation.api_key is required")
	}
	if c.Retrieval.TopK > c.Retrieval.MaxTopK {
		return fmt.Errorf("retrieval.top_k (%d) exceeds retrieval.max_top_k (%d)", c.Retrieval.TopK, c.Retrieval.MaxTopK)
	}
	return nil
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
