package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/danielsimonjr/memgraph-go/pkg/decay"
	"github.com/danielsimonjr/memgraph-go/pkg/salience"
	"github.com/danielsimonjr/memgraph-go/pkg/workingmem"
)

// Config contains the complete configuration for a MemGraph client.
//
// It includes settings for:
//   - Storage backend (memory, sqlite, postgres, mysql)
//   - LLM provider (for session summaries and consolidation stages)
//   - Salience weighting, decay behavior, and working memory limits
//
// Example:
//
//	config := &core.Config{
//	    Storage: core.StorageConfig{
//	        Provider: "sqlite",
//	        SQLitePath: "./memgraph.db",
//	    },
//	    LLM: core.LLMConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	        Model:    "gpt-4o-mini",
//	    },
//	}
type Config struct {
	// Storage contains storage backend configuration.
	Storage StorageConfig `json:"storage"`

	// LLM contains LLM provider configuration (optional; without it,
	// summary creation and summarization stages are unavailable).
	LLM LLMConfig `json:"llm"`

	// Salience contains salience component weights. Zero value uses the
	// engine defaults.
	Salience salience.Weights `json:"salience"`

	// Decay contains decay engine configuration. Zero values use the
	// engine defaults.
	Decay decay.Config `json:"decay"`

	// WorkingMemory contains working memory limits. Zero values use the
	// manager defaults.
	WorkingMemory workingmem.Config `json:"working_memory"`

	// TokenEstimator selects the context window estimator: "heuristic"
	// (default) or "tiktoken".
	TokenEstimator string `json:"token_estimator,omitempty"`
}

// StorageConfig contains configuration for the storage backend.
//
// Supported providers: memory, sqlite, postgres, mysql.
type StorageConfig struct {
	// Provider is the storage provider name (memory, sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// SQLitePath is the SQLite database file path (sqlite provider).
	SQLitePath string `json:"sqlite_path,omitempty"`

	// Host is the database host (postgres and mysql providers).
	Host string `json:"host,omitempty"`

	// Port is the database port (postgres and mysql providers).
	Port int `json:"port,omitempty"`

	// User is the database user (postgres and mysql providers).
	User string `json:"user,omitempty"`

	// Password is the database password (postgres and mysql providers).
	Password string `json:"password,omitempty"`

	// DBName is the database name (postgres and mysql providers).
	DBName string `json:"db_name,omitempty"`

	// SSLMode is the connection SSL mode (postgres provider).
	SSLMode string `json:"ssl_mode,omitempty"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai. An empty provider disables LLM features.
type LLMConfig struct {
	// Provider is the LLM provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key"`

	// Model is the model name to use (e.g., "gpt-4o-mini").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - MEMGRAPH_STORAGE_PROVIDER (memory, sqlite, postgres, mysql)
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_DATABASE, POSTGRES_SSLMODE
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - MEMGRAPH_DECAY_HALF_LIFE_HOURS, MEMGRAPH_WORKING_TTL_HOURS,
//     MEMGRAPH_MAX_PER_SESSION, MEMGRAPH_TOKEN_ESTIMATOR
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Storage: StorageConfig{
			Provider: getEnvOrDefault("MEMGRAPH_STORAGE_PROVIDER", "memory"),
		},
		LLM: LLMConfig{
			Provider: os.Getenv("LLM_PROVIDER"),
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    os.Getenv("LLM_MODEL"),
			BaseURL:  os.Getenv("LLM_BASE_URL"),
		},
		TokenEstimator: getEnvOrDefault("MEMGRAPH_TOKEN_ESTIMATOR", "heuristic"),
	}

	switch cfg.Storage.Provider {
	case "sqlite":
		cfg.Storage.SQLitePath = getEnvOrDefault("SQLITE_PATH", "./memgraph.db")
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		cfg.Storage.Host = getEnvOrDefault("POSTGRES_HOST", "localhost")
		cfg.Storage.Port = port
		cfg.Storage.User = getEnvOrDefault("POSTGRES_USER", "postgres")
		cfg.Storage.Password = os.Getenv("POSTGRES_PASSWORD")
		cfg.Storage.DBName = getEnvOrDefault("POSTGRES_DATABASE", "memgraph")
		cfg.Storage.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", "disable")
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		cfg.Storage.Host = getEnvOrDefault("MYSQL_HOST", "localhost")
		cfg.Storage.Port = port
		cfg.Storage.User = getEnvOrDefault("MYSQL_USER", "root")
		cfg.Storage.Password = os.Getenv("MYSQL_PASSWORD")
		cfg.Storage.DBName = getEnvOrDefault("MYSQL_DATABASE", "memgraph")
	}

	if v := os.Getenv("MEMGRAPH_DECAY_HALF_LIFE_HOURS"); v != "" {
		if hours, err := strconv.ParseFloat(v, 64); err == nil && hours > 0 {
			cfg.Decay.HalfLifeHours = hours
		}
	}
	if v := os.Getenv("MEMGRAPH_WORKING_TTL_HOURS"); v != "" {
		if hours, err := strconv.ParseFloat(v, 64); err == nil && hours > 0 {
			cfg.WorkingMemory.DefaultTTL = time.Duration(hours * float64(time.Hour))
		}
	}
	if v := os.Getenv("MEMGRAPH_MAX_PER_SESSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WorkingMemory.MaxPerSession = n
		}
	}

	return cfg, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that the storage provider is one of the supported backends and
// that provider-specific required fields are present.
func (c *Config) Validate() error {
	switch c.Storage.Provider {
	case "", "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return NewMemoryError("Validate", fmt.Errorf("sqlite_path required: %w", ErrInvalidConfig))
		}
	case "postgres", "mysql":
		if c.Storage.Host == "" || c.Storage.DBName == "" {
			return NewMemoryError("Validate", fmt.Errorf("host and db_name required: %w", ErrInvalidConfig))
		}
	default:
		return NewMemoryError("Validate", fmt.Errorf("unknown storage provider %q: %w",
			c.Storage.Provider, ErrInvalidConfig))
	}

	if c.LLM.Provider != "" && c.LLM.Provider != "openai" {
		return NewMemoryError("Validate", fmt.Errorf("unknown llm provider %q: %w",
			c.LLM.Provider, ErrInvalidConfig))
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		return NewMemoryError("Validate", fmt.Errorf("llm api key required: %w", ErrInvalidConfig))
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
