// Package core provides the main Thorbis memory client.
package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a memory client.
//
// It includes settings for:
//   - Embedding provider (for vector generation)
//   - Vector store (for memory persistence)
//   - Maintenance (decay and consolidation defaults)
//
// Example:
//
//	config := &core.Config{
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-3-small",
//	        Dimensions: 1536,
//	    },
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memories.db",
//	        },
//	    },
//	}
type Config struct {
	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// VectorStore contains vector store configuration.
	VectorStore VectorStoreConfig `json:"vector_store"`

	// Maintenance contains decay and consolidation configuration (optional).
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`

	// MaxContentLength caps stored memory content, measured in characters
	// after trimming. Default: 2000.
	MaxContentLength int `json:"max_content_length,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, local. Any endpoint speaking the OpenAI
// wire format works with provider "openai" and a BaseURL. Provider
// "local" generates deterministic offline vectors and needs no network.
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, local).
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-3-small").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536).
	Dimensions int `json:"dimensions,omitempty"`

	// CacheSize bounds the embedding cache in bytes. Default: 64 MiB.
	CacheSize int64 `json:"cache_size,omitempty"`
}

// VectorStoreConfig contains configuration for the vector store.
//
// Supported providers: sqlite, postgres, mysql
//
// Example:
//
//	storeConfig := core.VectorStoreConfig{
//	    Provider: "sqlite",
//	    Config: map[string]interface{}{
//	        "db_path":         "./memories.db",
//	        "collection_name": "memories",
//	    },
//	}
type VectorStoreConfig struct {
	// Provider is the vector store provider name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, collection_name, embedding_model_dims
	// For PostgreSQL: host, port, user, password, db_name, collection_name, embedding_model_dims, ssl_mode
	// For MySQL: host, port, user, password, db_name, collection_name
	Config map[string]interface{} `json:"config"`
}

// MaintenanceConfig contains configuration for decay and consolidation.
type MaintenanceConfig struct {
	// MaxAge is how old an unused memory must be before decay removes it.
	// Default: 90 days.
	MaxAge time.Duration `json:"max_age,omitempty"`

	// MinAccessCount is the access count at or below which a stale memory
	// is eligible for decay. Reads beyond it protect the memory.
	// Default: 1.
	MinAccessCount int64 `json:"min_access_count,omitempty"`

	// MergeThreshold is the cosine similarity at or above which two
	// memories are considered near-duplicates. Default: 0.95.
	MergeThreshold float64 `json:"merge_threshold,omitempty"`

	// LeaseTTL bounds how long a maintenance job may hold its per-tenant
	// lease. Default: 5 minutes.
	LeaseTTL time.Duration `json:"lease_ttl,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, mysql)
//   - SQLITE_PATH, SQLITE_COLLECTION, SQLITE_EMBEDDING_MODEL_DIMS
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, etc.
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL
//   - MAINTENANCE_MAX_AGE_DAYS, MAINTENANCE_MERGE_THRESHOLD
//
// Returns a Config instance, or an error if loading fails.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	vectorStoreConfig := make(map[string]interface{})
	switch provider {
	case "sqlite":
		dims, _ := strconv.Atoi(getEnvOrDefault("SQLITE_EMBEDDING_MODEL_DIMS", "1536"))

		vectorStoreConfig = map[string]interface{}{
			"db_path":              getEnvOrDefault("SQLITE_PATH", "./thorbismem.db"),
			"collection_name":      getEnvOrDefault("SQLITE_COLLECTION", "memories"),
			"embedding_model_dims": dims,
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		dims, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_EMBEDDING_MODEL_DIMS", "1536"))

		vectorStoreConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":                 port,
			"user":                 getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":             os.Getenv("POSTGRES_PASSWORD"),
			"db_name":              getEnvOrDefault("POSTGRES_DATABASE", "thorbismem"),
			"collection_name":      getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			"embedding_model_dims": dims,
			"ssl_mode":             getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))

		vectorStoreConfig = map[string]interface{}{
			"host":            getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":            port,
			"user":            getEnvOrDefault("MYSQL_USER", "root"),
			"password":        os.Getenv("MYSQL_PASSWORD"),
			"db_name":         getEnvOrDefault("MYSQL_DATABASE", "thorbismem"),
			"collection_name": getEnvOrDefault("MYSQL_COLLECTION", "memories"),
		}
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "local")
	embedderModel := os.Getenv("EMBEDDING_MODEL")
	var embedderBaseURL string
	switch embedderProvider {
	case "openai":
		embedderBaseURL = os.Getenv("OPENAI_EMBEDDING_BASE_URL")
		if embedderBaseURL == "" {
			embedderBaseURL = "https://api.openai.com/v1"
		}
		if embedderModel == "" {
			embedderModel = "text-embedding-3-small"
		}
	default:
		embedderBaseURL = os.Getenv("EMBEDDING_BASE_URL")
	}
	dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMS", "1536"))

	config := &Config{
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      embedderModel,
			BaseURL:    embedderBaseURL,
			Dimensions: dims,
		},
		VectorStore: VectorStoreConfig{
			Provider: provider,
			Config:   vectorStoreConfig,
		},
	}

	maxContent, _ := strconv.Atoi(getEnvOrDefault("MEMORY_MAX_CONTENT_LENGTH", "2000"))
	config.MaxContentLength = maxContent

	maxAgeDays, _ := strconv.Atoi(getEnvOrDefault("MAINTENANCE_MAX_AGE_DAYS", "90"))
	mergeThreshold, _ := strconv.ParseFloat(getEnvOrDefault("MAINTENANCE_MERGE_THRESHOLD", "0.95"), 64)
	config.Maintenance = &MaintenanceConfig{
		MaxAge:         time.Duration(maxAgeDays) * 24 * time.Hour,
		MinAccessCount: 1,
		MergeThreshold: mergeThreshold,
		LeaseTTL:       5 * time.Minute,
	}

	return config, nil
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
// Checks that all required fields are set:
//   - Embedder provider must be specified
//   - Vector store provider must be specified
//
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.Embedder.Provider == "" {
		return NewMemoryError("Validate", ErrInvalidConfig)
	}
	if c.VectorStore.Provider == "" {
		return NewMemoryError("Validate", ErrInvalidConfig)
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
