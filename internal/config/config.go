// Package config loads FiberDB configuration from environment variables,
// with an optional YAML file overlay read before the environment is
// applied.
//
// Usage:
//
//	cfg, err := config.LoadFromEnv("")
//	if err != nil {
//		log.Fatalf("loading config: %v", err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine selects the storage backend for compacted snapshots.
type Engine string

const (
	EngineFile   Engine = "file"
	EngineCustom Engine = "custom"
)

// Config holds all FiberDB configuration.
type Config struct {
	Storage  StorageConfig
	Cache    CacheConfig
	Index    IndexConfig
	Security SecurityConfig
	Metrics  MetricsConfig
	Query    QueryConfig
}

// StorageConfig controls the WAL and on-disk layout.
type StorageConfig struct {
	// Engine selects plain JSON snapshot files ("file") or a badger-backed
	// snapshot store ("custom").
	Engine Engine
	// DataPath is the root directory for wal.log and its snapshots.
	DataPath string
	// WALEnabled is loaded from FIBERDB_WAL_ENABLED; the entity store
	// writes every mutation to the WAL whatever its value.
	WALEnabled bool
	// CompactionThreshold is the in-memory entry count that triggers a
	// synchronous compaction.
	CompactionThreshold int
	// BackgroundProcessing is loaded from FIBERDB_BACKGROUND_PROCESSING.
	// No timer-driven compaction runs; compaction happens only at the
	// threshold or through an explicit Compact.
	BackgroundProcessing bool
}

// CacheConfig controls the document/query/file-exists cache tier.
type CacheConfig struct {
	// Size is the shared max entry count applied to each LRU cache.
	Size int
}

// IndexConfig controls the index manager.
type IndexConfig struct {
	// Enabled toggles index usage; when false the query engine always
	// falls back to a full type scan.
	Enabled bool
}

// SecurityConfig holds the encryption settings; Validate requires a key
// when encryption is enabled. The query engine decrypts `__secure` fields
// only with a descriptor's decryptionKey and does not read these values.
type SecurityConfig struct {
	EncryptionEnabled    bool
	DefaultEncryptionKey string
}

// MetricsConfig controls the performance monitor.
type MetricsConfig struct {
	Enabled bool
}

// QueryConfig controls query engine timeouts, concurrency, and TTL
// filtering.
type QueryConfig struct {
	Timeout              time.Duration
	MaxConcurrentQueries int
	// TTLDays drops rows whose creation timestamp is older than
	// now - TTLDays during query execution; 0 disables TTL filtering.
	TTLDays int
}

// fileOverlay mirrors the subset of Config fields an operator may want
// to set from a checked-in fiberdb.yaml rather than the environment.
// Every field here is optional; a zero value means "let the
// environment or the built-in default decide".
type fileOverlay struct {
	Storage struct {
		Engine               string `yaml:"engine"`
		DataPath             string `yaml:"dataPath"`
		WALEnabled           *bool  `yaml:"walEnabled"`
		CompactionThreshold  int    `yaml:"compactionThreshold"`
		BackgroundProcessing *bool  `yaml:"backgroundProcessing"`
	} `yaml:"storage"`
	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
	Index struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"index"`
	Security struct {
		EncryptionEnabled    *bool  `yaml:"encryptionEnabled"`
		DefaultEncryptionKey string `yaml:"defaultEncryptionKey"`
	} `yaml:"security"`
	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`
	Query struct {
		Timeout              string `yaml:"timeout"`
		MaxConcurrentQueries int    `yaml:"maxConcurrentQueries"`
		TTLDays              int    `yaml:"ttlDays"`
	} `yaml:"query"`
}

// LoadFromEnv builds a Config from FIBERDB_* environment variables. If
// yamlPath is non-empty and the file exists, its values seed the defaults
// that the environment then overrides — env always wins.
func LoadFromEnv(yamlPath string) (*Config, error) {
	overlay, err := loadOverlay(yamlPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.Storage.Engine = Engine(getEnv("FIBERDB_ENGINE", defaultString(overlay.Storage.Engine, string(EngineFile))))
	cfg.Storage.DataPath = getEnv("FIBERDB_DATA_PATH", defaultString(overlay.Storage.DataPath, "./data"))
	cfg.Storage.WALEnabled = getEnvBool("FIBERDB_WAL_ENABLED", defaultBoolPtr(overlay.Storage.WALEnabled, true))
	cfg.Storage.CompactionThreshold = getEnvInt("FIBERDB_COMPACTION_THRESHOLD", defaultInt(overlay.Storage.CompactionThreshold, 1000))
	cfg.Storage.BackgroundProcessing = getEnvBool("FIBERDB_BACKGROUND_PROCESSING", defaultBoolPtr(overlay.Storage.BackgroundProcessing, true))

	cfg.Cache.Size = getEnvInt("FIBERDB_CACHE_SIZE", defaultInt(overlay.Cache.Size, 10000))

	cfg.Index.Enabled = getEnvBool("FIBERDB_INDEXING_ENABLED", defaultBoolPtr(overlay.Index.Enabled, true))

	cfg.Security.EncryptionEnabled = getEnvBool("FIBERDB_ENCRYPTION_ENABLED", defaultBoolPtr(overlay.Security.EncryptionEnabled, false))
	cfg.Security.DefaultEncryptionKey = getEnv("FIBERDB_DEFAULT_ENCRYPTION_KEY", overlay.Security.DefaultEncryptionKey)

	cfg.Metrics.Enabled = getEnvBool("FIBERDB_ENABLE_METRICS", defaultBoolPtr(overlay.Metrics.Enabled, true))

	overlayTimeout, _ := time.ParseDuration(overlay.Query.Timeout)
	cfg.Query.Timeout = getEnvDuration("FIBERDB_QUERY_TIMEOUT", defaultDuration(overlayTimeout, 30*time.Second))
	cfg.Query.MaxConcurrentQueries = getEnvInt("FIBERDB_MAX_CONCURRENT_QUERIES", defaultInt(overlay.Query.MaxConcurrentQueries, 100))
	cfg.Query.TTLDays = getEnvInt("FIBERDB_TTL_DAYS", overlay.Query.TTLDays)

	return cfg, nil
}

func loadOverlay(path string) (fileOverlay, error) {
	var overlay fileOverlay
	if path == "" {
		return overlay, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return overlay, nil
		}
		return overlay, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return overlay, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return overlay, nil
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	if c.Storage.Engine != EngineFile && c.Storage.Engine != EngineCustom {
		return fmt.Errorf("config: invalid storage engine %q (want %q or %q)", c.Storage.Engine, EngineFile, EngineCustom)
	}
	if c.Storage.DataPath == "" {
		return fmt.Errorf("config: data path must not be empty")
	}
	if c.Storage.CompactionThreshold <= 0 {
		return fmt.Errorf("config: compaction threshold must be positive, got %d", c.Storage.CompactionThreshold)
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("config: cache size must be positive, got %d", c.Cache.Size)
	}
	if c.Security.EncryptionEnabled && c.Security.DefaultEncryptionKey == "" {
		return fmt.Errorf("config: encryption enabled but no default encryption key provided")
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("config: query timeout must be positive, got %s", c.Query.Timeout)
	}
	if c.Query.MaxConcurrentQueries <= 0 {
		return fmt.Errorf("config: max concurrent queries must be positive, got %d", c.Query.MaxConcurrentQueries)
	}
	if c.Query.TTLDays < 0 {
		return fmt.Errorf("config: ttl days must not be negative, got %d", c.Query.TTLDays)
	}
	return nil
}

// String returns a safe, loggable summary of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Engine: %s, DataPath: %s, CacheSize: %d, CompactionThreshold: %d, MaxConcurrentQueries: %d}",
		c.Storage.Engine, c.Storage.DataPath, c.Cache.Size, c.Storage.CompactionThreshold, c.Query.MaxConcurrentQueries,
	)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func defaultString(overlay, fallback string) string {
	if overlay != "" {
		return overlay
	}
	return fallback
}

func defaultInt(overlay, fallback int) int {
	if overlay != 0 {
		return overlay
	}
	return fallback
}

func defaultDuration(overlay time.Duration, fallback time.Duration) time.Duration {
	if overlay != 0 {
		return overlay
	}
	return fallback
}

func defaultBoolPtr(overlay *bool, fallback bool) bool {
	if overlay != nil {
		return *overlay
	}
	return fallback
}
