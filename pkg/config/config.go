// Package config loads the hoarderd configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the complete hoarderd configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Worker  WorkerConfig  `yaml:"worker"`
	Weather WeatherConfig `yaml:"weather"`
	OUI     OUIConfig     `yaml:"oui"`
	GeoJSON GeoJSONConfig `yaml:"geojson"`
	Trimmer TrimmerConfig `yaml:"trimmer"`
	Debug   bool          `yaml:"debug"`
}

// HTTPConfig configures the REST server.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port"`
	AuthToken  string `yaml:"auth_token"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is "sqlite" (default) or "timescaledb".
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
	// TimescaleDB connection string, used when backend is "timescaledb".
	ConnectionString string `yaml:"connection_string"`
}

// RedisConfig configures the shared KV store and the task broker.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// BrokerDB is the database number used by the task queue. Kept separate
	// from the KV database so queue flushes don't clear caches.
	BrokerDB int `yaml:"broker_db"`
}

// WorkerConfig configures the ingest worker pool.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	MaxRetry    int `yaml:"max_retry"`
}

// WeatherConfig configures weather enrichment.
type WeatherConfig struct {
	CacheDir      string `yaml:"cache_dir"`
	MaxCacheFiles int    `yaml:"max_cache_files"`
	MaxCacheBytes int64  `yaml:"max_cache_bytes"`
	DailyQuota    int64  `yaml:"daily_quota"`
}

// OUIConfig points at the IEEE OUI dataset used for MAC vendor lookups.
type OUIConfig struct {
	DatasetPath string `yaml:"dataset_path"`
}

// GeoJSONConfig configures the periodic GeoJSON snapshot job.
type GeoJSONConfig struct {
	Enabled         bool   `yaml:"enabled"`
	OutputDir       string `yaml:"output_dir"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	MaxFileBytes    int64  `yaml:"max_file_bytes"`
}

// Interval returns the snapshot cadence.
func (g GeoJSONConfig) Interval() time.Duration {
	return time.Duration(g.IntervalSeconds) * time.Second
}

// TrimmerConfig configures the event log trimmer.
type TrimmerConfig struct {
	IntervalSeconds int   `yaml:"interval_seconds"`
	HighWaterBytes  int64 `yaml:"high_water_bytes"`
	LowWaterBytes   int64 `yaml:"low_water_bytes"`
}

// Interval returns how often the trimmer runs.
func (t TrimmerConfig) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// Load reads and validates the configuration file, applying defaults for
// anything not specified.
func Load(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "hoarderd.db"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.BrokerDB == 0 {
		c.Redis.BrokerDB = c.Redis.DB + 1
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.MaxRetry == 0 {
		c.Worker.MaxRetry = 5
	}
	if c.Weather.CacheDir == "" {
		c.Weather.CacheDir = os.TempDir() + "/weather_cache"
	}
	if c.Weather.MaxCacheFiles == 0 {
		c.Weather.MaxCacheFiles = 100
	}
	if c.Weather.MaxCacheBytes == 0 {
		c.Weather.MaxCacheBytes = 50 * 1024 * 1024
	}
	if c.Weather.DailyQuota == 0 {
		c.Weather.DailyQuota = 9000
	}
	if c.GeoJSON.OutputDir == "" {
		c.GeoJSON.OutputDir = "geojson_output"
	}
	if c.GeoJSON.IntervalSeconds == 0 {
		c.GeoJSON.IntervalSeconds = 300
	}
	if c.GeoJSON.MaxFileBytes == 0 {
		c.GeoJSON.MaxFileBytes = 100 * 1024 * 1024
	}
	if c.Trimmer.IntervalSeconds == 0 {
		c.Trimmer.IntervalSeconds = 6 * 60 * 60
	}
	if c.Trimmer.HighWaterBytes == 0 {
		c.Trimmer.HighWaterBytes = 10 * 1024 * 1024 * 1024
	}
	if c.Trimmer.LowWaterBytes == 0 {
		c.Trimmer.LowWaterBytes = 9 * 1024 * 1024 * 1024
	}
}
