package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/savegress/vitalsync/pkg/models"
)

// Config holds all configuration for VitalSync
type Config struct {
	Server   ServerConfig              `yaml:"server"`
	Redis    RedisConfig               `yaml:"redis"`
	Pipeline PipelineConfig            `yaml:"pipeline"`
	Sync     SyncConfig                `yaml:"sync"`
	Quality  QualityConfig             `yaml:"quality"`
	Devices  DevicesConfig             `yaml:"devices"`
	Storage  StorageConfig             `yaml:"storage"`
	Metrics  []models.MetricDefinition `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
}

// RedisConfig holds the optional streams intake configuration
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	Stream        string `yaml:"stream"`
	ConsumerGroup string `yaml:"consumer_group"`
	ConsumerName  string `yaml:"consumer_name"`
}

// PipelineConfig holds ingestion and interpolation policy. The multipliers
// and scores are clinical policy, not protocol; defaults suit 5-minute
// wearable cadences.
type PipelineConfig struct {
	MinGapFactor        float64  `yaml:"min_gap_factor"`        // gap must exceed this x interval to fill
	MaxGapFactor        float64  `yaml:"max_gap_factor"`        // gaps above this x interval are never filled
	InterpolatedScore   float64  `yaml:"interpolated_score"`    // quality score of synthesized points
	OutlierScore        float64  `yaml:"outlier_score"`         // quality score of soft-range violations
	GapSensitiveMetrics []string `yaml:"gap_sensitive_metrics"` // metrics FillGaps maintains
}

// SyncConfig holds offline queue policy
type SyncConfig struct {
	MaxRetries   int `yaml:"max_retries"`
	HistoryLimit int `yaml:"history_limit"`
}

// QualityConfig holds reporting policy
type QualityConfig struct {
	GapMetric    string        `yaml:"gap_metric"`
	GapThreshold time.Duration `yaml:"gap_threshold"`
}

// DevicesConfig holds device registry configuration
type DevicesConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	OfflineThreshold  time.Duration `yaml:"offline_threshold"`
	MaxDevices        int           `yaml:"max_devices"`
}

// StorageConfig selects the archive backend
type StorageConfig struct {
	Type     string `yaml:"type"` // memory, sqlite
	DataPath string `yaml:"data_path"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := LoadFromEnv()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnvInt("PORT", 3008),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Redis: RedisConfig{
			Enabled:       getEnvBool("REDIS_INTAKE_ENABLED", false),
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			Stream:        getEnv("REDIS_STREAM", "vitalsync:readings"),
			ConsumerGroup: getEnv("REDIS_CONSUMER_GROUP", "vitalsync"),
			ConsumerName:  getEnv("REDIS_CONSUMER_NAME", "vitalsync-1"),
		},
		Pipeline: PipelineConfig{
			MinGapFactor:        getEnvFloat("PIPELINE_MIN_GAP_FACTOR", 1.5),
			MaxGapFactor:        getEnvFloat("PIPELINE_MAX_GAP_FACTOR", 3.0),
			InterpolatedScore:   getEnvFloat("PIPELINE_INTERPOLATED_SCORE", 0.6),
			OutlierScore:        getEnvFloat("PIPELINE_OUTLIER_SCORE", 0.4),
			GapSensitiveMetrics: []string{"heart-rate-resting", "heart-rate", "spo2"},
		},
		Sync: SyncConfig{
			MaxRetries:   getEnvInt("SYNC_MAX_RETRIES", 3),
			HistoryLimit: getEnvInt("SYNC_HISTORY_LIMIT", 100),
		},
		Quality: QualityConfig{
			GapMetric:    getEnv("QUALITY_GAP_METRIC", "heart-rate-resting"),
			GapThreshold: getEnvDuration("QUALITY_GAP_THRESHOLD", 8*time.Hour),
		},
		Devices: DevicesConfig{
			HeartbeatInterval: getEnvDuration("DEVICE_HEARTBEAT", 30*time.Second),
			OfflineThreshold:  getEnvDuration("DEVICE_OFFLINE_THRESHOLD", 5*time.Minute),
			MaxDevices:        getEnvInt("MAX_DEVICES", 10000),
		},
		Storage: StorageConfig{
			Type:     getEnv("STORAGE_TYPE", "memory"),
			DataPath: getEnv("STORAGE_DATA_PATH", "./data"),
		},
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
