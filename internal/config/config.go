// Package config loads settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Engine   EngineConfig   `yaml:"engine"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // "*" allows any origin
}

type ModelConfig struct {
	Path     string `yaml:"path"`      // JSON snapshot, used when no database is configured
	AuditDir string `yaml:"audit_dir"` // enrollment face crops, one folder per student
}

type EngineConfig struct {
	Python         string `yaml:"python"`
	Script         string `yaml:"script"`
	DetectorModel  string `yaml:"detector_model"` // OpenCV SSD weights; empty uses the Python detector
	DetectorConfig string `yaml:"detector_config"`
}

type PipelineConfig struct {
	DetectionThreshold  float64 `yaml:"detection_threshold"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MinPhotos           int     `yaml:"min_photos"`
	MinEmbeddings       int     `yaml:"min_embeddings"`
	TestRatio           float64 `yaml:"test_ratio"`
	Seed                int64   `yaml:"seed"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"` // PostgreSQL connection URL; empty selects the file store
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5001,
			AllowedOrigins: []string{"*"},
		},
		Model: ModelConfig{
			Path:     "models/face_recognizer.json",
			AuditDir: "dataset/train",
		},
		Engine: EngineConfig{
			Python: "python3",
			Script: "python/engine.py",
		},
		Pipeline: PipelineConfig{
			DetectionThreshold:  0.5,
			ConfidenceThreshold: 50,
			MinPhotos:           5,
			MinEmbeddings:       5,
			TestRatio:           0.2,
			Seed:                42,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path (if not empty) over the defaults, then applies the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = envString("ROLLCALL_HOST", c.Server.Host)
	c.Server.Port = envInt("ROLLCALL_PORT", c.Server.Port)
	if v := os.Getenv("ROLLCALL_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = nil
		for o := range strings.SplitSeq(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, o)
			}
		}
	}

	c.Model.Path = envString("ROLLCALL_MODEL_PATH", c.Model.Path)
	c.Model.AuditDir = envString("ROLLCALL_AUDIT_DIR", c.Model.AuditDir)

	c.Engine.Python = envString("ROLLCALL_PYTHON", c.Engine.Python)
	c.Engine.Script = envString("ROLLCALL_ENGINE_SCRIPT", c.Engine.Script)
	c.Engine.DetectorModel = envString("ROLLCALL_DETECTOR_MODEL", c.Engine.DetectorModel)
	c.Engine.DetectorConfig = envString("ROLLCALL_DETECTOR_CONFIG", c.Engine.DetectorConfig)

	c.Pipeline.DetectionThreshold = envFloat("ROLLCALL_DETECTION_THRESHOLD", c.Pipeline.DetectionThreshold)
	c.Pipeline.ConfidenceThreshold = envFloat("ROLLCALL_CONFIDENCE_THRESHOLD", c.Pipeline.ConfidenceThreshold)

	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	if c.Database.URL == "" {
		c.Database.URL = postgresURLFromEnv()
	}

	c.Log.Level = envString("ROLLCALL_LOG_LEVEL", c.Log.Level)
	if v, err := strconv.ParseBool(os.Getenv("ROLLCALL_LOG_JSON")); err == nil {
		c.Log.JSON = v
	}
}

// postgresURLFromEnv builds a connection string from the POSTGRES_* variables
// used by the docker-compose setup. It returns "" when POSTGRES_HOST is unset.
func postgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := envString("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

// Validate rejects settings the pipelines cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Pipeline.DetectionThreshold < 0 || c.Pipeline.DetectionThreshold >= 1 {
		errs = append(errs, fmt.Errorf("detection threshold must be in [0, 1), got %g", c.Pipeline.DetectionThreshold))
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold >= 100 {
		errs = append(errs, fmt.Errorf("confidence threshold must be in [0, 100), got %g", c.Pipeline.ConfidenceThreshold))
	}
	if c.Pipeline.MinPhotos < 1 || c.Pipeline.MinEmbeddings < 1 {
		errs = append(errs, errors.New("min_photos and min_embeddings must be at least 1"))
	}
	if c.Pipeline.TestRatio <= 0 || c.Pipeline.TestRatio >= 1 {
		errs = append(errs, fmt.Errorf("test ratio must be in (0, 1), got %g", c.Pipeline.TestRatio))
	}
	if c.Model.Path == "" && c.Database.URL == "" {
		errs = append(errs, errors.New("either a model path or a database URL is required"))
	}
	return errors.Join(errs...)
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat is envInt for non-negative floats.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}
