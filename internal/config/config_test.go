package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 5001 || cfg.Pipeline.MinPhotos != 5 || cfg.Pipeline.Seed != 42 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Model.Path != "models/face_recognizer.json" {
		t.Errorf("model path = %q", cfg.Model.Path)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollcall.yaml")
	content := `
server:
  port: 8080
  allowed_origins: ["http://example.com"]
pipeline:
  confidence_threshold: 70
model:
  path: /var/lib/rollcall/model.json
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ROLLCALL_PORT", "9090")
	t.Setenv("ROLLCALL_DETECTION_THRESHOLD", "0.8")
	t.Setenv("ROLLCALL_ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("env should override file port, got %d", cfg.Server.Port)
	}
	if cfg.Pipeline.ConfidenceThreshold != 70 {
		t.Errorf("confidence threshold = %v, want 70 from file", cfg.Pipeline.ConfidenceThreshold)
	}
	if cfg.Pipeline.DetectionThreshold != 0.8 {
		t.Errorf("detection threshold = %v, want 0.8 from env", cfg.Pipeline.DetectionThreshold)
	}
	if cfg.Pipeline.MinEmbeddings != 5 {
		t.Errorf("fields missing from the file keep defaults, got %d", cfg.Pipeline.MinEmbeddings)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("allowed origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Model.Path != "/var/lib/rollcall/model.json" {
		t.Errorf("model path = %q", cfg.Model.Path)
	}
}

func TestPostgresURLFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "user")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "rollcall")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if want := "postgres://user:secret@db:5432/rollcall"; cfg.Database.URL != want {
		t.Errorf("database URL = %q, want %q", cfg.Database.URL, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"Detection threshold of one", func(c *Config) { c.Pipeline.DetectionThreshold = 1 }},
		{"Confidence threshold of 100", func(c *Config) { c.Pipeline.ConfidenceThreshold = 100 }},
		{"Zero photos", func(c *Config) { c.Pipeline.MinPhotos = 0 }},
		{"Test ratio of zero", func(c *Config) { c.Pipeline.TestRatio = 0 }},
		{"No storage", func(c *Config) { c.Model.Path = ""; c.Database.URL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEnvHelpersIgnoreInvalid(t *testing.T) {
	t.Setenv("ROLLCALL_TEST_INT", "-3")
	t.Setenv("ROLLCALL_TEST_FLOAT", "abc")
	if got := envInt("ROLLCALL_TEST_INT", 7); got != 7 {
		t.Errorf("envInt = %d, want default", got)
	}
	if got := envFloat("ROLLCALL_TEST_FLOAT", 0.5); got != 0.5 {
		t.Errorf("envFloat = %v, want default", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
