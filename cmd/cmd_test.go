package cmd

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func TestValidateRegisterArgs(t *testing.T) {
	five := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"}
	tests := []struct {
		name    string
		student string
		id      string
		photos  []string
		wantErr bool
	}{
		{"Valid", "Ana", "001", five, false},
		{"Name with underscore", "Mary_Jane", "7", five, false},
		{"Empty name", " ", "001", five, true},
		{"Empty id", "Ana", "", five, true},
		{"Underscore in id", "Ana", "0_1", five, true},
		{"Too few photos", "Ana", "001", five[:4], true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRegisterArgs(tt.student, tt.id, tt.photos, 5)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRegisterArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServeFlags(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		port    int
		wantErr bool
	}{
		{"Default", "0.0.0.0", 5001, false},
		{"Empty host", "", 5001, true},
		{"Port zero", "0.0.0.0", 0, true},
		{"Port too large", "0.0.0.0", 70000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateServeFlags(tt.host, tt.port); (err != nil) != tt.wantErr {
				t.Errorf("validateServeFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPhotoArgs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.jpg", "2.PNG", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	single := filepath.Join(t.TempDir(), "extra.webp")
	if err := os.WriteFile(single, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := expandPhotoArgs([]string{dir, single})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expandPhotoArgs() = %v, want 2 images from the directory plus the file", got)
	}
	if got[2] != single {
		t.Errorf("explicit file should keep its position, got %v", got)
	}

	if _, err := expandPhotoArgs([]string{filepath.Join(dir, "missing.jpg")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		r := bufio.NewReader(strings.NewReader(tt.input))
		if got := confirm(r, "continue?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	var opts Options
	cmd.Flags().StringVar(&opts.DBURL, "db", "", "")
	cmd.Flags().StringVar(&opts.ModelPath, "model", "", "")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "")
	cmd.Flags().BoolVar(&opts.LogJSON, "log-json", false, "")
	if err := cmd.Flags().Parse([]string{"--model", "/tmp/m.json", "--log-json"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Database.URL = "postgres://from-env"
	applyFlagOverrides(cmd, cfg, opts)

	if cfg.Model.Path != "/tmp/m.json" || !cfg.Log.JSON {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.Database.URL != "postgres://from-env" {
		t.Errorf("unset flag overrode database URL: %q", cfg.Database.URL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("unset flag overrode log level: %q", cfg.Log.Level)
	}
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	if err := setupLogging(config.LogConfig{Level: "debug", JSON: true}); err != nil {
		t.Fatal(err)
	}
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %s", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Error("expected JSON formatter")
	}
	if err := setupLogging(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Model.Path = filepath.Join(t.TempDir(), "model.json")

	st, err := openStore(ctx, cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*store.Memory); !ok {
		t.Errorf("ephemeral store = %T, want *store.Memory", st)
	}

	st, err = openStore(ctx, cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	f, ok := st.(*store.File)
	if !ok || f.Path() != cfg.Model.Path {
		t.Errorf("default store = %T, want *store.File at %s", st, cfg.Model.Path)
	}
}

func TestPipelineOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.ConfidenceThreshold = 65
	cfg.Model.AuditDir = "/srv/crops"

	opts := pipelineOptions(cfg)
	if opts.ConfidenceThreshold != 65 || opts.AuditDir != "/srv/crops" || opts.Seed != 42 || opts.MinPhotos != 5 {
		t.Errorf("pipelineOptions() = %+v", opts)
	}
}
