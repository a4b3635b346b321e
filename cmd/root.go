package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/pipeline"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/vision"
	"github.com/andresmejia3/rollcall/internal/worker"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Options holds the persistent flags shared by every command
type Options struct {
	ConfigPath string
	DBURL      string
	ModelPath  string
	Ephemeral  bool
	LogLevel   string
	LogJSON    bool
}

var (
	rootOpts Options
	// Cfg is the resolved configuration shared by subcommands
	Cfg *config.Config
	// Store is the snapshot store shared by subcommands
	Store store.Store
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "rollcall",
	Short:   "Student face enrollment, recognition and evaluation",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(rootOpts.ConfigPath)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, Cfg, rootOpts)

		if err := setupLogging(Cfg.Log); err != nil {
			return err
		}

		// Use the command's context (which will be cancellable) for the connection
		Store, err = openStore(cmd.Context(), Cfg, rootOpts.Ephemeral)
		if err != nil {
			return fmt.Errorf("failed to open model store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Store != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			Store.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&rootOpts.ConfigPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&rootOpts.DBURL, "db", "", "PostgreSQL connection string (default: file store)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.ModelPath, "model", "", "Path to the model snapshot (default: models/face_recognizer.json)")
	rootCmd.PersistentFlags().BoolVar(&rootOpts.Ephemeral, "ephemeral", false, "Keep the model in memory only")
	rootCmd.PersistentFlags().StringVar(&rootOpts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&rootOpts.LogJSON, "log-json", false, "Emit logs as JSON")
}

func initEnv() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// applyFlagOverrides lets explicit flags win over file and environment.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, opts Options) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database.URL = opts.DBURL
	}
	if flags.Changed("model") {
		cfg.Model.Path = opts.ModelPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.LogLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = opts.LogJSON
	}
}

func setupLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	if cfg.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// openStore picks the backend: memory when ephemeral, PostgreSQL when a
// database URL is configured, the JSON file otherwise.
func openStore(ctx context.Context, cfg *config.Config, ephemeral bool) (store.Store, error) {
	switch {
	case ephemeral:
		logrus.Info("using in-memory model store")
		return store.NewMemory(), nil
	case cfg.Database.URL != "":
		logrus.Info("using PostgreSQL model store")
		return store.NewPostgres(ctx, cfg.Database.URL)
	default:
		f := store.NewFile(cfg.Model.Path)
		logrus.WithField("path", f.Path()).Info("using file model store")
		return f, nil
	}
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		DetectionThreshold:  cfg.Pipeline.DetectionThreshold,
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		MinPhotos:           cfg.Pipeline.MinPhotos,
		MinEmbeddings:       cfg.Pipeline.MinEmbeddings,
		TestRatio:           cfg.Pipeline.TestRatio,
		Seed:                cfg.Pipeline.Seed,
		AuditDir:            cfg.Model.AuditDir,
	}
}

// engineHandle owns the processes and models behind a vision.Engine.
type engineHandle struct {
	vision.Engine
	worker   *worker.PythonWorker
	detector *vision.DNNDetector
}

func (h *engineHandle) Close() {
	if h.detector != nil {
		h.detector.Close()
	}
	if h.worker != nil {
		h.worker.Close()
	}
}

// Cmd exposes the engine process for error reports.
func (h *engineHandle) Cmd() *utils.SafeCommand {
	if h == nil || h.worker == nil {
		return nil
	}
	return h.worker.Cmd
}

// startEngine launches the Python engine and, when a detector model is
// configured, the OpenCV detector in front of it.
func startEngine(cfg config.EngineConfig) (*engineHandle, error) {
	w, err := worker.NewPythonWorker(worker.Config{Python: cfg.Python, Script: cfg.Script})
	if err != nil {
		return nil, err
	}
	h := &engineHandle{Engine: w, worker: w}
	if cfg.DetectorModel == "" {
		return h, nil
	}

	det, err := vision.NewDNNDetector(vision.DNNConfig{ModelPath: cfg.DetectorModel, ConfigPath: cfg.DetectorConfig})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("loading face detector: %w", err)
	}
	h.detector = det
	h.Engine = vision.Composite{FaceExtractor: det, Embedder: w, EmotionAnalyzer: w}
	return h, nil
}

// newService builds the pipeline service. Commands that never touch the
// models pass withEngine=false and get a service without an engine.
func newService(withEngine bool) (*pipeline.Service, *engineHandle, error) {
	var h *engineHandle
	var engine vision.Engine
	if withEngine {
		fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
		var err error
		h, err = startEngine(Cfg.Engine)
		if err != nil {
			return nil, nil, err
		}
		engine = h
	}
	return pipeline.NewService(Store, engine, pipelineOptions(Cfg), logrus.StandardLogger()), h, nil
}

// checkFatal exits for errors no retry can fix, such as an unreadable snapshot.
func checkFatal(err error, h *engineHandle) {
	if errors.Is(err, store.ErrCorruptSnapshot) {
		utils.Die("Model snapshot is unreadable", err, h.Cmd())
	}
}
