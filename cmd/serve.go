package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/web"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serves POST /register, POST /infer, GET /evals, GET /students and GET /health
for the attendance dashboard.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default 0.0.0.0)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default 5001)")
	rootCmd.AddCommand(serveCmd)
}

// validateServeFlags checks the listen address after flag overrides.
func validateServeFlags(host string, port int) error {
	if host == "" {
		return errors.New("host must not be empty")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	if cmd.Flags().Changed("host") {
		Cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		Cfg.Server.Port = servePort
	}
	if err := validateServeFlags(Cfg.Server.Host, Cfg.Server.Port); err != nil {
		return err
	}

	// An unreadable snapshot stops the server before it accepts requests.
	if _, err := Store.Load(cmd.Context()); errors.Is(err, store.ErrCorruptSnapshot) {
		utils.Die("Model snapshot is unreadable", err, nil)
	} else if err != nil {
		return fmt.Errorf("loading model snapshot: %w", err)
	}

	svc, engine, err := newService(true)
	if err != nil {
		utils.ShowError("Failed to start AI engine", err, nil)
		return err
	}
	defer engine.Close()

	server := web.NewServer(Cfg.Server, svc, Cfg.Pipeline.MinPhotos)

	ctx := cmd.Context()
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
	}()

	fmt.Fprintf(os.Stderr, "🌐 Rollcall API listening on http://%s:%d\n", Cfg.Server.Host, Cfg.Server.Port)
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		utils.ShowError("Server failed", err, engine.Cmd())
		return err
	}
	return nil
}
