package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vivid-go/vivid/pkg/server"
	"github.com/vivid-go/vivid/pkg/store"
	"github.com/vivid-go/vivid/pkg/telemetry"
)

func serveCmd() *cobra.Command {
	var (
		addr      string
		secret    string
		resumeTTL time.Duration
		logJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo application",
		Long: `Serve the built-in demo application.

Routes:
  /              home view
  /counter/{id}  a counter identified by path capture
  /metrics       Prometheus metrics

The token secret should be a stable random string in production; when
omitted, an ephemeral secret is generated and sessions do not survive
restarts.

Examples:
  vivid serve
  vivid serve --addr=:9000 --secret=$VIVID_SECRET`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, secret, resumeTTL, logJSON)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&secret, "secret", "", "Token signing secret (ephemeral when empty)")
	cmd.Flags().DurationVar(&resumeTTL, "resume-ttl", 5*time.Minute, "How long detached sessions stay resumable")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs")

	return cmd
}

func runServe(addr, secret string, resumeTTL time.Duration, logJSON bool) error {
	var handler slog.Handler
	if logJSON {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)

	cfg := server.DefaultConfig().
		WithAddress(addr).
		WithSnapshots(store.NewMemoryStore(resumeTTL)).
		WithTelemetry(telemetry.NewEmitter(telemetry.DefaultConfig()))
	cfg.Logger = logger
	if secret != "" {
		cfg.Secret = []byte(secret)
	}

	srv, err := server.New(demoRoutes(), cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
