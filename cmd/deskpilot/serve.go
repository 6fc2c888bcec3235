package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deskpilot/internal/audit"
	"deskpilot/internal/config"
	"deskpilot/internal/domain"
	"deskpilot/internal/gateway"
	"deskpilot/internal/metrics"
	"deskpilot/internal/router"
	"deskpilot/internal/security"
	"deskpilot/internal/uimem"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		Long:  "Starts the websocket gateway for desktop clients, the action router, and the HTTP API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	logger = buildLogger(cfg.General)

	var auditLogger domain.AuditLogger
	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer store.Close()
		auditLogger = store
	}

	hub := gateway.NewHub(gateway.Config{
		Path:   cfg.Gateway.Path,
		Logger: logger,
	})

	r, err := router.New(router.Config{
		Mode:           domain.ExecutionMode(cfg.Router.ExecutionMode),
		TargetClientID: cfg.Router.RemoteDesktopClientID,
		ActionTimeout:  time.Duration(cfg.Router.ActionTimeoutSeconds) * time.Second,
		FrameMaxAge:    time.Duration(cfg.Router.FrameMaxAgeMs) * time.Millisecond,
	}, security.NewClassifier(), hub, auditLogger, logger)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	hub.SetAckHandler(r)

	elements, err := uimem.NewService(uimem.NewFileStore(cfg.Cache.Path), logger)
	if err != nil {
		return fmt.Errorf("load element cache: %w", err)
	}

	mux := http.NewServeMux()
	hub.Register(mux)
	gateway.NewAPI(r, elements, logger).Register(mux)
	if cfg.Metrics.Enabled {
		mux.HandleFunc(cfg.Metrics.Endpoint, metrics.Collector.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway starting",
		"addr", server.Addr,
		"ws_path", hub.Path(),
		"mode", cfg.Router.ExecutionMode,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildLogger(cfg config.GeneralConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.LogFile != "" {
		if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			out = f
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
