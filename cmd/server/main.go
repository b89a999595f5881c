package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/csvmailer/internal/config"
	"github.com/JonMunkholm/csvmailer/internal/core"
	"github.com/JonMunkholm/csvmailer/internal/logging"
	"github.com/JonMunkholm/csvmailer/internal/web"
)

func main() {
	// Overload lets a local .env win over the shell environment.
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"accounts", cfg.Providers.Keys(),
		"send_delay", cfg.Mail.SendDelay(),
		"max_concurrent", cfg.Mail.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"history_enabled", cfg.Database.Enabled(),
	)

	var opts []core.Option
	if cfg.Database.Enabled() {
		history, err := core.ConnectHistory(context.Background(), cfg.Database)
		if err != nil {
			slog.Error("failed to open batch history", "error", err)
			os.Exit(1)
		}
		defer history.Close()
		opts = append(opts, core.WithHistory(history))
		slog.Info("batch history enabled")
	}

	service, err := core.NewService(cfg, core.SMTPDialer{Timeout: cfg.Mail.Timeout}, opts...)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop taking requests first so no new batch starts while draining.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		limiter := service.Limiter()
		if active := limiter.ActiveCount(); active > 0 {
			slog.Info("waiting for batches to finish", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("batches did not finish in time", "error", err)
			} else {
				slog.Info("all batches finished")
			}
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
