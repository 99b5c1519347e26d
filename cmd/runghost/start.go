package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/runghost/internal/app"
	"github.com/kurihiro0119/runghost/internal/migration"
)

const shutdownTimeout = 10 * time.Second

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, slog.LevelInfo)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg)
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Shutdown finished with errors", "error", err)
		}
	}()

	store, err := a.Store()
	if err != nil {
		return err
	}
	if needed, _, err := migration.Needed(ctx, cfg.DataDir(), store); err == nil && needed {
		res := migration.Migrate(ctx, cfg.DataDir(), store, migration.Options{})
		slog.Info("Imported legacy cache", "message", res.Message, "errors", len(res.Errors))
	}

	router, err := a.Router()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting dashboard server", "addr", addr, "identities", len(cfg.Identities), "dataDir", cfg.DataDir())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down dashboard server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
