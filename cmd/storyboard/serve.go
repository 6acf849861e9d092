package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Rogers-F/storyboard-engine/internal/batch"
	"github.com/Rogers-F/storyboard-engine/internal/bridge"
	"github.com/Rogers-F/storyboard-engine/internal/domain"
	"github.com/Rogers-F/storyboard-engine/internal/guard"
	"github.com/Rogers-F/storyboard-engine/internal/ipc"
	"github.com/Rogers-F/storyboard-engine/internal/store"
)

func (a *app) serveCmd() *cobra.Command {
	var openUI bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), openUI)
		},
	}
	cmd.Flags().BoolVar(&openUI, "open", false, "open the API base URL in the default browser")
	return cmd
}

func (a *app) serve(ctx context.Context, openUI bool) error {
	cfg, logger := a.cfg, a.logger

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	br := bridge.NewBridge(db, logger)

	gen, err := a.generator(ctx)
	switch {
	case errors.Is(err, domain.ErrOracleUnconfigured):
		logger.Warn("oracle not configured, generation endpoints disabled",
			zap.String("backend", cfg.Oracle.Backend),
			zap.String("api_key_env", cfg.Oracle.APIKeyEnv),
		)
	case err != nil:
		return fmt.Errorf("build oracle: %w", err)
	}

	runner := batch.NewRunner(br, br, cfg.Batch.MaxViews, logger)
	manager := batch.NewManager(runner, br, logger)

	handler := &ipc.Handler{
		Gen:     gen,
		Manager: manager,
		Bridge:  br,
		Guard:   guard.NewGuard(guard.GuardConfig{RateLimitPerMinute: cfg.RateLimitPerMinute}),
		Limits:  a.limits(),
		Batch:   cfg.Batch,
		Logger:  logger,
	}
	srv := ipc.NewServer(handler, cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("shutting down")

		manager.StopAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	url := ipc.FormatListenURL(cfg.ListenAddr)
	logger.Info("storyboard engine listening",
		zap.String("url", url),
		zap.String("db", cfg.DBPath),
		zap.Bool("oracle", gen != nil),
	)
	if openUI {
		openBrowser(url + "/api/v1/health")
	}

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		<-shutdownDone
		return fmt.Errorf("server error: %w", err)
	}
	<-shutdownDone
	return nil
}

// openBrowser opens the URL in the default browser.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	_ = cmd.Start()
}
