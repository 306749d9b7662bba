package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"farm-dashboard-backend/config"
	"farm-dashboard-backend/internal/api"
	"farm-dashboard-backend/internal/auth"
	"farm-dashboard-backend/internal/claim"
	"farm-dashboard-backend/internal/db"
	"farm-dashboard-backend/internal/farm"
	"farm-dashboard-backend/internal/ingest"
	"farm-dashboard-backend/internal/invite"
	"farm-dashboard-backend/internal/liveness"
	"farm-dashboard-backend/internal/logging"
	"farm-dashboard-backend/internal/notification"
	"farm-dashboard-backend/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and background workers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg *config.Config) error {
	logger := logging.New(cfg.Log.Debug)
	defer func() { _ = logger.Sync() }()
	logger.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		return err
	}
	appStore := store.NewGormStore(gormDB)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	webpushOptions := &webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// A nil dispatcher turns alerts off.
	var alerts notification.Dispatcher
	if cfg.Push.Enabled() {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, logger)
		pool.Start(ctx)
		alerts = pool
	} else {
		logger.Warn("VAPID keys not configured, push alerts disabled")
	}

	invites := invite.NewService(appStore, cfg.Invites.TTL, logger)
	authSvc := auth.NewService(appStore, invites, auth.NewSessions(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL), cfg.Auth.BcryptCost, logger)
	farms := farm.NewService(appStore, appStore)

	if cfg.Liveness.Enabled {
		go liveness.NewService(cfg.Liveness, appStore, alerts, logger).Run(ctx)
	}

	router := api.NewRouter(api.Deps{
		Config:  cfg,
		Store:   appStore,
		Auth:    authSvc,
		Invites: invites,
		Claims:  claim.NewService(appStore, appStore, appStore, farms, logger),
		Farms:   farms,
		Ingest:  ingest.NewService(cfg.Ingest, appStore, appStore, alerts, logger),
		WebPush: webpushOptions,
		Log:     logger,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server ListenAndServe: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping services")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server Shutdown: %w", err)
	}
	logger.Info("server gracefully stopped")
	return nil
}
