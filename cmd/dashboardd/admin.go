package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"farm-dashboard-backend/internal/auth"
	"farm-dashboard-backend/internal/db"
	"farm-dashboard-backend/internal/invite"
	"farm-dashboard-backend/internal/logging"
	"farm-dashboard-backend/internal/store"
)

var adminEmail, adminName, adminPassword string

// createAdminCmd bootstraps the first administrator; everyone after that
// signs up through an invite.
var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.New(cfg.Log.Debug)
		defer func() { _ = logger.Sync() }()

		gormDB, err := db.Init(&cfg.Database, logger)
		if err != nil {
			return err
		}
		appStore := store.NewGormStore(gormDB)
		invites := invite.NewService(appStore, cfg.Invites.TTL, logger)
		authSvc := auth.NewService(appStore, invites, auth.NewSessions(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL), cfg.Auth.BcryptCost, logger)

		user, err := authSvc.CreateAdmin(context.Background(), adminEmail, adminName, adminPassword)
		if err != nil {
			return err
		}
		logger.Info("administrator created", zap.String("user_id", user.ID), zap.String("email", user.Email))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createAdminCmd)
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "administrator email")
	createAdminCmd.Flags().StringVar(&adminName, "name", "", "display name")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "password, 8 to 72 bytes")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")
}
