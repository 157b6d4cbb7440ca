package main

import (
	"fmt"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/config"
	"recipe-sync-server/internal/logger"
	"recipe-sync-server/internal/repository"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the CouchDB database and its Mango indexes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		log := logger.New(cfg.Server.Env, cfg.Logging.Level)

		client, err := connect(cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		created, err := repository.EnsureDatabase(cmd.Context(), client, cfg.Database.Name)
		if err != nil {
			return err
		}

		log.Info("database ready",
			slog.String("database", cfg.Database.Name),
			slog.Bool("created", created),
		)
		return nil
	},
}

func connect(cfg *config.Config) (*kivik.Client, error) {
	client, err := kivik.New("couch", cfg.Database.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}
	return client, nil
}
