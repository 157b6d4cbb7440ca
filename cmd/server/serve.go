package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/config"
	"recipe-sync-server/internal/handler"
	"recipe-sync-server/internal/logger"
	"recipe-sync-server/internal/repository"
	"recipe-sync-server/internal/service"
	"recipe-sync-server/internal/websocket"

	"github.com/spf13/cobra"
)

const (
	shutdownTimeout  = 30 * time.Second
	wsRequestTimeout = 30 * time.Second
)

var skipSetup bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return serve(cmd.Context(), cfg, logger.New(cfg.Server.Env, cfg.Logging.Level))
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipSetup, "skip-setup", false, "do not create the database and indexes on start")
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := connect(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if !skipSetup {
		created, err := repository.EnsureDatabase(ctx, client, cfg.Database.Name)
		if err != nil {
			return err
		}
		if created {
			log.Info("created database", slog.String("database", cfg.Database.Name))
		}
	}

	db := cfg.Database.Name
	retries := cfg.Sync.WriteRetries

	userRepo := repository.NewUserRepository(client, db)
	deviceRepo := repository.NewDeviceRepository(client, db)
	documentRepo := repository.NewDocumentRepository(client, db, retries)
	operationRepo := repository.NewOperationRepository(client, db, retries)
	stateRepo := repository.NewSyncStateRepository(client, db, retries)
	batchRepo := repository.NewBatchRepository(client, db, retries)
	conflictRepo := repository.NewConflictRepository(client, db)

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		log,
	)
	wsManager.SetMaxMessageSize(cfg.WebSocket.MaxMessageSize)
	go wsManager.Run(ctx)

	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)
	userService := service.NewUserService(userRepo)
	stateService := service.NewSyncStateService(stateRepo)
	deviceService := service.NewDeviceService(deviceRepo, stateService)
	documentService := service.NewDocumentService(documentRepo)

	operationService, err := service.NewOperationService(operationRepo, cfg.Sync.RecentOperationsCacheSize, log)
	if err != nil {
		return err
	}
	conflictService := service.NewConflictService(conflictRepo, documentRepo, wsManager, retries, log)
	batchService := service.NewBatchService(
		batchRepo,
		documentRepo,
		operationService,
		conflictService,
		stateService,
		wsManager,
		service.BatchOptions{
			PageSize: cfg.Sync.ChangesPageSize,
			MaxItems: cfg.Sync.MaxBatchItems,
		},
		log,
	)

	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(batchService, wsRequestTimeout))

	router := handler.NewRouter(handler.Handlers{
		Auth:      handler.NewAuthHandler(authService, log),
		User:      handler.NewUserHandler(userService, log),
		Device:    handler.NewDeviceHandler(deviceService, log),
		Operation: handler.NewOperationHandler(operationService, log),
		SyncState: handler.NewSyncStateHandler(stateService, log),
		Batch:     handler.NewBatchHandler(batchService, log),
		Conflict:  handler.NewConflictHandler(conflictService, log),
		Document:  handler.NewDocumentHandler(documentService, log),
		WebSocket: handler.NewWebSocketHandler(wsManager, deviceService, cfg.JWT.Secret, cfg.WebSocket, log),
	}, cfg, log)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			slog.String("addr", addr),
			slog.String("env", cfg.Server.Env),
			slog.String("couchdb", fmt.Sprintf("%s:%s", cfg.Database.Host, cfg.Database.Port)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}
