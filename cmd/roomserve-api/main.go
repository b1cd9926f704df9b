package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roomserve/backend/internal/auth"
	"github.com/roomserve/backend/internal/config"
	"github.com/roomserve/backend/internal/database"
	"github.com/roomserve/backend/internal/hub"
	"github.com/roomserve/backend/internal/logging"
	"github.com/roomserve/backend/internal/rooms"
	"github.com/roomserve/backend/internal/server"
	"github.com/roomserve/backend/internal/versioning"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "roomserve-api",
		Short: "Collaborative code room backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("snapshot-interval", defaults.GetInt("versioning.snapshot_interval"), "Store a full snapshot every Nth version")
	cmd.PersistentFlags().Int("hub-buffer-size", defaults.GetInt("hub.buffer_size"), "Per-peer broadcast buffer size")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "versioning.snapshot_interval", "snapshot-interval")
	bindFlag(cmd, "hub.buffer_size", "hub-buffer-size")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	roomService, err := rooms.NewService(rooms.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: rooms.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	snapshotStore, err := versioning.NewStore(versioning.StoreConfig{
		Database: db,
		Codec:    versioning.NewCodec(),
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	versionWriter, err := versioning.NewWriter(versioning.WriterConfig{
		Store:            snapshotStore,
		Codec:            versioning.NewCodec(),
		SnapshotInterval: appConfig.SnapshotInterval,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	broadcastHub := hub.New(hub.Config{
		BufferSize: appConfig.HubBufferSize,
		Logger:     logger,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions: sessionValidator,
		Rooms:    roomService,
		Store:    snapshotStore,
		Writer:   versionWriter,
		Hub:      broadcastHub,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
