package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sinaunote/backend/internal/auth"
	"github.com/sinaunote/backend/internal/config"
	"github.com/sinaunote/backend/internal/database"
	"github.com/sinaunote/backend/internal/logging"
	"github.com/sinaunote/backend/internal/notes"
	"github.com/sinaunote/backend/internal/server"
	"github.com/sinaunote/backend/internal/storage"
	"github.com/sinaunote/backend/internal/subjects"
	"github.com/sinaunote/backend/internal/users"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "sinaunote-api",
		Short: "Sinau note sharing backend service",
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
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Duration("publish-sweep-interval", defaults.GetDuration("publish.sweep_interval"), "Scheduled publish sweep interval")
	cmd.PersistentFlags().String("storage-endpoint", defaults.GetString("storage.endpoint"), "Image object store endpoint")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "token.signing_secret", "signing-secret")
	bindFlag(cmd, "publish.sweep_interval", "publish-sweep-interval")
	bindFlag(cmd, "storage.endpoint", "storage-endpoint")
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

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "sinaunote-auth",
		Audience:      "sinaunote-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	var imageStore notes.ImageStore
	if appConfig.Storage.Endpoint != "" {
		objectStore, err := storage.NewObjectStore(ctx, storage.ObjectStoreConfig{
			Endpoint:  appConfig.Storage.Endpoint,
			AccessKey: appConfig.Storage.AccessKey,
			SecretKey: appConfig.Storage.SecretKey,
			Bucket:    appConfig.Storage.Bucket,
			BaseURL:   appConfig.Storage.BaseURL,
			UseSSL:    appConfig.Storage.UseSSL,
		})
		if err != nil {
			return err
		}
		imageStore = objectStore
	} else {
		logger.Warn("image object store disabled, inline image payloads will be rejected")
	}

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Images:   imageStore,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	subjectService, err := subjects.NewService(subjects.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator: tokenIssuer,
		NotesService:   notesService,
		SubjectService: subjectService,
		UserService:    userService,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler, err := notes.NewPublishScheduler(notes.PublishSchedulerConfig{
		Service:  notesService,
		Interval: appConfig.PublishSweepInterval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	go scheduler.Start(signalCtx)

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

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
