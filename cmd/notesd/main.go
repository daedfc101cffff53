package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pressleaf/notesd/internal/attachments"
	"github.com/pressleaf/notesd/internal/blobstore"
	"github.com/pressleaf/notesd/internal/config"
	"github.com/pressleaf/notesd/internal/database"
	"github.com/pressleaf/notesd/internal/logging"
	"github.com/pressleaf/notesd/internal/notes"
	"github.com/pressleaf/notesd/internal/server"
	"github.com/pressleaf/notesd/internal/sharing"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "notesd",
		Short: "Notes lifecycle, history, attachment and sharing service",
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
	cmd.PersistentFlags().String("blob-backend", defaults.GetString("blob.backend"), "Blob backend (filesystem or s3)")
	cmd.PersistentFlags().String("upload-dir", defaults.GetString("upload.dir"), "Attachment directory for the filesystem backend")
	cmd.PersistentFlags().Int64("upload-max-size-mb", defaults.GetInt64("upload.max_size_mb"), "Maximum attachment size in MiB")
	cmd.PersistentFlags().String("s3-bucket", defaults.GetString("s3.bucket"), "Bucket for the s3 blob backend")
	cmd.PersistentFlags().String("s3-endpoint", defaults.GetString("s3.endpoint"), "Endpoint override for the s3 blob backend")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "blob.backend", "blob-backend")
	bindFlag(cmd, "upload.dir", "upload-dir")
	bindFlag(cmd, "upload.max_size_mb", "upload-max-size-mb")
	bindFlag(cmd, "s3.bucket", "s3-bucket")
	bindFlag(cmd, "s3.endpoint", "s3-endpoint")
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

	blobs, err := newBlobStore(ctx, appConfig)
	if err != nil {
		return err
	}

	idProvider := notes.NewUUIDProvider()

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Blobs:      blobs,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	attachmentsService, err := attachments.NewService(attachments.ServiceConfig{
		Database:       db,
		Blobs:          blobs,
		Clock:          time.Now,
		IDProvider:     idProvider,
		Logger:         logger,
		MaxUploadBytes: appConfig.MaxUploadBytes(),
		PreviewFormats: appConfig.PreviewFormats,
	})
	if err != nil {
		return err
	}

	sharingService, err := sharing.NewService(sharing.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		NotesService:       notesService,
		AttachmentsService: attachmentsService,
		SharingService:     sharingService,
		Database:           db,
		Logger:             logger,
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("blob_backend", appConfig.BlobBackend))
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

func newBlobStore(ctx context.Context, appConfig config.AppConfig) (blobstore.Store, error) {
	switch appConfig.BlobBackend {
	case config.BlobBackendS3:
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Endpoint:        appConfig.S3Endpoint,
			Region:          appConfig.S3Region,
			AccessKeyID:     appConfig.S3AccessKeyID,
			SecretAccessKey: appConfig.S3SecretKey,
			Bucket:          appConfig.S3Bucket,
			UsePathStyle:    appConfig.S3UsePathStyle,
		})
	default:
		return blobstore.NewFileStore(appConfig.UploadDir)
	}
}
