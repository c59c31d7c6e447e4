package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"coursetalk/api/internal/app"
	"coursetalk/api/internal/blob"
	"coursetalk/api/internal/config"
	"coursetalk/api/internal/session"
	"coursetalk/api/internal/store"
	"coursetalk/api/internal/uploads"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	os.Exit(execute(newRootCommand(), logrus.StandardLogger()))
}

// execute runs cmd and reports a failure through logger, since the root
// command silences cobra's own error output.
func execute(cmd *cobra.Command, logger logrus.FieldLogger) int {
	if err := cmd.Execute(); err != nil {
		logger.WithError(err).WithField("command", cmd.Name()).Error("command failed")
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "coursetalk",
		Short:         "Course discussion API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	})
	var rollbackSteps int
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), rollbackSteps)
		},
	}
	migrate.Flags().IntVar(&rollbackSteps, "rollback", 0, "revert this many applied migrations instead of applying")
	root.AddCommand(migrate)

	var workers, batch int
	sweep := &cobra.Command{
		Use:   "sweep-uploads",
		Short: "Delete expired upload reservations and their objects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd.Context(), workers, batch)
		},
	}
	sweep.Flags().IntVar(&workers, "workers", 4, "concurrent object deletions")
	sweep.Flags().IntVar(&batch, "batch", 500, "maximum reservations per run")
	root.AddCommand(sweep)

	return root
}

type runtime struct {
	cfg    config.Config
	logger *logrus.Logger
	db     *sql.DB
}

func setup(ctx context.Context) (*runtime, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	if strings.TrimSpace(cfg.SentryDSN) != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.WithError(err).Warn("sentry init failed")
		}
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger, db: db}, nil
}

func (r *runtime) close() {
	sentry.Flush(2 * time.Second)
	_ = r.db.Close()
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func (r *runtime) uploadService() (*uploads.Service, *blob.MinioStore, error) {
	blobs, err := blob.NewMinioStore(blob.MinioConfig{
		Endpoint:        r.cfg.S3Endpoint,
		AccessKeyID:     r.cfg.S3AccessKeyID,
		SecretAccessKey: r.cfg.S3SecretAccessKey,
		Bucket:          r.cfg.S3Bucket,
		Region:          r.cfg.S3Region,
		UseSSL:          r.cfg.S3UseSSL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("object storage: %w", err)
	}
	limits := uploads.NewLimits(r.cfg.UploadQuotaMB, r.cfg.UploadMaxFileSizeMB)
	return uploads.NewService(store.NewPostgresUploads(r.db), blobs, limits, r.logger), blobs, nil
}

func runMigrate(ctx context.Context, rollbackSteps int) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if rollbackSteps > 0 {
		reverted, err := store.RollbackMigrations(ctx, rt.db, rt.cfg.MigrationsDir, rollbackSteps, rt.logger)
		if err != nil {
			return fmt.Errorf("rollback migrations: %w", err)
		}
		rt.logger.WithField("reverted", len(reverted)).Info("rollback finished")
		return nil
	}

	applied, err := store.ApplyMigrations(ctx, rt.db, rt.cfg.MigrationsDir, rt.logger)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	rt.logger.WithFields(logrus.Fields{"dir": rt.cfg.MigrationsDir, "applied": len(applied)}).Info("migrations up to date")
	return nil
}

func runSweep(ctx context.Context, workers, batch int) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	uploadSvc, _, err := rt.uploadService()
	if err != nil {
		return err
	}
	report, err := uploadSvc.Sweep(ctx, workers, batch)
	if err != nil {
		return fmt.Errorf("sweep uploads: %w", err)
	}
	rt.logger.WithFields(logrus.Fields{
		"expired":       report.Expired,
		"blobs_removed": report.BlobsRemoved,
		"failed":        report.Failed,
	}).Info("upload sweep finished")
	return nil
}

func runServe(ctx context.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger
	cfg := rt.cfg

	if _, err := store.ApplyMigrations(ctx, rt.db, cfg.MigrationsDir, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	uploadSvc, blobs, err := rt.uploadService()
	if err != nil {
		return err
	}

	var viewers *session.ViewerCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		viewers, err = session.NewViewerCache(cfg.RedisURL, cfg.ViewerCacheTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer viewers.Close()
		logger.Info("viewer cache enabled")
	}

	service, err := app.New(cfg, store.NewPostgresStore(rt.db), uploadSvc, blobs, viewers, logger)
	if err != nil {
		return err
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).Info("coursetalk api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	return nil
}
