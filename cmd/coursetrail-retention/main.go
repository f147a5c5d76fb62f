package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/coursetrail/pkg/archive"
	"github.com/platinummonkey/coursetrail/pkg/audit"
	"github.com/platinummonkey/coursetrail/pkg/config"
	"github.com/platinummonkey/coursetrail/pkg/observability"
)

var (
	runOnce    = flag.Bool("run-once", false, "Run retention once and exit")
	daysToKeep = flag.Int("days", 0, "Days of events to keep (overrides COURSETRAIL_RETENTION_DAYS)")
	schedule   = flag.String("schedule", "", "Cron schedule (overrides COURSETRAIL_RETENTION_SCHEDULE)")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()
	logger := setupLogger(*logLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if *daysToKeep > 0 {
		cfg.Retention.DaysToKeep = *daysToKeep
	}
	if *schedule != "" {
		cfg.Retention.Schedule = *schedule
	}
	ctx := context.Background()
	repo, db, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to open audit storage: %v", err)
	}
	defer db.Close()

	serviceLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	repo, closeCache, err := shareStatsCache(ctx, cfg, repo, serviceLogger)
	if err != nil {
		logger.Fatalf("Failed to connect to statistics cache: %v", err)
	}
	defer closeCache()
	service := audit.NewService(repo, audit.WithLogger(serviceLogger))

	var archiver audit.Archiver
	if cfg.Retention.ArchiveEnabled {
		s3Archiver, err := archive.NewS3Archiver(ctx, archive.Config{
			Endpoint:     cfg.Archive.S3Endpoint,
			Region:       cfg.Archive.S3Region,
			Bucket:       cfg.Archive.S3Bucket,
			AccessKey:    cfg.Archive.S3AccessKey,
			SecretKey:    cfg.Archive.S3SecretKey,
			UsePathStyle: cfg.Archive.S3UsePathStyle,
			Prefix:       cfg.Archive.Prefix,
		})
		if err != nil {
			logger.Fatalf("Failed to initialize archive: %v", err)
		}
		archiver = s3Archiver
		logger.Infof("Archiving expired events to s3://%s/%s", cfg.Archive.S3Bucket, cfg.Archive.Prefix)
	}

	retainer := audit.NewRetainer(service, archiver, serviceLogger)

	if *runOnce {
		if err := runRetention(ctx, retainer, cfg.Retention.DaysToKeep, logger); err != nil {
			logger.Fatalf("Retention failed: %v", err)
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Retention.Schedule, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if err := runRetention(jobCtx, retainer, cfg.Retention.DaysToKeep, logger); err != nil {
			logger.Errorf("Retention failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule retention: %v", err)
	}

	c.Start()
	logger.Infof("coursetrail retention started, schedule %q, keeping %d days", cfg.Retention.Schedule, cfg.Retention.DaysToKeep)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	// wait for a running job to finish
	<-c.Stop().Done()
	logger.Info("Retention scheduler stopped")
}

func runRetention(ctx context.Context, retainer *audit.Retainer, days int, logger *logrus.Logger) error {
	start := time.Now()
	report, err := retainer.Run(ctx, days)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"cutoff":   report.Cutoff.Format(time.RFC3339),
		"archived": report.Archived,
		"archive":  report.Archive,
		"deleted":  report.Deleted,
		"duration": time.Since(start).String(),
	}).Info("Retention run complete")
	return nil
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// openRepository opens the durable store; the in-memory store has nothing to retain
func openRepository(ctx context.Context, cfg *config.Config) (audit.Repository, *sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Storage.Type {
	case config.StoragePostgres:
		db, err = audit.OpenPostgres(ctx, cfg.Storage.PostgresURL,
			cfg.Storage.PostgresMaxConns, cfg.Storage.PostgresMinConns,
			cfg.Storage.PostgresLifetime, cfg.Storage.PostgresTimeout)
	case config.StorageSQLite:
		db, err = audit.OpenSQLite(ctx, cfg.Storage.SQLitePath)
	default:
		return nil, nil, fmt.Errorf("retention requires postgres or sqlite storage, got %q", cfg.Storage.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	var repo audit.Repository
	if cfg.Storage.Type == config.StoragePostgres {
		repo, err = audit.NewPostgresRepository(ctx, db)
	} else {
		repo, err = audit.NewSQLiteRepository(ctx, db)
	}
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}

// shareStatsCache wraps repo so that deleted events invalidate the Redis
// statistics cache read by the API servers. An LRU cache lives inside each
// server process and cannot be reached from here.
func shareStatsCache(ctx context.Context, cfg *config.Config, repo audit.Repository, logger *observability.Logger) (audit.Repository, func(), error) {
	if cfg.Cache.Type != config.CacheRedis {
		return repo, func() {}, nil
	}
	client, err := audit.NewRedisClient(ctx, cfg.Cache.RedisURL, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	cached := audit.NewCachedRepository(repo, audit.NewRedisStatsCache(client, cfg.Cache.TTL), config.CacheRedis, nil, logger)
	return cached, func() { client.Close() }, nil
}
