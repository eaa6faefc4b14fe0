// Package main runs the background task worker (chat analysis, recording finalization).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campuslive/backend/config"
	"github.com/campuslive/backend/internal/models"
	"github.com/campuslive/backend/internal/moderation"
	"github.com/campuslive/backend/internal/realtime"
	"github.com/campuslive/backend/internal/recordings"
	"github.com/campuslive/backend/internal/sessions"
	"github.com/campuslive/backend/internal/tasks"
	"github.com/campuslive/backend/pkg/database"
	"github.com/campuslive/backend/pkg/redis"
	"github.com/campuslive/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	taskRepo := tasks.NewRepository(pool, cfg.Tasks.MaxRetries)
	worker := tasks.NewWorker(taskRepo, tasks.Options{
		BackoffBase:  time.Duration(cfg.Tasks.BackoffBaseSec) * time.Second,
		BackoffCap:   time.Duration(cfg.Tasks.BackoffCapSec) * time.Second,
		PollInterval: time.Duration(cfg.Tasks.PollIntervalSec) * time.Second,
		StaleAfter:   time.Duration(cfg.Tasks.StaleAfterSec) * time.Second,
	}, nil, logger)

	// Chat analysis: verdicts go back through the moderation pipeline so
	// redaction broadcasts reach any connected instance via Redis.
	window := time.Duration(cfg.Moderation.ViolationWindowSec) * time.Second
	violations := moderation.NewRedisViolations(rdb.Client, window)
	moderationRepo := moderation.NewRepository(pool)
	sessionRepo := sessions.NewRepository(pool)
	screener := moderation.NewScreener(cfg.Moderation.BannedTerms, cfg.Moderation.WatchTerms, nil)
	bridge := realtime.NewRedisPubSub(rdb.Client, logger)
	pipeline := moderation.NewPipeline(sessionRepo, moderationRepo, screener, violations,
		taskRepo, bridge, cfg.Moderation.SeverityThreshold, logger)

	if cfg.Moderation.AnalysisEngineURL != "" {
		analyzer := moderation.NewHTTPAnalyzer(cfg.Moderation.AnalysisEngineURL)
		worker.Register(models.TaskChatAnalysis,
			moderation.NewAnalysisExecutor(moderationRepo, analyzer, pipeline, logger))
	} else {
		logger.Warn("chat analysis disabled (ANALYSIS_ENGINE_URL not set)")
	}

	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		recordingRepo := recordings.NewRepository(pool)
		worker.Register(models.TaskRecordingFinalize,
			recordings.NewFinalizer(recordingRepo, s3Client, sessionRepo, logger))
	} else {
		logger.Warn("recording finalization disabled (AWS_REGION not set)")
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(workerCtx)
	go worker.RunStaleSweeper(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
