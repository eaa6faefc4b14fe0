// Package main runs the live session platform HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campuslive/backend/config"
	"github.com/campuslive/backend/internal/auth"
	"github.com/campuslive/backend/internal/middleware"
	"github.com/campuslive/backend/internal/models"
	"github.com/campuslive/backend/internal/moderation"
	"github.com/campuslive/backend/internal/presence"
	"github.com/campuslive/backend/internal/realtime"
	"github.com/campuslive/backend/internal/recordings"
	"github.com/campuslive/backend/internal/sessions"
	"github.com/campuslive/backend/internal/signaling"
	"github.com/campuslive/backend/internal/tasks"
	"github.com/campuslive/backend/pkg/database"
	"github.com/campuslive/backend/pkg/redis"
	"github.com/campuslive/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Presence
	partRepo := presence.NewRepository(pool)
	tracker := presence.NewTracker(partRepo, logger)

	// Sessions
	sessionRepo := sessions.NewRepository(pool)
	sessionSvc := sessions.NewService(sessionRepo, tracker, hub, logger)
	sessionHandler := sessions.NewHandler(sessionSvc, tracker, partRepo, logger)

	// Signaling
	creds := signaling.NewCachedProvider(&signaling.StaticProvider{}, 10*time.Minute)
	coordinator := signaling.NewCoordinator(tracker, hub, creds, cfg.WebRTC.ICEUrls, logger)
	loadSession := func(c *gin.Context, id uuid.UUID) (*models.LiveSession, error) {
		return sessionSvc.Get(c.Request.Context(), id)
	}
	signalHandler := signaling.NewHandler(coordinator, loadSession, cfg.Push, logger)

	// Tasks (enqueue side; the worker binary drains the queue)
	taskRepo := tasks.NewRepository(pool, cfg.Tasks.MaxRetries)

	// Moderation
	window := time.Duration(cfg.Moderation.ViolationWindowSec) * time.Second
	limiter := moderation.NewRedisLimiter(rdb.Client, cfg.Moderation.RateLimitPerMinute, time.Minute)
	violations := moderation.NewRedisViolations(rdb.Client, window)
	screener := moderation.NewScreener(cfg.Moderation.BannedTerms, cfg.Moderation.WatchTerms, limiter)
	moderationRepo := moderation.NewRepository(pool)
	pipeline := moderation.NewPipeline(sessionRepo, moderationRepo, screener, violations,
		taskRepo, hub, cfg.Moderation.SeverityThreshold, logger)
	moderationHandler := moderation.NewHandler(pipeline, moderationRepo, logger)

	// Recordings
	recordingRepo := recordings.NewRepository(pool)
	var recordingHandler *recordings.Handler
	if s3Client != nil {
		recordingHandler = recordings.NewHandler(recordingRepo, s3Client, logger)
	}

	// Persist the derived viewer count on presence changes, and tear down
	// room state when the session ends.
	tracker.OnChange(func(sessionID uuid.UUID, count int) {
		_ = sessionSvc.RecordViewerCount(context.Background(), sessionID, count)
	})
	tracker.OnLeave(func(sessionID, principalID uuid.UUID) {
		coordinator.EvictParticipant(sessionID, principalID)
	})
	sessionSvc.OnEnded(func(ctx context.Context, sess *models.LiveSession) {
		coordinator.CloseRoom(sess.ID)
		if err := tracker.CloseSession(ctx, sess.ID); err != nil {
			logger.Warn("close session presence failed", zap.Error(err),
				zap.String("session_id", sess.ID.String()))
		}
		if sess.RecordEnabled && sess.Status == models.SessionEnded {
			task := &models.AnalysisTask{
				Type:      models.TaskRecordingFinalize,
				TargetID:  sess.ID,
				SessionID: sess.ID,
			}
			if err := taskRepo.Enqueue(ctx, task); err != nil {
				logger.Error("enqueue recording finalize failed", zap.Error(err),
					zap.String("session_id", sess.ID.String()))
			}
		}
	})

	wsAuth := func(token string) (uuid.UUID, string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		return claims.UserID, claims.Role, nil
	}
	wsAdmit := func(ctx context.Context, sessionID, principalID uuid.UUID) error {
		sess, err := sessionSvc.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != models.SessionLive {
			return models.ErrSessionNotLive
		}
		// A reconnecting participant reuses their open slot and never
		// counts against capacity twice.
		if sess.MaxParticipants != nil && !tracker.Present(sessionID, principalID) &&
			tracker.Count(sessionID) >= *sess.MaxParticipants {
			return models.ErrSessionFull
		}
		return nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Session lifecycle
		api.GET("/sessions", sessionHandler.List)
		api.POST("/sessions", middleware.RequireRole("admin", "instructor"), sessionHandler.Create)
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.POST("/sessions/:id/start", sessionHandler.Start)
		api.POST("/sessions/:id/end", sessionHandler.End)
		api.POST("/sessions/:id/cancel", sessionHandler.Cancel)
		api.GET("/sessions/:id/audience_count", sessionHandler.AudienceCount)
		api.GET("/sessions/:id/attendees", middleware.RequireRole("admin", "instructor"), sessionHandler.Attendees)

		// Signaling
		api.GET("/sessions/:id/room", signalHandler.RoomConfigEndpoint)
		api.GET("/sessions/:id/push-token", signalHandler.PushToken)

		// Chat and moderation
		api.GET("/sessions/:id/messages", moderationHandler.History)
		api.GET("/sessions/:id/moderation", middleware.RequireRole("admin", "instructor"), moderationHandler.Audit)
		api.GET("/sessions/:id/violations/:principal", middleware.RequireRole("admin", "instructor"), moderationHandler.Violations)
		api.PATCH("/moderation/:id/override", middleware.RequireRole("admin"), moderationHandler.Override)

		// Recordings
		if recordingHandler != nil {
			api.GET("/sessions/:id/recordings", recordingHandler.ListBySession)
			api.GET("/recordings/:id/download", recordingHandler.Download)
		}
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, tracker, pipeline, coordinator, wsAuth, wsAdmit, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
