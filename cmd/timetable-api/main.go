package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/timetable-sync/api/swagger"
	"github.com/noah-isme/timetable-sync/internal/handler"
	internalmiddleware "github.com/noah-isme/timetable-sync/internal/middleware"
	"github.com/noah-isme/timetable-sync/internal/repository"
	"github.com/noah-isme/timetable-sync/internal/service"
	"github.com/noah-isme/timetable-sync/internal/source"
	"github.com/noah-isme/timetable-sync/pkg/config"
	"github.com/noah-isme/timetable-sync/pkg/database"
	"github.com/noah-isme/timetable-sync/pkg/logger"
	corsmiddleware "github.com/noah-isme/timetable-sync/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/timetable-sync/pkg/middleware/requestid"
)

// @title Timetable Sync API
// @version 1.0.0
// @description Timetable ingestion, normalisation and offline-first sync.
// @BasePath /api
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	periods := service.DefaultPeriodTable()
	if cfg.Schedule.Periods != "" {
		parsed, err := service.ParsePeriodTable(cfg.Schedule.Periods)
		if err != nil {
			return fmt.Errorf("parse SCHEDULE_PERIODS: %w", err)
		}
		periods = parsed
	}

	metrics := service.NewMetricsService()

	snapshots, err := openSnapshots(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	checks := []handler.ReadinessCheck{{Name: "snapshots", Check: snapshots.Ping}}

	var documents service.DocumentStore
	if cfg.Documents.Enabled {
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect document store: %w", err)
		}
		defer db.Close()
		if err := database.EnsureDocumentsSchema(ctx, db); err != nil {
			return err
		}
		documents = repository.NewDocumentRepository(db)
		checks = append(checks, handler.ReadinessCheck{Name: "documents", Check: db.PingContext})
	}

	if documents != nil && !cfg.Sync.RemoteSync {
		logr.Warn("document store enabled without ENABLE_REMOTE_SYNC, local edits are kept but never pushed")
	}

	reconciler := service.NewSyncReconciler(service.ReconcilerConfig{
		MemoryTTL:         cfg.Sync.MemoryTTL,
		BackgroundWindow:  cfg.Sync.BackgroundWindow,
		ForegroundWindow:  cfg.Sync.ForegroundWindow,
		FetchTimeout:      cfg.Source.FetchTimeout,
		ReconcileInterval: cfg.Sync.ReconcileInterval,
		RemoteSync:        cfg.Sync.RemoteSync && documents != nil,
		PushWorkers:       cfg.Sync.PushWorkers,
		PushRetries:       cfg.Sync.PushRetries,
		PushRetryDelay:    cfg.Sync.PushRetryDelay,
	}, snapshots.Repository, nil, metrics, logr)

	normalizer := service.NewLessonNormalizer(periods)
	chain := service.NewFormatAdapterChain(normalizer, logr, metrics)
	var timetableSource service.TimetableSource
	if cfg.Source.TimetableURL != "" {
		timetableSource = source.NewHTTPSource(cfg.Source, logr)
	} else {
		logr.Warn("TIMETABLE_SOURCE_URL not set, serving sample data")
	}
	timetableSvc := service.NewTimetableService(reconciler, timetableSource, chain,
		service.NewSubstitutionOverlay(logr), service.NewFallbackProvider(periods), periods, logr)
	subjectSvc := service.NewSubjectService(reconciler, documents, validator.New(), logr)

	reconciler.Start(ctx)
	defer reconciler.Stop()

	timetableHandler := handler.NewTimetableHandler(timetableSvc)
	subjectHandler := handler.NewSubjectHandler(subjectSvc)
	metricsHandler := handler.NewMetricsHandler(metrics, checks...)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics, path.Join(cfg.APIPrefix, "/timetable/updates")))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	timetable := api.Group("/timetable")
	timetable.GET("", timetableHandler.Get)
	timetable.POST("/refresh", timetableHandler.Refresh)
	timetable.GET("/current-period", timetableHandler.CurrentPeriod)
	timetable.GET("/export", timetableHandler.Export)
	timetable.POST("/ingest", timetableHandler.Ingest)
	timetable.GET("/updates", timetableHandler.Updates)

	subjects := api.Group("/subjects", internalmiddleware.Identity(cfg.JWT.Secret))
	subjects.GET("", subjectHandler.List)
	subjects.PUT("", subjectHandler.Replace)
	subjects.POST("/:id/grades", subjectHandler.AddGrade)
	subjects.DELETE("/:id", subjectHandler.Delete)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("failed to shutdown server", zap.Error(err))
		}
	}()

	logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env, "snapshots", cfg.Snapshot.Backend)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logr.Info("server stopped")
	return nil
}
