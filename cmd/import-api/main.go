package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/rosterly/enrol-recon-api/api/swagger"
	"github.com/rosterly/enrol-recon-api/internal/handler"
	"github.com/rosterly/enrol-recon-api/internal/middleware"
	"github.com/rosterly/enrol-recon-api/internal/models"
	"github.com/rosterly/enrol-recon-api/internal/repository"
	"github.com/rosterly/enrol-recon-api/internal/service"
	"github.com/rosterly/enrol-recon-api/pkg/cache"
	"github.com/rosterly/enrol-recon-api/pkg/config"
	"github.com/rosterly/enrol-recon-api/pkg/database"
	"github.com/rosterly/enrol-recon-api/pkg/logger"
	corsmiddleware "github.com/rosterly/enrol-recon-api/pkg/middleware/cors"
	reqidmiddleware "github.com/rosterly/enrol-recon-api/pkg/middleware/requestid"
	"github.com/rosterly/enrol-recon-api/pkg/storage"
)

// @title Enrolment Reconciliation API
// @version 1.0.0
// @description Spreadsheet-driven enrollment reconciliation: upload, review, apply.
// @BasePath /
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	files, err := storage.NewLocalStorage(cfg.Import.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init file storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Import.SignedURLSecret, cfg.Import.SignedURLTTL)

	batchRepo := repository.NewBatchRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	uow := repository.NewImportUnitOfWork(db)

	// The summary cache is optional; a missing Redis degrades to DB reads.
	var summaryCache *repository.CacheRepository
	if redisClient, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Sugar().Warnw("redis unavailable, batch summaries will not be cached", "error", err)
	} else {
		defer redisClient.Close()
		summaryCache = repository.NewCacheRepository(redisClient)
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	matchSvc := service.NewMatchService(enrollmentRepo, logr, cfg.Import)
	applySvc := service.NewApplyService(batchRepo, uow, metricsSvc, logr)
	importSvc := service.NewImportService(batchRepo, matchSvc, summaryCache, files, signer, validate, metricsSvc, logr, cfg.Import)

	importHandler := handler.NewImportHandler(importSvc, applySvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/files", importHandler.DownloadFile)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))
	{
		imports := api.Group("/imports")
		imports.POST("", importHandler.Upload)
		imports.GET("", importHandler.List)
		imports.GET("/:id", importHandler.Get)
		imports.GET("/:id/rows", importHandler.Rows)
		imports.GET("/:id/rows/:rowId/candidates", importHandler.RowCandidates)
		imports.GET("/:id/export", importHandler.Export)
		imports.GET("/:id/file", importHandler.FileURL)
		imports.POST("/:id/review", importHandler.Review)
		imports.POST("/:id/rows/:rowId/resolve", importHandler.ResolveRow)
		imports.POST("/:id/rows/:rowId/exclude", importHandler.ExcludeRow)
		imports.POST("/:id/apply", middleware.RequireRoles(models.RoleAdmin), importHandler.Apply)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
