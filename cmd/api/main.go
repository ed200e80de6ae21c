package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campusflow/lms-api/api/swagger"
	"github.com/campusflow/lms-api/internal/handler"
	"github.com/campusflow/lms-api/internal/middleware"
	"github.com/campusflow/lms-api/internal/repository"
	"github.com/campusflow/lms-api/internal/router"
	"github.com/campusflow/lms-api/internal/service"
	"github.com/campusflow/lms-api/pkg/cache"
	"github.com/campusflow/lms-api/pkg/config"
	"github.com/campusflow/lms-api/pkg/database"
	"github.com/campusflow/lms-api/pkg/jobs"
	"github.com/campusflow/lms-api/pkg/logger"
	corsmiddleware "github.com/campusflow/lms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campusflow/lms-api/pkg/middleware/requestid"
	"github.com/campusflow/lms-api/pkg/storage"
)

// @title CampusFlow LMS API
// @version 1.0.0
// @description Role-based learning management backend
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	exportRepo := repository.NewExportRepository(db)

	var cacheRepo *repository.CacheRepository
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.JWT.SingleSession,
	})
	accessSvc := service.NewAccessService(courseRepo, enrollmentRepo, logr)
	userSvc := service.NewUserService(userRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, userRepo, cacheOrNil(cacheRepo), validate, logr, cfg.Cache.TTL)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, courseRepo, accessSvc, invalidatorOrNil(cacheRepo), validate, logr)
	assessmentSvc := service.NewAssessmentService(assessmentRepo, enrollmentRepo, accessSvc, validate, logr)

	handlers := router.Handlers{
		Auth:        handler.NewAuthHandler(authSvc),
		Users:       handler.NewUserHandler(userSvc),
		Courses:     handler.NewCourseHandler(courseSvc),
		Enrollments: handler.NewEnrollmentHandler(enrollmentSvc, metricsSvc),
		Assessments: handler.NewAssessmentHandler(assessmentSvc),
	}

	var exportSvc *service.RosterExportService
	if cfg.Exports.Enabled {
		exportStorage, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewRosterExportService(exportRepo, enrollmentRepo, courseRepo, accessSvc, exportStorage, signer, logr, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
		})
		exportSvc.Start(ctx)
		defer exportSvc.Stop()
		go exportSvc.RunCleanup(ctx, cfg.Exports.CleanupInterval, cfg.Exports.SignedURLTTL)

		handlers.Exports = handler.NewExportHandler(exportSvc)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	router.Register(r, cfg.APIPrefix, authSvc, metricsSvc, handlers)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// cacheOrNil keeps the service layer's interface value nil when no cache is
// configured, instead of a typed nil pointer.
func cacheOrNil(repo *repository.CacheRepository) service.CourseCache {
	if repo == nil {
		return nil
	}
	return repo
}

func invalidatorOrNil(repo *repository.CacheRepository) service.CacheInvalidator {
	if repo == nil {
		return nil
	}
	return repo
}
