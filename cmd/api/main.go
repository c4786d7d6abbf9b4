package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/library-duty-api/api/swagger"
	"github.com/noah-isme/library-duty-api/internal/handler"
	"github.com/noah-isme/library-duty-api/internal/middleware"
	"github.com/noah-isme/library-duty-api/internal/models"
	"github.com/noah-isme/library-duty-api/internal/repository"
	"github.com/noah-isme/library-duty-api/internal/service"
	"github.com/noah-isme/library-duty-api/pkg/cache"
	"github.com/noah-isme/library-duty-api/pkg/config"
	"github.com/noah-isme/library-duty-api/pkg/database"
	"github.com/noah-isme/library-duty-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/library-duty-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/library-duty-api/pkg/middleware/requestid"
)

// @title Library Duty API
// @version 1.0.0
// @description Library committee duty scheduling for student rosters
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

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	var redisClient *redis.Client
	if cfg.Scheduler.CacheEnabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, schedule cache disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Scheduler.CacheTTL, logr, cfg.Scheduler.CacheEnabled)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	classRepo := repository.NewClassRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	studentSvc := service.NewStudentService(studentRepo, classRepo, validate, logr)
	roomSvc := service.NewRoomService(roomRepo, validate, logr)
	dutySvc := service.NewDutyScheduleService(assignmentRepo, studentRepo, roomRepo, validate, logr, metricsSvc, cacheSvc, cfg.Scheduler)
	exportSvc := service.NewExportService(assignmentRepo, cfg.Exports.Title, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	roomHandler := handler.NewRoomHandler(roomSvc)
	dutyHandler := handler.NewDutyScheduleHandler(dutySvc, exportSvc)

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
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": "database"})
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": "cache"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		authed.GET("/auth/me", authHandler.Me)
	}

	readers := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleLibrarian)
	writers := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	students := authed.Group("/students")
	{
		students.GET("", readers, studentHandler.List)
		students.GET("/:id", readers, studentHandler.Get)
		students.POST("", writers, studentHandler.Create)
		students.PUT("/:id", writers, studentHandler.Update)
		students.DELETE("/:id", writers, studentHandler.Delete)
	}

	rooms := authed.Group("/rooms")
	{
		rooms.GET("", readers, roomHandler.List)
		rooms.GET("/:id", readers, roomHandler.Get)
		rooms.POST("", writers, roomHandler.Create)
		rooms.PUT("/:id", writers, roomHandler.Update)
		rooms.DELETE("/:id", writers, roomHandler.Delete)
	}

	duty := authed.Group("/duty-schedules")
	{
		duty.GET("", readers, dutyHandler.List)
		duty.GET("/summary", readers, dutyHandler.Summary)
		duty.POST("/generate", writers, dutyHandler.Generate)
		duty.POST("/reset", writers, dutyHandler.Reset)
		if cfg.Exports.Enabled {
			duty.GET("/export", readers, dutyHandler.Export)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
