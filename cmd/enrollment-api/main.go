package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/enrollment-api/api/swagger"
	"github.com/noah-isme/enrollment-api/internal/client"
	"github.com/noah-isme/enrollment-api/internal/handler"
	"github.com/noah-isme/enrollment-api/internal/middleware"
	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/notify"
	"github.com/noah-isme/enrollment-api/internal/repository"
	"github.com/noah-isme/enrollment-api/internal/service"
	"github.com/noah-isme/enrollment-api/pkg/cache"
	"github.com/noah-isme/enrollment-api/pkg/config"
	"github.com/noah-isme/enrollment-api/pkg/database"
	"github.com/noah-isme/enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/enrollment-api/pkg/middleware/requestid"
)

// @title Enrollment API
// @version 1.0.0
// @description Back office for academic enrollments: approvals, matricula allocation, call center distribution, payment gateway and sister-system webhooks.
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}

	// Repositories.
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	matriculaRepo := repository.NewMatriculaRepository(db)
	callRepo := repository.NewCallRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close()

	// Outbound collaborators.
	portalClient := client.NewPortalClient(cfg.Portal, logr)
	notifier := notify.NewNotifier(notify.LogSender{Logger: logr}, cfg.Notify, logr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier.Start(ctx)
	defer notifier.Stop()

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, auditRepo, nil, logr, cfg.JWT)
	matriculaSvc := service.NewMatriculaService(studentRepo, enrollmentRepo, matriculaRepo, logr)
	approvalSvc := service.NewApprovalService(enrollmentRepo, studentRepo, matriculaSvc, auditRepo, notifier, metricsSvc, nil, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, logr)
	studentSvc := service.NewStudentService(studentRepo, enrollmentRepo, nil, logr)
	callcenterSvc := service.NewCallCenterService(callRepo, enrollmentRepo, userRepo, cacheRepo, auditRepo, metricsSvc, nil, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, studentRepo, approvalSvc, auditRepo, metricsSvc, cfg.Gateway, logr)
	webhookSvc := service.NewWebhookService(studentRepo, enrollmentRepo, approvalSvc, auditRepo, metricsSvc, cfg.Webhook, cfg.Enrollment, nil, logr)
	syncSvc := service.NewSyncService(portalClient, cacheRepo, cfg.Enrollment, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, approvalSvc)
	callcenterHandler := handler.NewCallCenterHandler(callcenterSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	webhookHandler := handler.NewWebhookHandler(webhookSvc)
	syncHandler := handler.NewSyncHandler(syncSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group("/api/v1")

	// Public edges, authenticated by signature or hash, never by JWT.
	api.POST("/webhooks/enrollment-status", webhookHandler.EnrollmentStatus)
	api.POST("/payments/azul/callback", paymentHandler.Callback)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	staff := api.Group("")
	staff.Use(middleware.JWT(authSvc))
	{
		staff.GET("/students", studentHandler.List)
		staff.POST("/students", studentHandler.Create)
		staff.GET("/students/:id", studentHandler.Get)
		staff.PUT("/students/:id", studentHandler.Update)
		staff.POST("/students/:id/enrollments", studentHandler.Apply)
		staff.GET("/students/:id/payments", paymentHandler.ListByStudent)

		staff.GET("/enrollments", enrollmentHandler.List)
		staff.GET("/enrollments/:id", enrollmentHandler.Get)
		staff.GET("/enrollments/:id/calls", callcenterHandler.History)
		staff.POST("/enrollments/:id/approve", enrollmentHandler.Approve)
		staff.POST("/enrollments/bulk-approve", enrollmentHandler.BulkApprove)

		staff.POST("/calls", callcenterHandler.MarkCalled)
		staff.PUT("/calls/:id/comment", callcenterHandler.EditComment)

		staff.POST("/payments/azul/redirect", paymentHandler.BuildRedirect)
		staff.GET("/payments/:transaction_id", paymentHandler.GetByTransaction)

		staff.GET("/callcenter/pending", callcenterHandler.Summary)

		admin := staff.Group("")
		admin.Use(middleware.RequireRoles(models.RoleAdmin))
		{
			admin.POST("/callcenter/distribute", callcenterHandler.Distribute)

			sync := admin.Group("/sync")
			sync.Use(middleware.Audit(auditRepo, models.AuditActionSyncAccess, "sync"))
			{
				sync.GET("/test", syncHandler.Test)
				sync.GET("/courses", syncHandler.Courses)
				sync.GET("/enrollments/:cedula", syncHandler.EnrollmentStatus)
			}
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
