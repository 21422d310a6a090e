package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"campus-chat/internal/auth"
	"campus-chat/internal/config"
	"campus-chat/internal/db"
	"campus-chat/internal/handlers"
	"campus-chat/internal/logger"
	"campus-chat/internal/middleware"
	"campus-chat/internal/observability"
	"campus-chat/internal/rabbitmq"
	"campus-chat/internal/ratelimit"
	"campus-chat/internal/repositories"
	"campus-chat/internal/services"
	"campus-chat/internal/storage"
	"campus-chat/internal/telemetry"
	"campus-chat/internal/ws"
)

func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogLevel, cfg.Environment, cfg.ServiceName)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}

	database, err := db.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()
	store := repositories.NewStore(database)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.ServiceName)
	observability.SetPublisher(publisher)
	log.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Str("reason", rabbitmq.PublisherNoopReason(publisher)).Msg("event publisher ready")
	auditEmitter := telemetry.NewAuditEmitter(publisher, "audit.chat", cfg.ServiceName, cfg.Environment)

	limiter, err := ratelimit.Open(ctx, cfg.RedisURL, cfg.SendRateLimit, cfg.SendRateWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	attachments, err := storage.New(storage.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
		Bucket:    cfg.MinioBucket,
		PublicURL: cfg.MinioPublicURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init attachment storage")
	}
	if err := attachments.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Str("bucket", cfg.MinioBucket).Msg("failed to ensure attachment bucket")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	membershipSvc := services.NewMembershipService(store)
	messageSvc := services.NewMessageService(store, cfg.EditWindow)
	presenceSvc := services.NewPresenceService(store)

	hub := ws.NewHub(presenceSvc, cfg.PresenceGrace)
	dispatcher := ws.NewDispatcher(hub, store)
	gateway := ws.NewGateway(hub, verifier, membershipSvc, messageSvc, presenceSvc, limiter, dispatcher, !cfg.IsProduction())

	chatHandler := handlers.NewChatHandler(membershipSvc, dispatcher, auditEmitter, !cfg.IsProduction())
	messageHandler := handlers.NewMessageHandler(messageSvc, attachments, dispatcher, auditEmitter, !cfg.IsProduction())

	router := gin.New()
	router.MaxMultipartMemory = handlers.MaxMultipartMemory
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(logger.GinMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))
	router.GET("/ws", gateway.Handle)

	api := router.Group("/", middleware.AuthMiddleware(verifier, presenceSvc))
	handlers.RegisterRoutes(api, chatHandler, messageHandler, limiter.SendLimit())
	handlers.RegisterDebugRoutes(api, auditEmitter, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("chat service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	hub.Close()
	if err := publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("close publisher")
	}
	if err := limiter.Close(); err != nil {
		log.Warn().Err(err).Msg("close redis")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown tracer")
	}
}
