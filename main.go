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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messenger-service/internal/auth"
	"messenger-service/internal/config"
	"messenger-service/internal/db"
	"messenger-service/internal/dispatch"
	"messenger-service/internal/handlers"
	"messenger-service/internal/identity"
	"messenger-service/internal/logging"
	"messenger-service/internal/middleware"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/push"
	"messenger-service/internal/rabbitmq"
	"messenger-service/internal/repositories"
	"messenger-service/internal/repositories/gormstore"
	"messenger-service/internal/repositories/memory"
	"messenger-service/internal/telemetry"
	"messenger-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.Setup(cfg.IsDevelopment(), cfg.LogLevel)

	ctx := context.Background()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to open storage")
	}
	defer store.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("event publisher ready")

	var registryOpts []presence.Option
	if cfg.RedisURL != "" {
		tracker, err := presence.NewRedisTracker(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer tracker.Close()
		registryOpts = append(registryOpts, presence.WithTracker(tracker))
		log.Info().Msg("presence mirrored to redis")
	}
	registry := presence.NewRegistry(registryOpts...)
	hub := ws.NewHub(registry)

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL, cfg.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init token service")
	}
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Env)
	notifier := push.NewNotifier(publisher, cfg.PushRoutingKey)
	dispatcher := dispatch.New(store, hub, notifier)
	users := identity.NewService(store.Users)

	userHandler := handlers.NewUserHandler(users, tokens, registry, audit)
	friendHandler := handlers.NewFriendHandler(dispatcher, audit)
	groupHandler := handlers.NewGroupHandler(dispatcher, audit)
	messageHandler := handlers.NewMessageHandler(dispatcher, audit)
	wsHandler := ws.NewHandler(registry, dispatcher, store.Groups, tokens)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(logger),
		otelgin.Middleware(cfg.ServiceName),
		observability.HTTPMetricsMiddleware(),
		middleware.OptionalAuth(tokens),
	)

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, publisher, cfg.DebugRoutes)

	router.POST("/register", userHandler.Register)
	router.POST("/login", userHandler.Login)
	router.POST("/register-device", userHandler.RegisterDevice)
	router.GET("/search", userHandler.Search)
	router.GET("/presence/:username", userHandler.Presence)

	router.GET("/friends/:username", friendHandler.ListFriends)
	router.DELETE("/friends/:username", friendHandler.RemoveFriend)
	router.GET("/requests/:username", friendHandler.ListRequests)
	router.POST("/send_request", friendHandler.SendRequest)
	router.POST("/accept", friendHandler.Accept)
	router.POST("/reject", friendHandler.Reject)

	router.POST("/groups", groupHandler.CreateGroup)
	router.GET("/groups/:username", groupHandler.ListGroups)
	router.POST("/groups/:id/leave", groupHandler.LeaveGroup)
	router.DELETE("/groups/:id", groupHandler.DeleteGroup)

	router.GET("/messages/:room", messageHandler.History)
	router.DELETE("/messages/:room", messageHandler.ClearRoom)

	router.GET("/ws", wsHandler.Handle)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Str("storage", cfg.StorageDriver).Msg("starting messenger service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	dispatcher.Wait()
	log.Info().Msg("server stopped")
}

func openStore(cfg *config.Config) (repositories.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		database, err := db.Connect(cfg.DatabaseDSN)
		if err != nil {
			return repositories.Store{}, err
		}
		return repositories.NewPostgresStore(database), nil
	case config.DriverSQLite:
		database, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return repositories.Store{}, err
		}
		storage := gormstore.New(database)
		if err := storage.Migrate(); err != nil {
			return repositories.Store{}, err
		}
		return storage.Store(), nil
	default:
		return memory.NewStore(), nil
	}
}
