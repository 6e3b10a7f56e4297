package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/handlers"
	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
	"chat-relay/internal/rabbitmq"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
	"chat-relay/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	sugar := logger.Sugar()

	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, logger)
	if err != nil {
		sugar.Fatalw("failed to init tracing", "error", err)
	}

	var rooms repositories.RoomRepository
	closers := map[string]gfshutdown.Operation{}
	switch cfg.RoomBackend {
	case config.BackendPostgres:
		database, err := db.ConnectPostgres(ctx, cfg.DBDSN, logger)
		if err != nil {
			sugar.Fatalw("failed to connect to db", "error", err)
		}
		rooms = repositories.NewRoomRepo(database)
		closers["postgres"] = func(context.Context) error { return database.Close() }
	default:
		rooms = repositories.NewMemoryRoomRepo()
	}

	var presence repositories.PresenceRepository
	switch cfg.PresenceBackend {
	case config.BackendRedis:
		client, err := db.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			sugar.Fatalw("failed to connect to redis", "error", err)
		}
		presence = repositories.NewRedisPresenceRepo(client, cfg.RedisPrefix)
		closers["redis"] = func(context.Context) error { return client.Close() }
	default:
		presence = repositories.NewMemoryPresenceRepo()
	}
	sugar.Infow("backends selected", "rooms", cfg.RoomBackend, "presence", cfg.PresenceBackend)

	// Nobody is connected yet; membership and presence from a previous run are stale.
	if err := rooms.Reset(ctx); err != nil {
		sugar.Fatalw("failed to reset room participants", "error", err)
	}
	if err := presence.Reset(ctx); err != nil {
		sugar.Fatalw("failed to reset presence", "error", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	sugar.Infow("event publisher ready",
		"mode", rabbitmq.PublisherMode(publisher),
		"reason", rabbitmq.PublisherNoopReason(publisher),
	)
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Env, logger)

	hub := ws.NewHub(rooms, presence,
		ws.WithLogger(logger.Named("hub")),
		ws.WithTypingTimeout(cfg.TypingTimeout),
		ws.WithAuditEmitter(audit),
	)
	hubCtx, stopHub := context.WithCancel(ctx)
	hubStopped := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubStopped)
	}()

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		otelgin.Middleware(cfg.ServiceName),
		middleware.RequestID(),
		middleware.Logger(logger),
		observability.HTTPMetricsMiddleware(),
		gin.Recovery(),
	)

	roomHandler := handlers.NewRoomHandler(rooms, presence, logger)
	wsHandler := ws.NewWebSocketHandler(hub, ws.HandlerConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.SendBuffer,
		Limits: ws.Limits{
			MessageRate:  cfg.MessageRate,
			MessageBurst: cfg.MessageBurst,
			TypingRate:   cfg.TypingRate,
			TypingBurst:  cfg.TypingBurst,
		},
	}, logger.Named("ws"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/rooms", roomHandler.ListRooms)
	router.GET("/rooms/:roomId/messages", roomHandler.GetRoomMessages)
	router.GET("/presence", roomHandler.Presence)
	router.GET("/ws", wsHandler.Handle)
	handlers.RegisterDebugRoutes(router, audit, hub, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		sugar.Infow("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server error", "error", err)
		}
	}()

	operations := map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			// Hijacked websocket connections are not tracked by Shutdown;
			// stopping the hub closes them.
			err := srv.Shutdown(ctx)
			stopHub()
			select {
			case <-hubStopped:
			case <-ctx.Done():
				return ctx.Err()
			}
			for name, closeFn := range closers {
				if cerr := closeFn(ctx); cerr != nil {
					sugar.Warnw("close failed", "resource", name, "error", cerr)
				}
			}
			return err
		},
		"amqp": func(context.Context) error {
			return publisher.Close()
		},
		"tracing": shutdownTracing,
	}

	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, operations)
	exitCode := <-wait
	sugar.Infow("relay exited", "code", exitCode)
	logger.Sync() //nolint:errcheck
	os.Exit(exitCode)
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Env == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
