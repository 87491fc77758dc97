// Server runs the collaborative sync gateway: the WebSocket protocol and session REST API on
// HTTP_ADDR, and grpc.health.v1 on GRPC_ADDR.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"collab-sync/backend/internal/audit"
	audithandler "collab-sync/backend/internal/audit/handler"
	auditrepo "collab-sync/backend/internal/audit/repository"
	"collab-sync/backend/internal/config"
	"collab-sync/backend/internal/db"
	"collab-sync/backend/internal/db/migrate"
	"collab-sync/backend/internal/gateway"
	healthhandler "collab-sync/backend/internal/health/handler"
	"collab-sync/backend/internal/platform/logging"
	"collab-sync/backend/internal/policy/engine"
	"collab-sync/backend/internal/presence"
	"collab-sync/backend/internal/security"
	"collab-sync/backend/internal/server"
	sessionhandler "collab-sync/backend/internal/session/handler"
	sessionrepo "collab-sync/backend/internal/session/repository"
	"collab-sync/backend/internal/session/service"
	"collab-sync/backend/internal/telemetry"
	telemetryotel "collab-sync/backend/internal/telemetry/otel"
	"collab-sync/backend/internal/telemetry/producer"
	userrepo "collab-sync/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := security.NewVerifierFromPEM(cfg.JWTPublicKey, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		log.Fatalf("jwt verifier: %v", err)
	}

	var (
		sessions sessionrepo.Repository
		users    userrepo.Repository
		trail    auditrepo.Repository
		pinger   healthhandler.Pinger
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, err := db.Open(openCtx, cfg.DatabaseURL, db.DefaultPoolOptions)
		cancel()
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer closeDB(conn)
		sessions = sessionrepo.NewPostgresRepository(conn)
		users = userrepo.NewPostgresRepository(conn)
		trail = auditrepo.NewPostgresRepository(conn)
		pinger = conn
	default:
		logger.Warn("using the in-memory store; sessions do not survive a restart")
		sessions = sessionrepo.NewMemoryRepository()
		users = userrepo.NewMemoryRepository()
		trail = auditrepo.NewMemoryRepository()
	}

	policy, err := engine.LoadOPAEvaluator(ctx, cfg.SessionPolicyFile)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider)
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	emitters := []telemetry.EventEmitter{
		telemetryotel.NewEventEmitter(providers.LoggerProvider),
		audit.NewLogger(trail),
	}
	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.ActivityKafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		logger.Info("producing activity events to kafka", zap.String("topic", cfg.ActivityKafkaTopic))
	}
	emitter := telemetry.NewMultiEmitter(emitters...)

	tracker := presence.NewTracker()
	store := service.NewStore(sessions,
		service.WithUsers(users),
		service.WithPolicy(policy),
		service.WithPresence(tracker),
	)

	instanceID := uuid.NewString()
	gwOpts := []gateway.Option{
		gateway.WithLogger(logger.Named("gateway")),
		gateway.WithPresence(tracker),
		gateway.WithEmitter(emitter),
		gateway.WithMetrics(metrics),
		gateway.WithInstanceID(instanceID),
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		relay := gateway.NewRedisRelay(rdb, cfg.RedisChannelPrefix, instanceID, logger.Named("relay"))
		defer func() { _ = relay.Close() }()
		gwOpts = append(gwOpts, gateway.WithRelay(relay))
		logger.Info("relaying room traffic over redis", zap.String("addr", cfg.RedisAddr))
	}
	gw := gateway.New(store, verifier, gateway.Options{
		ReadLimit:      cfg.WSReadLimit,
		SendBuffer:     cfg.WSSendBuffer,
		PingInterval:   cfg.PingInterval(),
		WriteTimeout:   cfg.WriteTimeout(),
		RequestTimeout: cfg.RequestTimeoutDuration(),
		AllowedOrigins: cfg.AllowedOriginsList(),
	}, gwOpts...)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := gw.Run(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("relay stopped", zap.Error(err))
		}
	}()

	checker := healthhandler.NewChecker(pinger, policy)
	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.RouterDeps{
			Logger:   logger.Named("http"),
			Verifier: verifier,
			Health:   checker,
			Sessions: sessionhandler.NewHandler(store,
				sessionhandler.WithNotifier(gw),
				sessionhandler.WithEmitter(emitter),
				sessionhandler.WithLogger(logger.Named("sessions")),
			),
			Activity: audithandler.NewHandler(trail, logger.Named("activity")),
			Gateway:  gw,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	grpcSrv := server.NewGRPCServer(logger.Named("grpc"), server.Deps{Health: checker})
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	gw.Shutdown()
	grpcSrv.GracefulStop()
	stopRelay()
	<-relayDone

	// Let in-flight activity emits finish before the exporters go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			logger.Warn("kafka close", zap.Error(err))
		}
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}

func closeDB(conn *sql.DB) {
	if err := conn.Close(); err != nil {
		log.Printf("close database: %v", err)
	}
}
