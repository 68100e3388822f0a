package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Billy-Davies-2/ladder-bot/internal/archive"
	"github.com/Billy-Davies-2/ladder-bot/internal/auth"
	"github.com/Billy-Davies-2/ladder-bot/internal/clickhouse"
	"github.com/Billy-Davies-2/ladder-bot/internal/command"
	"github.com/Billy-Davies-2/ladder-bot/internal/config"
	"github.com/Billy-Davies-2/ladder-bot/internal/dal"
	grpcserver "github.com/Billy-Davies-2/ladder-bot/internal/grpc"
	"github.com/Billy-Davies-2/ladder-bot/internal/handlers"
	"github.com/Billy-Davies-2/ladder-bot/internal/history"
	"github.com/Billy-Davies-2/ladder-bot/internal/ladder"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
	"github.com/Billy-Davies-2/ladder-bot/internal/mocks"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
	"github.com/Billy-Davies-2/ladder-bot/internal/pubsub"
	"github.com/Billy-Davies-2/ladder-bot/internal/registry"
	"github.com/Billy-Davies-2/ladder-bot/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger first
	logger.Init(cfg.LogLevel)
	logger.Info("Starting ladder bot", "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := openGateway(cfg)
	if err != nil {
		logger.Error("Failed to initialize storage", "driver", cfg.DBDriver, "error", err)
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer gw.Close()

	upstream, closeUpstream := openEvents(cfg)
	defer closeUpstream()
	events := pubsub.New()
	if upstream != nil {
		events = pubsub.NewWithUpstream(upstream)
	}

	stats, err := openAnalytics(cfg)
	if err != nil {
		logger.Error("Failed to initialize ClickHouse", "address", cfg.ClickHouseAddr, "error", err)
		log.Fatalf("Failed to initialize ClickHouse: %v", err)
	}
	defer stats.Close()

	hist := history.New(gw, history.WithSink(stats), history.WithDefaultLength(cfg.HistoryDefault))

	var regOpts []registry.Option
	if cfg.Archive.Bucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			logger.Error("Failed to initialize archive", "bucket", cfg.Archive.Bucket, "error", err)
			log.Fatalf("Failed to initialize archive: %v", err)
		}
		regOpts = append(regOpts, registry.WithArchiver(archiver))
		logger.Info("Archiving deleted tournaments", "bucket", cfg.Archive.Bucket)
	}

	reg := registry.New(gw, ladder.Options{
		MaxOutgoing: cfg.MaxOutgoing,
		MaxIncoming: cfg.MaxIncoming,
		ResultGrace: cfg.ResultGrace,
		Publisher:   events,
		History:     hist,
	}, regOpts...)

	sched, err := scheduler.New(cfg.ExpiryCron, reg)
	if err != nil {
		logger.Error("Invalid expiry schedule", "spec", cfg.ExpiryCron, "error", err)
		log.Fatalf("Invalid expiry schedule: %v", err)
	}
	sched.Start()

	dispatcher := command.NewDispatcher(reg, hist)

	// Initialize authentication
	// Use mock auth in development mode, Authentik OAuth2 in production
	var authProvider auth.Provider
	if cfg.Development() {
		logger.Info("Using mock authentication for local development (no Authentik server required)")
		authProvider = auth.NewMockAuth()
	} else {
		if cfg.Authentik.URL == "" || cfg.Authentik.ClientID == "" || cfg.Authentik.ClientSecret == "" {
			logger.Error("AUTHENTIK_URL, AUTHENTIK_CLIENT_ID, and AUTHENTIK_CLIENT_SECRET are required outside development")
			log.Fatal("AUTHENTIK_URL, AUTHENTIK_CLIENT_ID, and AUTHENTIK_CLIENT_SECRET are required outside development")
		}
		authProvider = auth.NewAuthentikAuth(cfg.Authentik)
		logger.Info("Using Authentik", "url", cfg.Authentik.URL)
	}

	// Start gRPC server
	grpcServer, grpcHealth := grpcserver.NewGRPCServer(grpcserver.NewServer(dispatcher, events))
	lis, err := net.Listen("tcp", "0.0.0.0:"+cfg.GRPCPort)
	if err != nil {
		logger.Error("Failed to listen for gRPC", "error", err, "port", cfg.GRPCPort)
		log.Fatalf("Failed to listen for gRPC: %v", err)
	}
	go func() {
		logger.Info("gRPC server starting", "address", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server stopped", "error", err)
		}
	}()

	// Set up HTTP routes
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/login", authProvider.LoginHandler)
	mux.HandleFunc("/auth/callback", authProvider.CallbackHandler)
	mux.HandleFunc("/auth/logout", authProvider.LogoutHandler)

	api := handlers.NewAPIHandlers(dispatcher, events, stats)
	api.Routes(mux, authProvider.Middleware)

	health := handlers.NewHealth(map[string]handlers.Check{
		"database": func(ctx context.Context) error {
			_, err := gw.Load(ctx, models.Key{Channel: "healthcheck", Mode: models.ModeLadder1v1})
			return err
		},
		"clickhouse": stats.Ping,
		"nats": func(context.Context) error {
			if c, ok := upstream.(interface{ Connected() bool }); ok && !c.Connected() {
				return errors.New("not connected")
			}
			return nil
		},
	})
	mux.HandleFunc("/api/health", health.Ready)
	mux.HandleFunc("/healthz", health.Live)  // Kubernetes liveness probe
	mux.HandleFunc("/readyz", health.Ready) // Kubernetes readiness probe

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	health.Drain()
	grpcHealth.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	grpcServer.GracefulStop()
	sched.Stop()
	logger.Info("Shutdown complete", "tournaments", reg.Len())
}

// openGateway selects the persistence backend from DB_DRIVER
func openGateway(cfg config.Config) (dal.Gateway, error) {
	switch strings.ToLower(cfg.DBDriver) {
	case "sqlite":
		logger.Info("Using SQLite", "file", cfg.SQLiteFile)
		return dal.NewSQLiteDAL(cfg.SQLiteFile)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return mocks.NewMockPostgresDAL(cfg.SQLiteFile)
		}
		logger.Info("Using Postgres")
		return dal.NewPostgresDAL(cfg.DatabaseURL)
	case "bolt":
		logger.Info("Using bbolt", "file", cfg.BoltFile)
		return dal.NewBoltDAL(cfg.BoltFile)
	default:
		logger.Info("Using in-memory data store")
		return dal.NewMemoryDAL(), nil
	}
}

// openEvents connects the event bus to NATS. Development runs an embedded
// server; elsewhere NATS_URL selects a real one. A nil upstream keeps events
// process-local
func openEvents(cfg config.Config) (pubsub.Upstream, func()) {
	if cfg.Development() {
		logger.Info("Starting embedded NATS server for local development")
		opts := pubsub.DefaultEmbeddedNATSOptions()
		opts.Subject = cfg.NATSSubject
		embedded, err := pubsub.NewEmbeddedNATSPubSub(opts)
		if err != nil {
			logger.Warn("Embedded NATS unavailable, events stay in process", "error", err)
			return nil, func() {}
		}
		logger.Info("Embedded NATS server ready", "url", embedded.GetServerURL())
		return embedded, embedded.Close
	}

	if cfg.NATSURL == "" {
		logger.Info("NATS_URL not set, events stay in process")
		return nil, func() {}
	}
	nats, err := pubsub.NewNATSPubSub(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		logger.Error("Failed to initialize NATS", "error", err)
		log.Fatalf("Failed to initialize NATS: %v", err)
	}
	logger.Info("Connected to NATS", "url", cfg.NATSURL)
	return nats, nats.Close
}

// openAnalytics returns the ClickHouse client, or the in-memory mock when no
// server is configured
func openAnalytics(cfg config.Config) (clickhouse.Analytics, error) {
	if cfg.ClickHouseAddr == "" {
		logger.Info("Using mock ClickHouse (no ClickHouse server configured)")
		return mocks.NewMockClickHouseClient(), nil
	}
	client, err := clickhouse.NewClient(cfg.ClickHouseAddr, cfg.ClickHouseDB, cfg.ClickHouseUser, cfg.ClickHousePassword)
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to ClickHouse", "address", cfg.ClickHouseAddr, "database", cfg.ClickHouseDB)
	return client, nil
}
