package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/config"
	"github.com/felineworks/resolve-engine/pkg/database"
	"github.com/felineworks/resolve-engine/pkg/handlers"
	"github.com/felineworks/resolve-engine/pkg/logging"
	"github.com/felineworks/resolve-engine/pkg/middleware"
	"github.com/felineworks/resolve-engine/pkg/repositories"
	"github.com/felineworks/resolve-engine/pkg/retry"
	"github.com/felineworks/resolve-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Bool("generator_enabled", cfg.Generator.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.URL(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	var runLock services.RunLocker
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		runLock = services.NewRedisRunLocker(redisClient)
	} else {
		logger.Info("Redis not configured, using in-process run locks")
		runLock = services.NewLocalRunLocker()
	}

	// Repositories
	entityRepo := repositories.NewEntityRepository()
	identifierRepo := repositories.NewIdentifierRepository()
	candidateRepo := repositories.NewCandidateRepository()
	relationshipRepo := repositories.NewRelationshipRepository()
	auditRepo := repositories.NewAuditRepository()
	clusterRepo := repositories.NewClusterRepository()

	// Services
	resolver := services.NewCanonicalResolver(entityRepo)
	identifierIndex := services.NewIdentifierIndex(identifierRepo)
	mergeService := services.NewMergeService(&services.MergeServiceDeps{
		EntityRepo:       entityRepo,
		IdentifierRepo:   identifierRepo,
		RelationshipRepo: relationshipRepo,
		CandidateRepo:    candidateRepo,
		AuditRepo:        auditRepo,
		Resolver:         resolver,
		Logger:           logger,
	})
	reviewService := services.NewReviewService(&services.ReviewServiceDeps{
		CandidateRepo:    candidateRepo,
		EntityRepo:       entityRepo,
		IdentifierRepo:   identifierRepo,
		RelationshipRepo: relationshipRepo,
		MergeService:     mergeService,
		Logger:           logger,
	})
	clusterService := services.NewClusterService(&services.ClusterServiceDeps{
		ClusterRepo: clusterRepo,
		EntityRepo:  entityRepo,
		AuditRepo:   auditRepo,
		Logger:      logger,
	})
	generator := services.NewCandidateGenerator(&services.CandidateGeneratorDeps{
		EntityRepo:     entityRepo,
		IdentifierRepo: identifierRepo,
		CandidateRepo:  candidateRepo,
		Thresholds:     cfg.Matching,
		RunLock:        runLock,
		LockTTL:        time.Duration(cfg.Generator.LockTTLMinutes) * time.Minute,
		Logger:         logger,
	})

	// HTTP surface
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewCandidateHandler(reviewService, logger).RegisterRoutes(mux)
	handlers.NewClusterHandler(clusterService, logger).RegisterRoutes(mux)
	handlers.NewEntityHandler(resolver, identifierIndex, auditRepo, logger).RegisterRoutes(mux)

	handler := middleware.RequestLogger(logger)(
		http.HandlerFunc(database.WithScope(db, logger)(mux.ServeHTTP)))
	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: handler,
	}

	var scheduler *services.Scheduler
	if cfg.Generator.Enabled {
		scheduler = services.NewScheduler(db, generator,
			time.Duration(cfg.Generator.IntervalMinutes)*time.Minute, logger)
		scheduler.Start(ctx)
	}

	go func() {
		logger.Info("Starting resolve-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// runMigrations opens a short-lived database/sql connection for
// golang-migrate and closes it before the pgx pool comes up.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return database.RunMigrations(db, cfg.MigrationsPath, logger)
}
