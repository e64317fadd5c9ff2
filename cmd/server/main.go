package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"ballotbox/internal/election"
	electionhandler "ballotbox/internal/election/handler"
	electionmetrics "ballotbox/internal/election/metrics"
	electionservice "ballotbox/internal/election/service"
	electionstore "ballotbox/internal/election/store"
	"ballotbox/internal/election/tallycache"
	"ballotbox/internal/election/worker"
	httpapi "ballotbox/internal/http"
	jwttoken "ballotbox/internal/jwt_token"
	"ballotbox/internal/platform/config"
	"ballotbox/internal/platform/httpserver"
	"ballotbox/internal/platform/kafka"
	"ballotbox/internal/platform/logger"
	"ballotbox/internal/platform/metrics"
	platformredis "ballotbox/internal/platform/redis"
	"ballotbox/internal/platform/storage"
	"ballotbox/internal/platform/tracing"
	ratelimitmw "ballotbox/internal/ratelimit/middleware"
	ratelimitmodels "ballotbox/internal/ratelimit/models"
	"ballotbox/internal/ratelimit/store/bucket"
	"ballotbox/pkg/platform/audit"
	"ballotbox/pkg/platform/audit/publisher"
	"ballotbox/pkg/platform/audit/store/kafkastore"
	"ballotbox/pkg/platform/audit/store/logstore"
	"ballotbox/pkg/platform/circuit"
	"ballotbox/pkg/platform/middleware/admin"
	"ballotbox/pkg/platform/middleware/auth"
	"ballotbox/pkg/platform/middleware/metadata"
)

const (
	topicPartitions  = 3
	topicReplication = 1
)

// main loads configuration, wires dependencies and runs the HTTP server and
// the lifecycle sweeper until SIGINT or SIGTERM.
func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	registry := metrics.NewRegistry()
	httpMetrics := metrics.New(registry)
	healthChecks := map[string]httpapi.HealthCheck{}

	store, db, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		healthChecks["database"] = db.PingContext
	}
	log.Info("election store ready", "driver", cfg.Database.Driver)

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		healthChecks["redis"] = redisClient.Health
	}

	auditStores := audit.MultiStore{logstore.New(log)}
	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafka.NewProducer(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		if err := producer.EnsureTopic(ctx, topicPartitions, topicReplication); err != nil {
			log.Warn("could not ensure election events topic", "topic", producer.Topic(), "error", err)
		}
		auditStores = append(auditStores, kafkastore.New(producer))
		healthChecks["kafka"] = producer.Ping
	}
	auditPublisher := publisher.NewPublisher(auditStores,
		publisher.WithAsyncBuffer(cfg.Kafka.AuditBuffer),
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(registry)),
	)

	serviceOpts := []electionservice.Option{
		electionservice.WithLogger(log),
		electionservice.WithAuditPublisher(auditPublisher),
		electionservice.WithMetrics(electionmetrics.New(registry)),
		electionservice.WithTracer(otel.Tracer("ballotbox/election")),
	}
	if redisClient != nil {
		cache := tallycache.New(redisClient.Client,
			tallycache.WithTTL(cfg.Redis.TallyTTL),
			tallycache.WithLogger(log),
		)
		serviceOpts = append(serviceOpts, electionservice.WithTallyCache(cache))
	}
	electionService := election.NewService(store, serviceOpts...)

	validator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, ""))
	requireAdmin := admin.RequireAdminToken(cfg.Auth.AdminToken,
		auth.RequireRole(validator, cfg.Auth.AdminMinRole, log), log)

	clientIP, err := metadata.NewResolver(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	voteLimit, err := ratelimitmodels.NewLimit(cfg.RateLimit.VoteLimit, cfg.RateLimit.VoteWindow)
	if err != nil {
		return err
	}
	var limiterStore ratelimitmw.BucketStore
	if redisClient != nil {
		limiterStore = bucket.NewRedisBucketStore(redisClient.Client)
	}
	limiter := ratelimitmw.New(limiterStore, log,
		ratelimitmw.WithMetrics(httpMetrics),
		ratelimitmw.WithAuditPublisher(auditPublisher),
		ratelimitmw.WithBreaker(circuit.New("ratelimit")),
		ratelimitmw.WithResolver(clientIP),
	)

	electionHandler := election.NewHandler(electionService, log,
		electionhandler.WithAdminMiddleware(requireAdmin),
		electionhandler.WithVoteMiddleware(
			auth.OptionalAuth(validator, log),
			limiter.RateLimitIP("vote", voteLimit),
		),
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:         log,
		Metrics:        httpMetrics,
		Registry:       registry,
		ClientIP:       clientIP,
		RequestTimeout: cfg.RequestTimeout,
		HealthChecks:   healthChecks,
		Handlers:       []httpapi.Registrar{electionHandler},
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.ShutdownTimeout, log)
	})
	if cfg.Sweep.Enabled {
		runnerOpts := []worker.Option{worker.WithLogger(log)}
		if redisClient != nil {
			runnerOpts = append(runnerOpts, worker.WithRedisLock(redisClient.Client, cfg.Sweep.LockTTL))
		}
		runner := worker.NewRunner(electionService, cfg.Sweep.Interval, runnerOpts...)
		g.Go(func() error {
			err := runner.Start(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	err = g.Wait()

	// Drain queued audit events before the Kafka client goes away.
	auditPublisher.Close()
	if producer != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if cerr := producer.Close(closeCtx); cerr != nil {
			log.Warn("kafka producer close failed", "error", cerr)
		}
	}
	return err
}

// openStore returns the configured election store. db is nil for the
// in-memory store.
func openStore(ctx context.Context, cfg config.Database) (electionservice.Store, *sql.DB, error) {
	if cfg.Driver == config.DriverMemory {
		return electionstore.NewInMemory(), nil, nil
	}

	dialect := storage.Dialect(cfg.Driver)
	db, err := storage.Open(ctx, dialect, cfg.URL, storage.Pool{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := electionstore.Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return electionstore.NewSQL(db, dialect, electionstore.WithTxTimeout(cfg.TxTimeout)), db, nil
}
