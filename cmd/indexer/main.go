package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/registry"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage/boltstore"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage/pgstore"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting index engine", "port", cfg.Server.Port, "storage", cfg.Storage.Engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open record store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	checker := health.NewChecker()
	checker.Register("store", health.Ping(func(ctx context.Context) error {
		return store.Batch(ctx, func(a storage.Actions) error {
			_, err := a.GetDocument("health/probe")
			if errors.Is(err, storage.ErrDocumentNotFound) {
				return nil
			}
			return err
		})
	}))

	opts := indexer.OptionsFromConfig(cfg.Indexer, m)

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, query caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			opts.Listeners = append(opts.Listeners, queryCache)
			checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
				if err := redisClient.Ping(ctx); err != nil {
					return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
				}
				return health.ComponentHealth{Status: health.StatusUp}
			})
			slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexUpdates)
		defer producer.Close()
		opts.Listeners = append(opts.Listeners, consumer.NewPublisher(producer))
	}

	reg := registry.New(store, cfg.Indexer, opts)
	for _, def := range definitions() {
		if _, err := reg.Register(def); err != nil {
			slog.Error("failed to register index", "index", def.Name, "error", err)
			os.Exit(1)
		}
		if err := reg.Backfill(ctx, def.Name); err != nil {
			slog.Error("failed to backfill index", "index", def.Name, "error", err)
		}
	}
	checker.Register("indexes", func(ctx context.Context) health.ComponentHealth {
		names := reg.Names()
		if len(names) == 0 {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no indexes registered"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d indexes open", len(names))}
	})
	reg.Start(ctx)

	if cfg.Kafka.Enabled {
		breaker := resilience.NewCircuitBreaker("document-changes", resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, to resilience.State) { m.BreakerState(name, int(to)) },
		})
		changes := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentChanges,
			consumer.HandleMessage(reg, breaker, resilience.RetryConfig{MaxAttempts: 5}))
		checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
			if breaker.State() == resilience.StateOpen {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: "document changes circuit open"}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
		go func() {
			if err := consumer.New(changes).Start(ctx); err != nil {
				slog.Error("document change consumer error", "error", err)
			}
		}()
		slog.Info("consuming document changes",
			"topic", cfg.Kafka.Topics.DocumentChanges,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}

	router := mux.NewRouter()
	handler.New(reg, queryCache, m, cfg.Search).RegisterRoutes(router)
	router.HandleFunc("/health/live", checker.LiveHandler()).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.ReadyHandler()).Methods(http.MethodGet)
	router.Use(middleware.RequestID, middleware.Metrics(m), middleware.Timeout(cfg.Server.WriteTimeout))

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			shutdownMetrics(shutdownCtx)
		}
	}()

	slog.Info("index engine listening", "addr", server.Addr, "indexes", reg.Names())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := reg.Close(shutdownCtx); err != nil {
		slog.Error("closing indexes failed", "error", err)
	}
	slog.Info("index engine stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "bolt":
		store, err := boltstore.Open(cfg.Storage.BoltPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := pgstore.New(db)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported storage engine %q", cfg.Storage.Engine)
}
