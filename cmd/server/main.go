// Command server runs the vigil screening gateway: the HTTP API, the stream
// hub, the audit worker and the timeout reaper, wired from configuration.
// Business logic lives in the internal packages; main only assembles them.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"vigil/internal/jwtauth"
	"vigil/internal/platform/config"
	"vigil/internal/platform/httpserver"
	"vigil/internal/platform/logger"
	platformredis "vigil/internal/platform/redis"
	"vigil/internal/screening/handler"
	"vigil/internal/screening/metrics"
	"vigil/internal/screening/models"
	"vigil/internal/screening/providers"
	"vigil/internal/screening/service"
	"vigil/internal/screening/store"
	"vigil/internal/stream"
	httptransport "vigil/internal/transport/http"
	"vigil/internal/watchlist"
	watchlisthandler "vigil/internal/watchlist/handler"
	watchliststore "vigil/internal/watchlist/store"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/audit"
	auditmemory "vigil/pkg/platform/audit/store/memory"
	auditworker "vigil/pkg/platform/audit/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New()
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		queryStore   store.QueryStore
		datasetStore watchliststore.DatasetStore
		db           *sql.DB
	)
	if cfg.Database.DSN != "" {
		db, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("database unreachable", "error", err)
			os.Exit(1)
		}
		pgQueries := store.NewPostgres(db)
		pgDatasets := watchliststore.NewPostgres(db)
		if err := pgQueries.EnsureSchema(ctx); err != nil {
			log.Error("failed to ensure screening schema", "error", err)
			os.Exit(1)
		}
		if err := pgDatasets.EnsureSchema(ctx); err != nil {
			log.Error("failed to ensure watchlist schema", "error", err)
			os.Exit(1)
		}
		queryStore = pgQueries
		datasetStore = pgDatasets
		log.Info("using postgres stores")
	} else {
		queryStore = store.NewMemoryStore()
		datasetStore = watchliststore.NewMemoryStore()
		log.Info("using in-memory stores")
	}

	// Audit pipeline: non-blocking publisher, background worker, Kafka sink
	// when brokers are configured.
	var auditStore audit.Store
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaStore, err := audit.NewKafkaStore(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("failed to create kafka audit sink", "error", err)
			os.Exit(1)
		}
		defer kafkaStore.Close()
		auditStore = kafkaStore
		log.Info("audit events flow to kafka", "topic", cfg.Kafka.Topic)
	} else {
		auditStore = auditmemory.New()
	}
	publisher := audit.NewPublisher(256, log)
	go func() {
		if err := auditworker.New(auditStore, publisher.Inbox(), log).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()

	m := metrics.New()
	hub := stream.NewHub(cfg.Screening.SubscriberBuffer, time.Second, log)

	// Optional Redis relay for multi-instance event delivery.
	var relay *stream.Relay
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		relay = stream.NewRelay(hub, redisClient.Client, "vigil.events", uuid.NewString(), log)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event relay stopped", "error", err)
			}
		}()
		log.Info("cross-instance event relay enabled")
	}

	// Provider invokers: real HTTP backends where configured, built-in mocks
	// otherwise. The mocks report through the same callback path external
	// providers use, so local development exercises the whole pipeline.
	var svc *service.Service
	report := func(ctx context.Context, queryID string, kind models.ProviderKind, result json.RawMessage, provErr *models.ProviderError) {
		qid, err := id.ParseQueryID(queryID)
		if err != nil {
			log.Error("mock provider produced invalid query id", "query_id", queryID, "error", err)
			return
		}
		if provErr != nil {
			_, err = svc.ReportFailure(ctx, qid, kind, provErr.Code, provErr.Message)
		} else {
			_, err = svc.ReportSuccess(ctx, qid, kind, result)
		}
		if err != nil {
			log.Warn("mock provider report rejected", "query_id", queryID, "provider", string(kind), "error", err)
		}
	}
	endpoints := map[models.ProviderKind]config.ProviderEndpoint{
		models.ProviderStructuredList: cfg.Providers.StructuredList,
		models.ProviderPEP:            cfg.Providers.PEP,
		models.ProviderAdverseMedia:   cfg.Providers.AdverseMedia,
	}
	var invokers []providers.Invoker
	for _, kind := range models.AllProviderKinds() {
		endpoint := endpoints[kind]
		if endpoint.URL != "" {
			invokers = append(invokers, providers.NewHTTPInvoker(kind, endpoint.URL, endpoint.Timeout))
			continue
		}
		invokers = append(invokers, &providers.MockInvoker{
			ProviderKind: kind,
			Latency:      500 * time.Millisecond,
			Report:       report,
		})
		log.Info("using mock provider", "provider", string(kind))
	}

	var broadcaster service.Broadcaster
	if relay != nil {
		broadcaster = relay
	}
	svc = service.New(service.Config{
		Store:           queryStore,
		Hub:             hub,
		Relay:           broadcaster,
		Invokers:        invokers,
		Emitter:         publisher,
		Metrics:         m,
		Logger:          log,
		CallbackBaseURL: cfg.Providers.CallbackBaseURL,
		ProviderTimeout: cfg.Screening.ProviderTimeout,
	})

	go func() {
		if err := svc.RunReaper(ctx, cfg.Screening.ReapInterval); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("timeout reaper stopped", "error", err)
		}
	}()

	watchlistSvc := watchlist.NewService(datasetStore, publisher, log)
	tokens := jwtauth.NewService(cfg.Server.JWTSigningKey, "vigil")

	router := httptransport.NewRouter(httptransport.Deps{
		Screening:      handler.New(svc, hub, m, log, cfg.Screening.KeepaliveInterval),
		Watchlist:      watchlisthandler.New(watchlistSvc, log),
		Validator:      tokens,
		CallbackSecret: cfg.Server.CallbackSecret,
		Health: func() error {
			if db != nil {
				if err := db.PingContext(context.Background()); err != nil {
					return err
				}
			}
			if redisClient != nil {
				return redisClient.Health(context.Background())
			}
			return nil
		},
		Logger: log,
	})

	srv := httpserver.New(cfg.Server.Addr, router)
	go func() {
		log.Info("vigil listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	cancel()
}
