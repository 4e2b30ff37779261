// Command server runs the identity lifecycle relay: the webhook ingestion
// API, the consumer workers draining the durable log, the outbox relay, and
// the anonymization scheduler, in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"idrelay/internal/admin"
	"idrelay/internal/consume"
	"idrelay/internal/deadletter"
	"idrelay/internal/dispatch"
	"idrelay/internal/eventlog/redisstream"
	"idrelay/internal/health"
	"idrelay/internal/lifecycle/correlation"
	"idrelay/internal/lifecycle/outbox"
	"idrelay/internal/lifecycle/service"
	lifecyclestore "idrelay/internal/lifecycle/store"
	"idrelay/internal/platform/config"
	"idrelay/internal/platform/httpserver"
	"idrelay/internal/platform/kafka/producer"
	"idrelay/internal/platform/logger"
	"idrelay/internal/platform/metrics"
	"idrelay/internal/platform/middleware"
	"idrelay/internal/platform/postgres"
	redisclient "idrelay/internal/platform/redis"
	"idrelay/internal/scheduler"
	webhookhandler "idrelay/internal/webhook/handler"
	"idrelay/internal/webhook/signature"
	adminmw "idrelay/pkg/platform/middleware/admin"
	"idrelay/pkg/platform/middleware/requesttime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	rdb, err := redisclient.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	m := metrics.New()

	eventLog := redisstream.New(rdb)
	deadStore := deadletter.NewRedis(rdb)

	outboxStore := outbox.NewPostgres(db)
	svc := service.New(
		lifecyclestore.NewPostgres(db),
		outboxStore,
		correlation.New(cfg.Lifecycle.CorrelationSalt),
		service.Config{GracePeriod: cfg.Lifecycle.GracePeriod},
		log,
		service.WithDB(db),
		service.WithMetrics(m),
	)

	dispatcher := dispatch.New(svc.WebhookHandlers(), cfg.Webhook.OriginAllowlist, cfg.Webhook.AdminOrigins, log)

	streams := make([]string, 0, len(cfg.Webhook.Sources))
	for source := range cfg.Webhook.Sources {
		streams = append(streams, webhookhandler.StreamName(source))
	}

	g, ctx := errgroup.WithContext(ctx)

	// Consumer workers share the group; each gets a distinct consumer name
	// so pending-entry ownership is traceable.
	for i := 0; i < cfg.Consumer.Workers; i++ {
		loop := consume.New(eventLog, deadStore, dispatcher, consume.Config{
			Streams:       streams,
			Group:         cfg.Consumer.Group,
			Consumer:      fmt.Sprintf("%s-%d", cfg.Consumer.Name, i),
			BatchSize:     cfg.Consumer.BatchSize,
			PollTimeout:   cfg.Consumer.PollTimeout,
			IdleThreshold: cfg.Consumer.IdleThreshold,
			MaxAttempts:   cfg.Consumer.MaxAttempts,
		}, m, log)
		g.Go(func() error { return loop.Run(ctx) })
	}

	// One reclaimer recovers entries stranded by crashed consumers.
	reclaimer := consume.New(eventLog, deadStore, dispatcher, consume.Config{
		Streams:       streams,
		Group:         cfg.Consumer.Group,
		Consumer:      cfg.Consumer.Name + "-reclaimer",
		BatchSize:     cfg.Consumer.BatchSize,
		PollTimeout:   cfg.Consumer.PollTimeout,
		IdleThreshold: cfg.Consumer.IdleThreshold,
		MaxAttempts:   cfg.Consumer.MaxAttempts,
	}, m, log)
	g.Go(func() error { return reclaimer.RunReclaimer(ctx) })

	// The outbox relay needs Kafka; without brokers configured, rows
	// accumulate unpublished and a later deploy with brokers drains them.
	if len(cfg.Kafka.Brokers) > 0 {
		prod, err := producer.New(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			return fmt.Errorf("start kafka producer: %w", err)
		}
		defer prod.Close()
		relay := outbox.NewRelay(outboxStore, prod, time.Second, log)
		g.Go(func() error { return relay.Run(ctx) })
	} else {
		log.Warn("no kafka brokers configured, outbox relay disabled")
	}

	sched := scheduler.New(svc, cfg.Lifecycle.SweepInterval, log)
	g.Go(func() error { return sched.Run(ctx) })

	router := newRouter(cfg, svc, eventLog, deadStore, db, rdb, streams, m, log)
	srv := httpserver.New(cfg.Server.Addr, router)

	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func newRouter(
	cfg config.Config,
	svc *service.Service,
	eventLog *redisstream.Log,
	deadStore deadletter.Store,
	db health.Pinger,
	rdb *redisclient.Client,
	streams []string,
	m *metrics.Metrics,
	log *slog.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))

	verifier := signature.New(cfg.Webhook.SignatureTolerance)
	webhookhandler.New(eventLog, verifier, cfg.Webhook.Sources, m, log).RegisterRoutes(r)
	health.New(db, rdb.Health, eventLog, deadStore, streams, cfg.Consumer.Group, m, log).RegisterRoutes(r)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(cfg.Server.AdminToken, log))
		admin.New(svc, deadStore, log).RegisterRoutes(r)
	})

	return r
}
