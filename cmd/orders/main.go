// The orders binary wires the framework end to end: capability container,
// unit of work manager, dispatcher with the full middleware chain, and the
// order service on whichever backends configuration enables. It exposes
// prometheus metrics and exercises one order lifecycle so operators can
// smoke-test a deployment.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"

	"keel/cache"
	"keel/container"
	"keel/dispatch"
	"keel/events"
	"keel/internal/orders/models"
	"keel/internal/orders/service"
	"keel/internal/orders/store"
	"keel/internal/platform/config"
	"keel/internal/platform/logger"
	"keel/uow"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("orders exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App, log *slog.Logger) error {
	ctx := context.Background()

	repo, cleanup, err := buildRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	c := container.New()
	if err := c.Register(uow.RepositoryCapability(models.EntityTypeOrder), func(container.Resolver) (any, error) {
		return repo, nil
	}, container.Singleton); err != nil {
		return err
	}
	c.Seal()

	bus := events.NewBus()
	publisher, pubCleanup, err := buildPublisher(cfg, bus, log)
	if err != nil {
		return err
	}
	defer pubCleanup()

	manager := uow.NewManager(c, uow.WithPublisher(publisher), uow.WithLogger(log))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	cacheStore, cacheCleanup := buildCacheStore(cfg, log)
	defer cacheCleanup()
	cache.InvalidateOnCommit(bus, cacheStore, cache.WithLogger(log))

	d := dispatch.New(manager, dispatch.WithLogger(log))
	d.Use(
		dispatch.Tracing(),
		dispatch.Observe(dispatch.NewMetrics(reg)),
		dispatch.Logging(log),
		dispatch.Validation(),
		cache.Middleware(cacheStore, cache.WithLogger(log), cache.WithMetrics(cache.NewMetrics(reg))),
	)

	svc := service.New(repo)
	if err := svc.Register(d); err != nil {
		return err
	}

	if err := smokeTest(ctx, d, log); err != nil {
		return err
	}

	return serveMetrics(cfg.MetricsAddr, reg, log)
}

func buildRepository(ctx context.Context, cfg config.App, log *slog.Logger) (service.Repository, func(), error) {
	if cfg.PostgresDSN == "" {
		log.Info("using in-memory order repository")
		return store.NewInMemory(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgres(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info("using postgres order repository")
	return pg, func() { db.Close() }, nil
}

func buildPublisher(cfg config.App, bus *events.Bus, log *slog.Logger) (events.Publisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return bus, func() {}, nil
	}

	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.KafkaBrokers...))
	if err != nil {
		return nil, nil, err
	}
	log.Info("publishing commit events to kafka", "brokers", cfg.KafkaBrokers)
	return events.Fanout{bus, events.NewKafkaPublisher(client)}, client.Close, nil
}

func buildCacheStore(cfg config.App, log *slog.Logger) (cache.Store, func()) {
	if cfg.RedisAddr == "" {
		log.Info("using in-memory cache store")
		return cache.NewMemoryStore(), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	log.Info("using redis cache store", "addr", cfg.RedisAddr)
	return cache.NewRedisStore(client), func() { client.Close() }
}

// smokeTest runs one order through create, read, and cancel so a fresh
// deployment proves the whole dispatch pipeline before serving metrics.
func smokeTest(ctx context.Context, d *dispatch.Dispatcher, log *slog.Logger) error {
	created, err := d.Dispatch(ctx, service.CreateOrderCommand{CustomerID: "smoke-test", TotalCents: 1})
	if err != nil {
		return err
	}
	view := created.(service.OrderView)

	if _, err := d.Dispatch(ctx, service.GetOrderQuery{OrderID: view.OrderID}); err != nil {
		return err
	}
	if _, err := d.Dispatch(ctx, service.ListOrdersQuery{CustomerID: "smoke-test"}); err != nil {
		return err
	}
	if _, err := d.Dispatch(ctx, service.CancelOrderCommand{OrderID: view.OrderID}); err != nil {
		return err
	}
	log.Info("smoke test passed", "order_id", view.OrderID)
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("serving metrics", "addr", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
