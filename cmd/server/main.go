package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trackhub/internal/platform/config"
	"trackhub/internal/platform/httpserver"
	"trackhub/internal/platform/kafka"
	"trackhub/internal/platform/logger"
	platformmetrics "trackhub/internal/platform/metrics"
	"trackhub/internal/platform/mqtt"
	"trackhub/internal/platform/postgres"
	redisclient "trackhub/internal/platform/redis"
	"trackhub/internal/tracking/backplane"
	"trackhub/internal/tracking/dispatch"
	"trackhub/internal/tracking/feed"
	"trackhub/internal/tracking/handler"
	"trackhub/internal/tracking/identity"
	"trackhub/internal/tracking/ingest"
	"trackhub/internal/tracking/lifecycle"
	"trackhub/internal/tracking/metrics"
	"trackhub/internal/tracking/ports"
	"trackhub/internal/tracking/registry"
	"trackhub/internal/tracking/service"
	"trackhub/internal/tracking/store/location"
	"trackhub/pkg/platform/circuit"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRACKHUB_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("trackhub exited", zap.Error(err))
	}
	log.Info("trackhub stopped")
}

// run wires dependencies and supervises every long-running task until ctx is
// cancelled or one of them fails.
func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hubMetrics := metrics.New(reg)
	checks := map[string]handler.HealthCheck{}

	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		checks["redis"] = rdb.Health
	}

	var pool *pgxpool.Pool
	if cfg.Hub.LocationStore == config.StorePostgres {
		pool, err = postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	store, err := buildStore(ctx, cfg, rdb, pool)
	if err != nil {
		return err
	}
	if pg, ok := store.(*location.PostgresStore); ok {
		checks["postgres"] = pg.Health
	}

	authn := identity.NewAuthenticator(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	var (
		authz       ports.Authorizer = identity.NewClaimsAuthorizer()
		assignments handler.Assignments
	)
	if cfg.Auth.VehicleAssignments {
		a := identity.NewAssignmentAuthorizer(rdb.Client)
		authz, assignments = a, a
	}

	shards := registry.WithShards(cfg.Hub.Shards)
	conns := registry.NewConnections(shards)
	subs := registry.NewSubscriptions(conns, shards)
	groups := registry.NewGroups(conns, authz, store, shards)
	mgr := lifecycle.New(conns, subs, groups,
		lifecycle.WithLogger(log.Named("lifecycle")),
		lifecycle.WithMetrics(hubMetrics),
		lifecycle.WithReapQueue(cfg.Hub.ReapQueue),
	)

	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(log.Named("dispatch")),
		dispatch.WithMetrics(hubMetrics),
	}
	var bp *backplane.Redis
	if cfg.Backplane.Enabled {
		bp = backplane.New(rdb.Client,
			backplane.WithChannel(cfg.Backplane.Channel),
			backplane.WithLogger(log.Named("backplane")),
			backplane.WithMetrics(hubMetrics),
		)
		dispatchOpts = append(dispatchOpts, dispatch.WithForwarder(bp))
	}
	dispatcher := dispatch.New(conns, subs, groups, mgr, dispatchOpts...)
	if bp != nil {
		bp.Attach(dispatcher)
	}

	breaker := circuit.New("location-store",
		circuit.WithFailureThreshold(cfg.Hub.BreakerFailures),
		circuit.WithCooldown(cfg.Hub.BreakerCooldown),
	)
	pipeline := ingest.New(conns, authz, store, dispatcher,
		ingest.WithStoreTimeout(cfg.Hub.StoreTimeout),
		ingest.WithThrottle(ingest.NewThrottle(cfg.Hub.ReportsPerSecond, time.Second)),
		ingest.WithBreaker(breaker),
		ingest.WithLogger(log.Named("ingest")),
		ingest.WithMetrics(hubMetrics),
	)
	hub := service.New(conns, subs, groups, mgr, pipeline, dispatcher, log.Named("hub"))

	ws := handler.NewWebSocket(hub, authn, handler.Options{
		SendBuffer:      cfg.Hub.SendBuffer,
		PingInterval:    cfg.Hub.PingInterval,
		PongTimeout:     cfg.Hub.PongTimeout,
		WriteTimeout:    cfg.Hub.WriteTimeout,
		MaxMessageBytes: cfg.Hub.MaxMessageBytes,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, log.Named("websocket"), hubMetrics)

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		if cfg.Kafka.CreateTopics {
			err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topics, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor)
			if err != nil {
				return err
			}
		}
		consumer, err := kafka.NewConsumer(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			GroupID:  cfg.Kafka.GroupID,
			Topics:   cfg.Kafka.Topics,
			ClientID: "trackhub",
		}, feed.NewEventHandler(hub, log.Named("kafka-feed"), hubMetrics), log.Named("kafka"))
		if err != nil {
			return err
		}
		checks["kafka"] = consumer.Ping
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if cfg.MQTT.BrokerURL != "" {
		telematics := feed.NewTelematics(pipeline, cfg.MQTT.Topic, log.Named("mqtt-feed"), hubMetrics)
		client, err := mqtt.New(ctx, mqtt.Config{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
		}, telematics.OnConnect, log.Named("mqtt"))
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			client.Disconnect(250)
			return nil
		})
	}

	if bp != nil {
		g.Go(func() error { return bp.Run(gctx) })
	}

	internal := handler.NewInternal(hub, assignments, checks, log.Named("internal"))
	router := handler.NewRouter(handler.RouterDeps{
		WebSocket:   ws,
		Internal:    internal,
		Auth:        authn,
		Gatherer:    reg,
		HTTPMetrics: platformmetrics.NewHTTP(reg),
		Logger:      log.Named("http"),
	})
	srv := httpserver.New(cfg.Server.Addr, router, log)

	g.Go(func() error { return mgr.Run(gctx) })
	g.Go(func() error { return sweepThrottle(gctx, pipeline, cfg.Hub.ThrottleSweep) })
	g.Go(func() error {
		log.Info("starting trackhub", zap.String("addr", cfg.Server.Addr), zap.String("location_store", cfg.Hub.LocationStore))
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Hijacked websockets are not closed by http.Server.Shutdown.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		closed := mgr.Shutdown(shutdownCtx)
		log.Info("closed connections on shutdown", zap.Int("connections", closed))
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildStore(ctx context.Context, cfg config.Config, rdb *redisclient.Client, pool *pgxpool.Pool) (ports.LocationStore, error) {
	switch cfg.Hub.LocationStore {
	case config.StoreRedis:
		return location.NewRedis(rdb.Client, location.WithPositionTTL(cfg.Hub.PositionTTL)), nil
	case config.StorePostgres:
		store := location.NewPostgres(pool, location.WithHistory(cfg.Hub.RecordHistory))
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return location.NewInMemory(), nil
	}
}

func sweepThrottle(ctx context.Context, pipeline *ingest.Pipeline, every time.Duration) error {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pipeline.SweepThrottle()
		}
	}
}
