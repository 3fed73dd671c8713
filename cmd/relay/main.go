// Command relay starts the CDC outbox relay.
//
// It polls the ledger for events the kafka-relay consumer has not yet
// processed, publishes them to the configured topic, and records the
// consumption. Delivery is at-least-once; the consumption ledger keeps
// re-publishing idempotent for downstream.
//
// Usage:
//
//	go run ./cmd/relay [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contentops/lifecycle-platform/internal/ledger"
	"github.com/contentops/lifecycle-platform/internal/relay"
	"github.com/contentops/lifecycle-platform/internal/schedule"
	"github.com/contentops/lifecycle-platform/internal/store"
	"github.com/contentops/lifecycle-platform/pkg/config"
	"github.com/contentops/lifecycle-platform/pkg/health"
	"github.com/contentops/lifecycle-platform/pkg/kafka"
	"github.com/contentops/lifecycle-platform/pkg/logger"
	"github.com/contentops/lifecycle-platform/pkg/metrics"
	"github.com/contentops/lifecycle-platform/pkg/postgres"
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
	slog.Info("starting cdc relay",
		"topic", cfg.Kafka.Topics.CDCEvents,
		"poll_interval", cfg.Lifecycle.RelayPollInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	st := store.New(db)
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}
	led := ledger.New(db)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CDCEvents)
	defer producer.Close()

	r := relay.New(led, producer, cfg.Lifecycle.RelayBatchSize)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer shutdown(context.Background())
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(func(ctx context.Context) error {
		return db.DB.PingContext(ctx)
	}))
	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", cfg.Kafka.Brokers[0])
		if err != nil {
			return err
		}
		return conn.Close()
	}))
	healthShutdown := checker.StartServer(cfg.Health.Port)
	defer healthShutdown(context.Background())

	driver := schedule.NewDriver(cfg.Lifecycle.RelayPollInterval)
	driver.Start(ctx, "cdc-relay", func(ctx context.Context, _ time.Time) {
		published, err := r.RunOnce(ctx)
		if m != nil {
			m.RelayPublishedTotal.Add(float64(published))
			if err != nil {
				m.RelayPublishErrorsTotal.Inc()
			}
		}
		if err != nil {
			slog.Error("relay poll failed", "error", err)
		}
	})

	<-ctx.Done()
	slog.Info("cdc relay shutting down")
}
