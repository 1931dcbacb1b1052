// Command bridge runs the market data bridge: one shared venue gateway
// session fronted by the subscription registry, the historical paginator,
// and the in-process data bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidemark/mdbridge/config"
	"github.com/tidemark/mdbridge/internal/bridge"
	"github.com/tidemark/mdbridge/internal/bus/databus"
	"github.com/tidemark/mdbridge/internal/directory"
	"github.com/tidemark/mdbridge/internal/observability"
	"github.com/tidemark/mdbridge/internal/schema"
	"github.com/tidemark/mdbridge/internal/session"
	"github.com/tidemark/mdbridge/internal/telemetry"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "bridge:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(settings.Log)
	observability.SetLogger(observability.NewSlog(logger))
	log := observability.Log()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", observability.F("error", err.Error()))
		}
	}()
	metrics, err := telemetry.NewBridgeMetrics(telemetryProvider.Meter("mdbridge"))
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	bus := databus.NewMemoryBus(databus.MemoryConfig{BufferSize: settings.Bus.BufferSize})
	defer bus.Close()

	gateway := session.NewGateway(session.GatewayConfig{
		URL:            settings.Gateway.URL,
		ClientID:       settings.Gateway.ClientID,
		CallsPerSecond: settings.Gateway.CallsPerSecond,
		CallBurst:      settings.Gateway.CallBurst,
		StreamHandler: func(topic string, payload any) {
			if err := bus.Publish(ctx, topic, payload); err != nil {
				log.Warn("stream publish failed",
					observability.F("topic", topic),
					observability.F("error", err.Error()))
			}
		},
	})
	gateway.Start()

	dir, cleanup, err := newDirectory(ctx, settings.Directory, log)
	if err != nil {
		gateway.Stop()
		return err
	}
	defer cleanup()

	registry := bridge.NewRegistry(bridge.RegistryConfig{
		UseRTH:             settings.Bridge.UseRTH,
		HandleBarRevisions: settings.Bridge.HandleBarRevisions,
		IgnoreQuoteSize:    settings.Bridge.IgnoreQuoteSize,
	}, gateway, log)

	b := bridge.New(bridge.Config{
		ClientID:       settings.Bridge.ClientID,
		ConnectTimeout: settings.Bridge.ConnectTimeout.Std(),
		RequestTimeout: settings.Bridge.RequestTimeout.Std(),
		MarketDataType: schema.MarketDataType(settings.Bridge.MarketDataType),
		Paginator: bridge.PaginatorConfig{
			UseRTH:       settings.Bridge.UseRTH,
			ReadyTimeout: settings.Bridge.ReadyTimeout.Std(),
		},
	}, registry, dir, bus, metrics, log)

	if err := b.Connect(ctx); err != nil {
		gateway.Stop()
		return fmt.Errorf("connect bridge: %w", err)
	}
	log.Info("bridge running",
		observability.F("env", settings.Env),
		observability.F("gateway", settings.Gateway.URL))

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := b.Disconnect(shutdownCtx); err != nil {
		log.Warn("bridge disconnect failed", observability.F("error", err.Error()))
	}
	return nil
}

// newDirectory selects the instrument directory backend: Postgres when a DSN
// is configured, in-memory otherwise.
func newDirectory(ctx context.Context, settings config.DirSettings, log observability.Logger) (directory.Directory, func(), error) {
	if settings.DSN == "" {
		dir := directory.NewMemoryDirectory(directory.Options{TickCapacity: settings.TickCapacity})
		return dir, func() {}, nil
	}
	if err := directory.Migrate(ctx, settings.DSN); err != nil {
		return nil, nil, fmt.Errorf("migrate instrument store: %w", err)
	}
	pool, err := pgxpool.New(ctx, settings.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open instrument store: %w", err)
	}
	dir := directory.NewPostgresDirectory(pool, directory.Options{TickCapacity: settings.TickCapacity})
	log.Info("instrument directory using postgres")
	return dir, pool.Close, nil
}

func newLogger(settings config.LogSettings) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(settings.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if settings.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
