// Command venuelink connects to the configured venue and streams
// normalized order events and ticks until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"venuelink/config"
	"venuelink/internal/observability"
	"venuelink/internal/venue/bitfinex"
	"venuelink/lib/telemetry"
)

const (
	defaultConfigPath = "config/venuelink.yaml"
	tickDrainInterval = time.Second
	shutdownTimeout   = 5 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the yaml configuration overlay")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()
	observability.SetLogger(observability.NewZapLogger(zapLogger))

	provider, shutdownTelemetry, err := telemetry.Init(ctx, settings.Telemetry)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	observability.SetMetrics(telemetry.NewMetrics(provider))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			zapLogger.Error("telemetry shutdown", zap.Error(err))
		}
	}()

	venueSettings, ok := settings.Venues[config.VenueBitfinex]
	if !ok {
		log.Fatalf("no configuration for venue %s", config.VenueBitfinex)
	}
	client, err := bitfinex.New(bitfinex.OptionsFromConfig(venueSettings))
	if err != nil {
		log.Fatalf("build client: %v", err)
	}

	if err := client.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()
	zapLogger.Info("connected", zap.Strings("symbols", venueSettings.Symbols))

	var wg conc.WaitGroup
	wg.Go(func() { streamEvents(ctx, client, zapLogger) })
	wg.Go(func() { drainTicks(ctx, client, zapLogger) })
	wg.Wait()
}

func streamEvents(ctx context.Context, client *bitfinex.Client, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-client.Events():
			logger.Info("order event",
				zap.String("local_id", event.LocalID),
				zap.String("symbol", event.Symbol),
				zap.String("status", string(event.Status)),
				zap.String("fill_qty", event.FillQuantity.String()),
				zap.String("fill_price", event.FillPrice.String()),
				zap.String("fee", event.Fee.String()))
		}
	}
}

func drainTicks(ctx context.Context, client *bitfinex.Client, logger *zap.Logger) {
	ticker := time.NewTicker(tickDrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tick := range client.Ticks() {
				logger.Info("tick",
					zap.String("symbol", tick.Symbol),
					zap.String("bid", tick.Bid.String()),
					zap.String("ask", tick.Ask.String()),
					zap.String("last", tick.Last.String()))
			}
		}
	}
}
