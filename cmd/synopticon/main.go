// Command synopticon runs the stream synchronization and distribution
// engine as a standalone process: it loads a runtime configuration,
// starts the engine facade, and serves the HTTP/WebSocket API surface
// until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/99souls/synopticon/engine"
	"github.com/99souls/synopticon/engine/api"
	"github.com/99souls/synopticon/engine/config"
	"github.com/99souls/synopticon/engine/telemetry/logging"
	"github.com/99souls/synopticon/engine/telemetry/metrics"
	"github.com/99souls/synopticon/engine/telemetry/tracing"
)

func main() {
	var (
		configPath     string
		addr           string
		metricsBackend string
		enableMetrics  bool
		enableTracing  bool
		showVersion    bool
	)
	flag.StringVar(&configPath, "config", "", "Optional YAML runtime configuration file")
	flag.StringVar(&addr, "addr", ":8080", "Address to serve the HTTP/WebSocket API on")
	flag.StringVar(&metricsBackend, "metrics-backend", "prom", "Metrics backend: prom|otel|noop")
	flag.BoolVar(&enableMetrics, "enable-metrics", false, "Enable metrics collection (already on in the default runtime configuration)")
	flag.BoolVar(&enableTracing, "enable-tracing", false, "Enable internal span/trace-id correlation")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("synopticon — sensor stream synchronization and distribution engine")
		return
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	if enableMetrics {
		cfg.Global.MetricsEnabled = true
	}
	if enableTracing {
		cfg.Global.TraceEnabled = true
	}

	provider, err := buildMetricsProvider(metricsBackend, cfg.Global.MetricsEnabled)
	if err != nil {
		log.Fatalf("metrics provider: %v", err)
	}

	logger := logging.New(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Global.LogLevel),
	})))

	eng := engine.New(
		engine.WithConfig(cfg),
		engine.WithMetricsProvider(provider),
		engine.WithTracer(tracing.NewTracer(cfg.Global.TraceEnabled)),
		engine.WithLogger(logger),
	)
	eng.Start()
	defer eng.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	srv := api.NewServer(eng, api.Options{IncludeProbesInHealth: true})
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("synopticon listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serve: %v", err)
	}
}

func buildMetricsProvider(backend string, enabled bool) (metrics.Provider, error) {
	if !enabled {
		return metrics.NewNoopProvider(), nil
	}
	switch backend {
	case "prom":
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{}), nil
	case "otel":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{}), nil
	case "noop", "":
		return metrics.NewNoopProvider(), nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", backend)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
