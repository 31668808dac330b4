package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/seangreaves-90/hydrogarden"
	"github.com/seangreaves-90/hydrogarden/config"
	"github.com/seangreaves-90/hydrogarden/devices"
	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
	"github.com/seangreaves-90/hydrogarden/telemetry/metrics"
	"github.com/seangreaves-90/hydrogarden/telemetry/tracing"
)

func main() {
	var (
		configPath    string
		metricsAddr   string
		healthAddr    string
		snapshotEvery time.Duration
		showVersion   bool
	)
	flag.StringVar(&configPath, "config", "hydrogarden.yaml", "Path to YAML configuration file")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose metrics on address (e.g. :9090)")
	flag.StringVar(&healthAddr, "health", "", "Expose health endpoint on address (e.g. :9091)")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 10*time.Second, "Interval between progress snapshots (0=disabled)")
	flag.BoolVar(&showVersion, "version", false, "Show version / build info")
	flag.Parse()

	if showVersion {
		fmt.Println("hydrogardenctl - hydroponic event backbone")
		return
	}

	mgr, err := config.NewManager(configPath)
	if err != nil {
		log.Fatalf("init config manager: %v", err)
	}
	if err := mgr.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := mgr.Current()

	log := logging.New(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	provider, err := buildMetricsProvider(cfg, log)
	if err != nil {
		log.LogErr(err, "build metrics provider")
		provider = metrics.NewNoopProvider()
	}
	tracer := tracing.NewTracer("hydrogardenctl")

	bb, err := hydrogarden.New(cfg, log, provider, tracer)
	if err != nil {
		log.LogErr(err, "construct backbone")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.HotReloadEnabled {
		if err := mgr.Watch(ctx, func(newCfg config.Config) {
			log.Log("configuration reloaded; changes apply to new subsystems only")
		}); err != nil {
			log.LogErr(err, "start config watch")
		}
	}

	registerDemoDevices(ctx, bb, log)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Log("signal received; initiating graceful shutdown")
		cancel()
		<-sigCh
		log.Log("second signal received; forcing exit")
		os.Exit(1)
	}()

	if metricsAddr != "" {
		serveMetrics(ctx, metricsAddr, bb)
	}
	if healthAddr != "" {
		serveHealth(ctx, healthAddr, bb)
	}

	var ticker *time.Ticker
	if snapshotEvery > 0 {
		ticker = time.NewTicker(snapshotEvery)
		defer ticker.Stop()
	}

	done := ctx.Done()
	for {
		select {
		case <-done:
			final := bb.Snapshot(context.Background())
			b, _ := json.MarshalIndent(final, "", "  ")
			fmt.Fprintf(os.Stderr, "\n=== FINAL SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
			if err := bb.Shutdown(context.Background()); err != nil {
				log.LogErr(err, "shutdown backbone")
			}
			return
		case <-tickerC(ticker):
			snap := bb.Snapshot(ctx)
			b, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Fprintf(os.Stderr, "\n=== SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
		}
	}
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func buildMetricsProvider(cfg config.Config, log logging.Logger) (metrics.Provider, error) {
	switch cfg.MetricsBackend {
	case "prometheus":
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{Logger: log}), nil
	case "otel":
		return metrics.NewOtelProvider(otel.Meter("hydrogardenctl")), nil
	case "noop", "":
		return metrics.NewNoopProvider(), nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.MetricsBackend)
	}
}

func serveMetrics(ctx context.Context, addr string, bb *hydrogarden.Backbone) {
	handler := bb.MetricsHandler()
	if handler == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	go func() {
		log.Printf("metrics listening on %s", addr)
		_ = srv.ListenAndServe()
	}()
}

func serveHealth(ctx context.Context, addr string, bb *hydrogarden.Backbone) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		snap := bb.Snapshot(r.Context())
		_ = json.NewEncoder(w).Encode(snap)
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	go func() {
		log.Printf("health endpoint listening on %s", addr)
		_ = srv.ListenAndServe()
	}()
}

// registerDemoDevices wires a demo pump and sensor into the persistence
// service and starts a background sampling loop, giving the backbone
// something to flow events through out of the box.
func registerDemoDevices(ctx context.Context, bb *hydrogarden.Backbone, log logging.Logger) {
	pumpID := models.NewComponentID()
	pump := devices.NewPump(pumpID, "primary-nutrient-pump", nil, log)
	if err := bb.Persistence.AddOrUpdate(ctx, pump); err != nil {
		log.LogErr(err, "register demo pump")
	}

	sensorID := models.NewComponentID()
	sensor := devices.NewSensor(sensorID, "reservoir-sensor", func() (float64, float64) {
		return 6.0 + rand.Float64(), 1.2 + rand.Float64()*0.3
	}, log)
	sensor.SetPublisher(func(ctx context.Context, deviceID models.ComponentID, readings map[string]float64, units map[string]string) {
		ev := models.NewEvent(deviceID, deviceID, models.KindTelemetry)
		ev.Telemetry = &models.TelemetryPayload{Readings: readings, Units: units}
		_, _ = bb.Bus.Publish(ctx, deviceID, ev)
	})
	if err := bb.Persistence.AddOrUpdate(ctx, sensor); err != nil {
		log.LogErr(err, "register demo sensor")
	}

	if err := sensor.Start(ctx); err != nil {
		log.LogErr(err, "start demo sensor")
	}
	if err := pump.Start(ctx); err != nil {
		log.LogErr(err, "start demo pump")
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sensor.Sample(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}
