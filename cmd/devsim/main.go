package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/observability"
	"github.com/signalsfoundry/lightpath-controller/internal/sbi"
	"github.com/signalsfoundry/lightpath-controller/internal/sbi/devsim"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// Config configures the device simulator process.
type Config struct {
	ListenAddress  string
	MetricsAddress string
	DataDir        string
	// Fixtures names the embedded devices to load; empty loads all of them.
	Fixtures []string
}

func main() {
	listenAddr := flag.String("listen", ":50061", "TCP address the device transport listens on")
	metricsAddr := flag.String("metrics-addr", ":9091", "HTTP address for Prometheus /metrics")
	dataDir := flag.String("data-dir", "", "persist the device datastore under this directory")
	fixtures := flag.String("fixtures", "", "comma separated fixture devices to load (default all)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := Config{
		ListenAddress:  *listenAddr,
		MetricsAddress: *metricsAddr,
		DataDir:        *dataDir,
		Fixtures:       splitList(*fixtures),
	}

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "devsim exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv("devsim"), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewDeviceCollector(reg)
	if err != nil {
		return fmt.Errorf("device metrics: %w", err)
	}

	sim, err := devsim.New(devsim.WithLogger(log), devsim.WithDataDir(cfg.DataDir))
	if err != nil {
		return err
	}
	defer sim.Close()
	if err := loadMissing(sim, cfg.Fixtures); err != nil {
		return err
	}
	sim.OnChange(func(ev devsim.ChangeEvent) {
		log.Debug(context.Background(), "device configuration changed",
			logging.String("node_id", ev.Node),
			logging.String("op", ev.Op),
			logging.Int("changes", len(ev.Changes)),
		)
	})

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(metrics.UnaryServerInterceptor()),
	)
	sbi.RegisterDeviceConfigServer(server, sbi.NewGRPCServer(sim))

	metricsSrv := serveMetrics(cfg.MetricsAddress, metrics, log)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(lis) }()
	log.Info(ctx, "serving device transport",
		logging.String("addr", lis.Addr().String()),
		logging.Any("devices", sim.Devices()),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("serve: %w", err)
	}

	log.Info(context.Background(), "shutting down device simulator")
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

// loadMissing loads the named fixtures that a persistent datastore does not
// already hold.
func loadMissing(sim *devsim.Simulator, names []string) error {
	if len(names) == 0 {
		names = devsim.FixtureNames()
	}
	present := make(map[string]bool)
	for _, node := range sim.Devices() {
		present[node] = true
	}
	var missing []string
	for _, name := range names {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return sim.LoadFixtures(missing...)
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func serveMetrics(addr string, collector *observability.DeviceCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
