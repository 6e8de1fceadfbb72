package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/signalsfoundry/lightpath-controller/internal/config"
	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/nbi"
	"github.com/signalsfoundry/lightpath-controller/internal/observability"
	"github.com/signalsfoundry/lightpath-controller/internal/pce"
	"github.com/signalsfoundry/lightpath-controller/internal/portmapping"
	"github.com/signalsfoundry/lightpath-controller/internal/renderer"
	"github.com/signalsfoundry/lightpath-controller/internal/sbi"
	"github.com/signalsfoundry/lightpath-controller/internal/sbi/devsim"
	"github.com/signalsfoundry/lightpath-controller/internal/servicehandler"
	"github.com/signalsfoundry/lightpath-controller/internal/state"
	"github.com/signalsfoundry/lightpath-controller/model"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	listenAddr := flag.String("listen", "", "HTTP address the RESTCONF server listens on (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lightpathd: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddress = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddress = *metricsAddr
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, *cfg, log, lis); err != nil {
		log.Error(ctx, "lightpathd exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the controller and serves RESTCONF on lis until ctx is done.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv("lightpathd"), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	nbiMetrics, err := observability.NewNBICollector(reg)
	if err != nil {
		return fmt.Errorf("nbi metrics: %w", err)
	}
	ctrlMetrics, err := observability.NewControllerCollector(reg)
	if err != nil {
		return fmt.Errorf("controller metrics: %w", err)
	}
	devMetrics, err := observability.NewDeviceCollector(reg)
	if err != nil {
		return fmt.Errorf("device metrics: %w", err)
	}

	device, closeDevice, err := openDevice(ctx, cfg.SBI, log)
	if err != nil {
		return err
	}
	defer closeDevice()

	client := sbi.NewReliable(device,
		sbi.WithTimeout(cfg.SBI.Timeout),
		sbi.WithMaxTries(cfg.SBI.MaxRetries),
		sbi.WithLogger(log),
		sbi.WithMetrics(devMetrics),
	)

	hash, err := portmapping.StrategyFor(cfg.Hash.Version)
	if err != nil {
		return err
	}
	st := state.New(client,
		state.WithGrid(model.NewGrid(cfg.Grid.Channels)),
		state.WithHashStrategy(hash),
		state.WithLogger(log),
		state.WithMetricsRecorder(ctrlMetrics),
	)
	for _, node := range cfg.Mount {
		if _, err := st.MountNode(ctx, node); err != nil {
			return fmt.Errorf("mount %s: %w", node, err)
		}
	}

	engine := pce.New(st, pce.WithLogger(log), pce.WithMetrics(ctrlMetrics))
	rend := renderer.New(st,
		renderer.WithLogger(log),
		renderer.WithMetrics(ctrlMetrics),
		renderer.WithPowerPolicy(renderer.PowerPolicy{Default: cfg.TargetPower(), Nodes: cfg.Renderer.NodeOutputPower}),
		renderer.WithRollbackTimeout(cfg.Renderer.RollbackTimeout),
	)
	services := servicehandler.New(context.WithoutCancel(ctx), engine, rend,
		servicehandler.WithLogger(log),
		servicehandler.WithMetrics(ctrlMetrics),
		servicehandler.WithDeleteFailedIsNotFound(cfg.DeleteFailedIsNotFound()),
	)
	api := nbi.NewServer(st, services, engine, rend,
		nbi.WithLogger(log),
		nbi.WithMetrics(nbiMetrics),
		nbi.WithAwaitTimeout(cfg.Services.AwaitTimeout),
	)

	metricsSrv := serveMetrics(cfg.MetricsAddress, reg, log)

	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(lis) }()
	log.Info(ctx, "serving RESTCONF",
		logging.String("addr", lis.Addr().String()),
		logging.String("sbi_target", cfg.SBI.Target),
		logging.Int("mounted", len(cfg.Mount)),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down lightpathd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown", logging.Err(err))
	}
	if err := services.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "service handler shutdown", logging.Err(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

// openDevice returns the device transport: an in-process simulator loaded
// with every fixture when target is empty, otherwise a gRPC client.
func openDevice(ctx context.Context, cfg config.SBIConfig, log logging.Logger) (sbi.Client, func(), error) {
	if cfg.Target == "" {
		sim, err := devsim.New(devsim.WithLogger(log))
		if err != nil {
			return nil, nil, fmt.Errorf("start device simulator: %w", err)
		}
		if err := sim.LoadFixtures(); err != nil {
			_ = sim.Close()
			return nil, nil, fmt.Errorf("load fixtures: %w", err)
		}
		log.Info(ctx, "using in-process device simulator", logging.Any("devices", sim.Devices()))
		return sim, func() { _ = sim.Close() }, nil
	}

	conn, err := sbi.Dial(cfg.Target)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", cfg.Target, err)
	}
	log.Info(ctx, "using device transport", logging.String("target", cfg.Target))
	return sbi.NewGRPCClient(conn), func() { _ = conn.Close() }, nil
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.HandlerFor(gatherer))

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
