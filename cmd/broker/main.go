package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/archive"
	"github.com/flowmesh/jobbroker/internal/breaker"
	"github.com/flowmesh/jobbroker/internal/broker"
	"github.com/flowmesh/jobbroker/internal/config"
	"github.com/flowmesh/jobbroker/internal/eventstream"
	"github.com/flowmesh/jobbroker/internal/hub"
	"github.com/flowmesh/jobbroker/internal/obs"
	"github.com/flowmesh/jobbroker/internal/recovery"
	"github.com/flowmesh/jobbroker/internal/store"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "broker",
		Short:   "CORE job broker: connection hub, atomic matcher, and recovery loop",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to YAML config")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the connection hub, event broadcaster, and recovery loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "operational commands against a running broker's state",
	}
	adminCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "print pending index depth and registered worker count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminStats(cmd.Context(), configPath)
		},
	})
	adminCmd.AddCommand(&cobra.Command{
		Use:   "archive",
		Short: "run one archive sweep over every completed/failed/cancelled job past the configured age",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminArchive(cmd.Context(), configPath)
		},
	})

	root.AddCommand(serveCmd, adminCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap(ctx context.Context, configPath string) (*config.Config, *zap.Logger, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect store: %w", err)
	}
	return cfg, logger, st, nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, logger, st, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer st.Close()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	readyCheck := func(c context.Context) error {
		return st.Raw().Ping(c).Err()
	}
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	obs.StartPendingIndexUpdater(ctx, cfg, st, logger)

	cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	br := broker.New(st, logger, cfg.Matcher.MaxScan).WithCircuitBreaker(cb)
	h := hub.New(cfg.Hub, br, st, logger)

	hostname, _ := os.Hostname()
	broadcaster := eventstream.New(st, h, logger, "broker-"+hostname)
	if cfg.EventSink.NATSEnabled {
		natsSink, err := eventstream.NewNATSSink(cfg.EventSink.NATSURL, cfg.EventSink.NATSSubject)
		if err != nil {
			logger.Warn("nats event sink unavailable, continuing without it", obs.Err(err))
		} else {
			defer natsSink.Close()
			broadcaster = broadcaster.WithSecondarySink(natsSink)
		}
	}
	go func() {
		if err := broadcaster.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("event broadcaster stopped", obs.Err(err))
		}
	}()

	rec := recovery.New(cfg.Recovery, st, h, logger)
	go rec.Run(ctx)

	mux := httpMux(h, cfg.Hub, logger)
	wsSrv := &httpServer{addr: cfg.Hub.ListenAddress, handler: mux}
	logger.Info("hub listening", obs.String("addr", cfg.Hub.ListenAddress))
	errCh := make(chan error, 1)
	go func() { errCh <- wsSrv.run() }()

	select {
	case <-ctx.Done():
		_ = wsSrv.shutdown(context.Background())
		return nil
	case err := <-errCh:
		return err
	}
}

func runAdminStats(ctx context.Context, configPath string) error {
	_, logger, st, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer st.Close()

	pending, err := st.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("pending count: %w", err)
	}
	workerIDs, err := st.ListWorkerIDs(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	out, _ := json.MarshalIndent(map[string]interface{}{
		"pending_jobs":       pending,
		"registered_workers": len(workerIDs),
	}, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runAdminArchive(ctx context.Context, configPath string) error {
	cfg, logger, st, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer st.Close()

	archiver, err := archive.New(cfg.Archive, st, logger)
	if err != nil {
		return fmt.Errorf("init archiver: %w", err)
	}
	n, err := archiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}
	fmt.Printf("archived %d job(s)\n", n)
	return nil
}
