// Command fleetregd runs a standalone sourced registry: an in-memory
// instance registry, a preservation/eviction controller throttled by a
// token-bucket quota source, and an outbound replication channel
// publishing LOCAL registrations to a peer reached over a pluggable
// transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"fleetreg/core"
	"fleetreg/eviction"
	"fleetreg/holder"
	"fleetreg/instance"
	"fleetreg/registry"
	"fleetreg/replication"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	rootCmd := &cobra.Command{
		Use:   "fleetregd",
		Short: "Sourced service-discovery registry",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry, eviction controller, and replication channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
			namespace, _ := cmd.Flags().GetString("namespace")
			heartbeat, _ := cmd.Flags().GetDuration("heartbeat")
			quotaRate, _ := cmd.Flags().GetFloat64("eviction-quota-rate")
			replicate, _ := cmd.Flags().GetBool("replicate")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, runOpts{
				metricsAddr: metricsAddr,
				namespace:   namespace,
				heartbeat:   heartbeat,
				quotaRate:   quotaRate,
				replicate:   replicate,
			})
		},
	}
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics listen address")
	serveCmd.Flags().String("namespace", "default", "registry namespace for metrics and logs")
	serveCmd.Flags().Duration("heartbeat", 30*time.Second, "replication channel heartbeat interval")
	serveCmd.Flags().Float64("eviction-quota-rate", 5, "steady-state eviction quota grants per second")
	serveCmd.Flags().Bool("replicate", false, "start an outbound replication channel against a logging transport")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type runOpts struct {
	metricsAddr string
	namespace   string
	heartbeat   time.Duration
	quotaRate   float64
	replicate   bool
}

func run(ctx context.Context, slogLogger *slog.Logger, opts runOpts) error {
	logger := core.WrapSlogLogger(slogLogger)
	metrics := core.NewPrometheusMetricSink(prometheus.DefaultRegisterer)

	cfg, err := core.NewConfig(
		core.WithNamespace(opts.namespace),
		core.WithHeartbeatInterval(opts.heartbeat),
	)
	if err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	quota := make(chan int)
	limiter := rate.NewLimiter(rate.Limit(opts.quotaRate), 1)
	evictionCtrl := eviction.NewController(quota,
		eviction.WithLogger(logger),
		eviction.WithMetrics(metrics),
	)
	defer evictionCtrl.Shutdown()

	reg := registry.New(cfg,
		registry.WithLogger(logger),
		registry.WithMetrics(metrics),
		registry.WithSelectionPolicy(holder.DefaultSelectionPolicy()),
		registry.WithEvictionController(evictionCtrl),
	)
	defer reg.Shutdown()

	var group errgroup.Group
	group.Go(func() error {
		return runQuotaSource(ctx, limiter, quota, cfg.EvictionQuotaInitial)
	})

	if opts.replicate {
		transport := &loggingTransportClient{logger: slogLogger}
		channel, err := replication.New(reg, transport, cfg,
			replication.WithLogger(logger),
			replication.WithMetrics(metrics),
		)
		if err != nil {
			return fmt.Errorf("start replication channel: %w", err)
		}
		defer channel.Close()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: opts.metricsAddr, Handler: mux}

	group.Go(func() error {
		slogLogger.Info("metrics server listening", "addr", opts.metricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	bootID := uuid.NewString()
	slogLogger.Info("fleetregd started", "namespace", opts.namespace, "bootId", bootID)

	<-ctx.Done()
	slogLogger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	return group.Wait()
}

// runQuotaSource feeds the eviction controller's quota channel, emitting
// initialQuota once up front (per cfg.EvictionQuotaInitial) before settling
// into a steady rate-limited grant of 1 per tick until ctx is cancelled, at
// which point the channel is closed so the controller's drain loop exits
// cleanly.
func runQuotaSource(ctx context.Context, limiter *rate.Limiter, quota chan<- int, initialQuota int) error {
	defer close(quota)

	if initialQuota > 0 {
		select {
		case quota <- initialQuota:
		case <-ctx.Done():
			return nil
		}
	}

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		select {
		case quota <- 1:
		case <-ctx.Done():
			return nil
		}
	}
}

// loggingTransportClient is a development transport: it logs every
// replication send instead of delivering it to a real peer.
type loggingTransportClient struct {
	logger *slog.Logger
}

func (c *loggingTransportClient) Connect(ctx context.Context) (replication.TransportConnection, error) {
	c.logger.Info("replication transport connected")
	return &loggingTransportConnection{logger: c.logger}, nil
}

type loggingTransportConnection struct {
	logger *slog.Logger
}

func (c *loggingTransportConnection) SendRegister(ctx context.Context, info instance.Info) error {
	c.logger.Debug("replicate register", "id", info.ID, "version", info.Version)
	return nil
}

func (c *loggingTransportConnection) SendUpdate(ctx context.Context, info instance.Info, deltas []instance.Delta) error {
	c.logger.Debug("replicate update", "id", info.ID, "version", info.Version, "deltaCount", len(deltas))
	return nil
}

func (c *loggingTransportConnection) SendUnregister(ctx context.Context, id string) error {
	c.logger.Debug("replicate unregister", "id", id)
	return nil
}

func (c *loggingTransportConnection) SendHeartbeat(ctx context.Context) error {
	c.logger.Debug("replicate heartbeat")
	return nil
}

func (c *loggingTransportConnection) Close() error {
	c.logger.Info("replication transport closed")
	return nil
}
