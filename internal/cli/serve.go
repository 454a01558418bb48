package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imq-dev/imq/internal/api"
	"github.com/imq-dev/imq/internal/cache"
	"github.com/imq-dev/imq/internal/checks"
	"github.com/imq-dev/imq/internal/config"
	"github.com/imq-dev/imq/internal/events"
	"github.com/imq-dev/imq/internal/gateway"
	"github.com/imq-dev/imq/internal/logging"
	"github.com/imq-dev/imq/internal/metrics"
	"github.com/imq-dev/imq/internal/processor"
	"github.com/imq-dev/imq/internal/queue"
	"github.com/imq-dev/imq/internal/store"
	"github.com/imq-dev/imq/internal/webhook"
)

// shutdownGrace is added on top of the processor's own shutdown timeout so
// the serve command does not abandon a drain the processor would finish.
const shutdownGrace = 5 * time.Second

// components is the record of wired handles returned by buildComponents.
type components struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	bus     *events.Bus
	store   *store.Store
	results *cache.ResultCache
	server  *api.Server
	proc    *processor.Processor
}

// NewServeCmd creates the serve command.
func NewServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the merge queue service",
		Long: `Starts the webhook receiver, REST API, WebSocket event stream and the
queue processor, and runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	c, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.store.Close()
	defer c.results.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.server.Start(); err != nil {
		return fmt.Errorf("failed to start api server: %w", err)
	}
	if err := c.proc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processor: %w", err)
	}

	logger.Info("imq running",
		zap.String("addr", c.server.Addr()),
		zap.String("repo", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo),
		zap.String("trigger_label", cfg.Queue.TriggerLabel))

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownTimeout, _ := cfg.ShutdownTimeout()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout+shutdownGrace)
	defer cancel()

	if err := c.proc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("processor shutdown incomplete", zap.Error(err))
	}
	if err := c.server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown incomplete", zap.Error(err))
	}

	logger.Info("imq stopped")
	return nil
}

// buildComponents constructs the component graph bottom-up: store and
// gateway first, then the check engine, then the ingress and processor
// that drive them.
func buildComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	m := metrics.New()

	bus := events.NewBus(logger)
	bus.Subscribe(events.LogHandler(logger.Named("events")))

	st, err := store.Open(cfg.Database.Path, cfg.Database.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := seedTriggerLabel(st, cfg.Queue.TriggerLabel); err != nil {
		st.Close()
		return nil, err
	}

	gw := gateway.NewClient(cfg.GitHub, m, logger.Named("gateway"))

	ttl, err := cfg.CacheTTL()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("invalid cache ttl: %w", err)
	}
	results := cache.New(ttl, cfg.Cache.MaxEntries, m)

	engine := checks.NewEngine(
		checks.NewGatewayExecutors(gw, logger.Named("checks")),
		results, bus, logger.Named("checks"), m)

	service := queue.NewService(st, bus, logger.Named("queue"))

	hook := webhook.NewHandler(cfg.Webhook.Secret, st, service, results,
		logger.Named("webhook"), m)

	server := api.New(api.Config{Host: cfg.API.Host, Port: cfg.API.Port},
		st, service, hook, bus, logger.Named("api"), m)

	interval, _ := cfg.ProcessingInterval()
	timeout, _ := cfg.ProcessingTimeout()
	shutdownTimeout, _ := cfg.ShutdownTimeout()
	proc := processor.New(processor.Config{
		MaxConcurrent:   cfg.Processor.MaxConcurrent,
		Interval:        interval,
		Timeout:         timeout,
		ShutdownTimeout: shutdownTimeout,
	}, st, gw, engine, bus, logger.Named("processor"), m)

	return &components{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		bus:     bus,
		store:   st,
		results: results,
		server:  server,
		proc:    proc,
	}, nil
}

// seedTriggerLabel applies the configured trigger label to a freshly
// created configuration row. A row an operator has already edited over the
// API keeps its value.
func seedTriggerLabel(st *store.Store, label string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sc, err := st.SystemConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load system config: %w", err)
	}
	if sc.TriggerLabel == config.DefaultTriggerLabel && label != sc.TriggerLabel {
		sc.TriggerLabel = label
		sc.UpdatedAt = time.Now().UTC()
		if err := st.SaveSystemConfig(ctx, sc); err != nil {
			return fmt.Errorf("failed to seed trigger label: %w", err)
		}
	}
	return nil
}
