package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cellemitter/emitter/internal/api"
	"github.com/cellemitter/emitter/internal/chain"
	"github.com/cellemitter/emitter/internal/config"
	"github.com/cellemitter/emitter/internal/emitter"
	"github.com/cellemitter/emitter/internal/height"
	"github.com/cellemitter/emitter/internal/metrics"
	"github.com/cellemitter/emitter/internal/watcher"
	"github.com/cellemitter/emitter/pkg/logger"
)

// shutdownTimeout bounds how long run waits for the server and watchers
// beyond the cancel grace
const shutdownTimeout = 10 * time.Second

// NewRunCommand creates the run command
func NewRunCommand(opts *rootOptions) *cobra.Command {
	var (
		mockChain bool
		mockTip   uint64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the emitter service",
		Long: `Start the JSON-RPC server and follow the chain indexer until SIGINT or SIGTERM.

With --mock-chain the indexer is replaced by an in-memory chain that grows
by one block per poll interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, v, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mock-chain") {
				cfg.Chain.Mock = mockChain
			}
			if cmd.Flags().Changed("mock-tip") {
				cfg.Chain.MockTip = mockTip
			}

			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runEmitter(ctx, cfg, v, log, nil)
		},
	}

	cmd.Flags().BoolVar(&mockChain, "mock-chain", false, "Use an in-memory chain instead of chain.rpc_url")
	cmd.Flags().Uint64Var(&mockTip, "mock-tip", 0, "Initial tip of the in-memory chain")

	return cmd
}

// runEmitter wires the chain client, emitter service, tip monitor and API
// server and blocks until ctx ends or the server fails. onReady, if set, is
// called once the server is listening.
func runEmitter(ctx context.Context, cfg *config.Config, v *viper.Viper, log *logger.Logger, onReady func(*api.Server)) error {
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	var (
		client chain.Client
		mock   *chain.MockClient
	)
	if cfg.Chain.Mock {
		mock = chain.NewMockClient(cfg.Chain.MockTip)
		client = mock
		log.Warn("using in-memory mock chain", zap.Uint64("tip", cfg.Chain.MockTip))
	} else {
		client = chain.NewRPCClient(cfg.Chain, log)
	}
	client = chain.NewInstrumentedClient(client, collector)

	sink := watcher.MultiSink{watcher.NewLogSink(log), watcher.NewCountingSink(collector)}
	if cfg.Watcher.WebhookURL != "" {
		sink = append(sink, watcher.NewWebhookSink(cfg.Watcher.WebhookURL, cfg.Watcher.WebhookTimeout, log))
	}
	poller := watcher.NewPoller(cfg.Watcher, sink, collector, log)
	service := emitter.New(cfg.Emitter, client, poller, collector, log)

	monitor := height.NewTipMonitor(client, cfg.Watcher.PollInterval, log)
	if err := monitor.Start(); err != nil {
		return err
	}
	defer monitor.Stop()

	server := api.NewServer(cfg, service, monitor, collector, log)
	if err := server.Start(); err != nil {
		return err
	}

	if v != nil && v.ConfigFileUsed() != "" {
		config.Watch(v, func(next *config.Config) {
			if err := log.SetLevel(next.Log.Level); err != nil {
				log.Warn("ignoring log level change", zap.Error(err))
				return
			}
			log.Info("configuration reloaded", zap.String("log_level", next.Log.Level))
		}, func(err error) {
			log.Warn("configuration reload failed", zap.Error(err))
		})
	}

	log.Info("emitter started",
		zap.String("addr", server.Addr()),
		zap.Bool("mock_chain", cfg.Chain.Mock),
		zap.String("version", Version))
	if onReady != nil {
		onReady(server)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-server.Err():
			return err
		}
	})
	g.Go(func() error {
		tips := monitor.Subscribe()
		for {
			select {
			case <-gctx.Done():
				return nil
			case tip := <-tips:
				log.Debug("indexer tip", zap.Uint64("tip", tip))
			}
		}
	})
	if mock != nil {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Watcher.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					mock.AdvanceTip(1)
				}
			}
		})
	}

	err := g.Wait()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Emitter.CancelGrace+shutdownTimeout)
	defer cancel()

	if stopErr := server.Stop(shutdownCtx); stopErr != nil && err == nil {
		err = stopErr
	}
	if closeErr := service.Close(shutdownCtx); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
