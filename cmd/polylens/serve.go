package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"polylens/internal/api"
	"polylens/internal/dataapi"
	"polylens/internal/discovery"
	"polylens/internal/indexer"
	"polylens/internal/metrics"
	"polylens/internal/scheduler"
	"polylens/internal/store"
	"polylens/internal/stream"
	"polylens/internal/traderlevel"
	"polylens/internal/whale"
	"polylens/pkg/types"
)

func newServeCmd() *cobra.Command {
	var host string
	var port int
	var dbPath string
	var reload bool
	var syncInterval time.Duration
	var noScheduler bool
	var whaleThreshold float64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only HTTP/WebSocket API, with the background sync pipeline unless --no-scheduler is set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Store.DatabasePath = dbPath
			}
			if host != "" {
				cfg.API.Host = host
			}
			if port > 0 {
				cfg.API.Port = port
			}
			if cmd.Flags().Changed("sync-interval") {
				cfg.Scheduler.Interval = syncInterval
			}
			if whaleThreshold > 0 {
				cfg.Whale.ThresholdUSD = whaleThreshold
			}
			if noScheduler {
				cfg.Scheduler.Enabled = false
			}

			logger := newLogger(cfg.Logging)

			st, err := store.Open(cfg.Store.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			gamma := discovery.NewClient(cfg.Gamma.BaseURL, logger)
			disc := discovery.NewService(gamma, st,
				common.HexToAddress(cfg.Chain.USDCe), common.HexToAddress(cfg.Chain.WrappedCollateral), logger)

			data := dataapi.NewClient(cfg.DataAPI.BaseURL, logger)
			levels := traderlevel.New(data, cfg.TraderLevel.CacheTTL, cfg.TraderLevel.MaxTrades, logger)

			engine := metrics.New(st)
			hub := stream.NewHub(logger)
			detector := whale.New(st, &hubNotifier{hub: hub}, logger)

			var sched *scheduler.Scheduler
			var chain *ethclient.Client
			if cfg.Scheduler.Enabled {
				chain, err = ethclient.Dial(cfg.Chain.RPCURL)
				if err != nil {
					return fmt.Errorf("dial rpc %s: %w", cfg.Chain.RPCURL, err)
				}
				ix := indexer.New(chain, st, disc, exchangeAddresses(cfg), cfg.Chain.LogBatchSize, logger)
				sched = scheduler.New(scheduler.Config{
					Interval:            cfg.Scheduler.Interval,
					PriceRefreshLimit:   cfg.Scheduler.PriceRefreshLimit,
					PriceRefreshWorkers: cfg.Scheduler.PriceRefreshWorkers,
					TraderStatsLimit:    cfg.Scheduler.TraderStatsLimit,
					WhaleThresholdUSD:   cfg.Whale.ThresholdUSD,
				}, st, ix, disc, detector, logger)
				sched.Start(context.Background())
				defer sched.Stop()
				defer chain.Close()
			}

			srv := api.NewServer(api.Config{
				Host:           cfg.API.Host,
				Port:           cfg.API.Port,
				AllowedOrigins: cfg.API.AllowedOrigins,
			}, st, engine, detector, sched, hub, data, levels, logger)

			if reload {
				stopWatch := watchConfigReload(cmd, srv, logger)
				defer stopWatch()
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logger.Info("received shutdown signal", "signal", sig.String())
			}

			if err := srv.Stop(); err != nil {
				logger.Error("api server stop failed", "error", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "override api.host")
	cmd.Flags().IntVar(&port, "port", 0, "override api.port")
	cmd.Flags().StringVar(&dbPath, "db", "", "override store.database_path")
	cmd.Flags().BoolVar(&reload, "reload", false, "watch the config file and hot-swap reloadable settings (currently api.allowed_origins)")
	cmd.Flags().DurationVar(&syncInterval, "sync-interval", 10*time.Second, "override scheduler.interval")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve reads only, without the background sync pipeline")
	cmd.Flags().Float64Var(&whaleThreshold, "whale-threshold", 0, "override whale.threshold_usd")
	return cmd
}

// hubNotifier fans newly detected whale trades out over the whales
// WebSocket channel as the scheduler's tail detector finds them.
type hubNotifier struct {
	hub *stream.Hub
}

func (n *hubNotifier) Notify(trade types.WhaleTrade) {
	n.hub.Broadcast(stream.ChannelWhales, trade)
}

// watchConfigReload watches the config file for changes and pushes the
// handful of settings that can safely change under a running server.
// Everything else (ports, the database path, the scheduler's wiring)
// still requires a restart. The returned func does nothing; once started,
// the watch runs until the process exits.
func watchConfigReload(cmd *cobra.Command, srv *api.Server, logger *slog.Logger) func() {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return func() {}
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		logger.Warn("reload: initial config read failed, watcher not started", "path", path, "error", err)
		return func() {}
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var origins []string
		if err := v.UnmarshalKey("api.allowed_origins", &origins); err != nil {
			logger.Warn("reload: failed to parse api.allowed_origins", "error", err)
			return
		}
		srv.SetAllowedOrigins(origins)
		logger.Info("reload: allowed_origins updated", "count", len(origins), "op", e.Op.String())
	})
	v.WatchConfig()
	logger.Info("reload: watching config file", "path", path)
	return func() {}
}
