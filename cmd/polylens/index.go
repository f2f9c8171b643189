package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"polylens/internal/config"
	"polylens/internal/discovery"
	"polylens/internal/indexer"
	"polylens/internal/store"
)

func newIndexCmd() *cobra.Command {
	var fromBlock, toBlock int64
	var dbPath string
	var batchSize uint64
	var reset bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Scan the chain for OrderFilled logs and persist decoded trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Store.DatabasePath = dbPath
			}
			if batchSize > 0 {
				cfg.Chain.LogBatchSize = batchSize
			}
			logger := newLogger(cfg.Logging)

			st, err := store.Open(cfg.Store.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if reset {
				if err := st.SetCursorNoTx(store.CursorTradeSync, 0); err != nil {
					return fmt.Errorf("reset trade_sync cursor: %w", err)
				}
				logger.Info("trade_sync cursor reset to 0")
			}

			chain, err := ethclient.Dial(cfg.Chain.RPCURL)
			if err != nil {
				return fmt.Errorf("dial rpc %s: %w", cfg.Chain.RPCURL, err)
			}
			defer chain.Close()

			gamma := discovery.NewClient(cfg.Gamma.BaseURL, logger)
			disc := discovery.NewService(gamma, st,
				common.HexToAddress(cfg.Chain.USDCe), common.HexToAddress(cfg.Chain.WrappedCollateral), logger)

			ix := indexer.New(chain, st, disc, exchangeAddresses(cfg), cfg.Chain.LogBatchSize, logger)

			ctx := cmd.Context()
			var inserted int
			if fromBlock > 0 || toBlock > 0 {
				to := uint64(toBlock)
				if to == 0 {
					head, err := chain.BlockNumber(ctx)
					if err != nil {
						return fmt.Errorf("get chain head: %w", err)
					}
					to = head
				}
				inserted, err = ix.ScanRange(ctx, uint64(fromBlock), to)
			} else {
				inserted, err = ix.SyncIncremental(ctx)
			}
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			logger.Info("index run complete", "trades_inserted", inserted)
			return nil
		},
	}

	cmd.Flags().Int64Var(&fromBlock, "from-block", 0, "first block to scan (0 with --to-block unset catches up to chain head instead)")
	cmd.Flags().Int64Var(&toBlock, "to-block", 0, "last block to scan (defaults to chain head when --from-block is set)")
	cmd.Flags().StringVar(&dbPath, "db", "", "override store.database_path")
	cmd.Flags().Uint64Var(&batchSize, "batch-size", 500, "blocks per eth_getLogs call")
	cmd.Flags().BoolVar(&reset, "reset", false, "reset the trade_sync checkpoint to 0 before running")
	return cmd
}

func exchangeAddresses(cfg *config.Config) []common.Address {
	addrs := []common.Address{common.HexToAddress(cfg.Chain.CTFExchange)}
	if cfg.Chain.NegRiskCTFExchange != "" {
		addrs = append(addrs, common.HexToAddress(cfg.Chain.NegRiskCTFExchange))
	}
	return addrs
}
