package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"polylens/internal/discovery"
	"polylens/internal/store"
)

func newDiscoverCmd() *cobra.Command {
	var eventSlug string
	var all bool
	var limit int
	var dbPath string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Fetch market and event metadata from Gamma and upsert it into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Store.DatabasePath = dbPath
			}
			logger := newLogger(cfg.Logging)

			st, err := store.Open(cfg.Store.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			gamma := discovery.NewClient(cfg.Gamma.BaseURL, logger)
			svc := discovery.NewService(gamma, st,
				common.HexToAddress(cfg.Chain.USDCe), common.HexToAddress(cfg.Chain.WrappedCollateral), logger)

			switch {
			case eventSlug != "":
				if err := svc.DiscoverByEventSlug(eventSlug); err != nil {
					return fmt.Errorf("discover by event slug: %w", err)
				}
			case all:
				if err := svc.DiscoverAll(limit, true); err != nil {
					return fmt.Errorf("discover all: %w", err)
				}
			default:
				if err := svc.DiscoverAll(limit, false); err != nil {
					return fmt.Errorf("discover: %w", err)
				}
			}
			logger.Info("discover run complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&eventSlug, "event-slug", "", "discover a single event (and its markets) by slug")
	cmd.Flags().BoolVar(&all, "all", false, "paginate through every market on Gamma instead of a single page")
	cmd.Flags().IntVar(&limit, "limit", 100, "markets per page")
	cmd.Flags().StringVar(&dbPath, "db", "", "override store.database_path")
	return cmd
}
