package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"polylens/internal/store"
)

func newStatsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print a read-only summary of the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Store.DatabasePath = dbPath
			}

			st, err := store.Open(cfg.Store.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			cursors, err := st.AllCursors()
			if err != nil {
				return fmt.Errorf("read cursors: %w", err)
			}
			markets, err := st.ListMarkets(store.ListMarketsFilter{Limit: 1})
			if err != nil {
				return fmt.Errorf("list markets: %w", err)
			}

			fmt.Printf("database:    %s\n", cfg.Store.DatabasePath)
			fmt.Printf("has markets: %v\n", len(markets) > 0)
			for _, c := range cursors {
				fmt.Printf("cursor %-12s last_block=%-12d updated_at=%s\n", c.Key, c.LastBlock, c.UpdatedAt)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "override store.database_path")
	return cmd
}
