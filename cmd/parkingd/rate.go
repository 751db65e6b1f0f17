package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/parking-ledger/config"
	"github.com/warp/parking-ledger/observability"
	"github.com/warp/parking-ledger/rates"
)

func rateCmd(cfg *config.Config) *cobra.Command {
	var noSave bool
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Refresh the UF cache once and print the current snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := observability.NewLogger(observability.LoggerConfig{
				ServiceName: cfg.ServiceName,
				Level:       cfg.LogLevel,
				Format:      cfg.LogFormat,
			})
			if err != nil {
				return err
			}
			defer log.Sync()

			path := cfg.RateCacheFile
			if noSave {
				path = ""
			}
			cache := rates.NewCache(rates.CacheConfig{
				Path:   path,
				Source: rates.NewMindicadorSource(cfg.RateSourceURL, cfg.RateTimeout),
				Logger: log,
			})

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			refreshed := cache.Refresh(ctx)

			snap := cache.Current()
			fmt.Fprintf(cmd.OutOrStdout(), "UF %s (%s)\n", snap.Value.StringFixed(2), snap.Date.Format("2006-01-02"))
			if !refreshed {
				return errors.New("refresh failed, showing cached value")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.RateCacheFile, "cache", cfg.RateCacheFile, "UF cache file")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not write the cache file")
	return cmd
}
