package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/cache"
)

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cachePruneCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the local cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache contents and the next retention pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		st, err := a.Cache().Stats(ctx)
		if errors.Is(err, cache.ErrStorageUnavailable) {
			fmt.Fprintf(out, "Driver:         %s (unavailable)\n", a.Cache().Driver())
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Driver:         %s\n", a.Cache().Driver())
		fmt.Fprintf(out, "Conversations:  %s\n", humanize.Comma(int64(st.Conversations)))
		fmt.Fprintf(out, "Messages:       %s\n", humanize.Comma(int64(st.Messages)))
		if st.SizeBytes > 0 {
			fmt.Fprintf(out, "Size:           %s\n", humanize.Bytes(uint64(st.SizeBytes)))
		}
		if rm := a.Retention(); rm != nil {
			if next, err := rm.NextRun(time.Now()); err == nil {
				fmt.Fprintf(out, "Next prune:     %s\n", relTime(next))
			}
		}
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run one retention pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rm := a.Retention()
		if rm == nil {
			return errors.New("retention is disabled in the configuration")
		}
		res, err := rm.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Evicted %s messages and %s conversations\n",
			humanize.Comma(int64(res.Messages)), humanize.Comma(int64(res.Conversations)))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached conversation and message",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Controller().ClearCache(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
		return nil
	},
}
