package cli

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/store"
)

var (
	cachePath      string
	cacheOlderThan time.Duration
)

func init() {
	cacheCmd.PersistentFlags().StringVar(&cachePath, "cache", "", "Trace cache database (overrides cache_path)")
	cachePruneCmd.Flags().DurationVar(&cacheOlderThan, "older-than", 30*24*time.Hour, "Drop results cached longer ago than this")
	cacheCmd.AddCommand(cacheStatsCmd, cacheDropCmd, cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the trace cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the number of cached tracer results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(func(s *store.Store, path string) error {
			n, err := s.Len(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d cached results\n", path, n)
			return nil
		})
	},
}

var cacheDropCmd = &cobra.Command{
	Use:   "drop <tx-hash>",
	Short: "Drop the cached results of one transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := hexutil.Decode(args[0])
		if err != nil || len(b) != common.HashLength {
			return fmt.Errorf("invalid transaction hash %q", args[0])
		}
		return withCache(func(s *store.Store, _ string) error {
			if err := s.Delete(cmd.Context(), common.BytesToHash(b)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s\n", args[0])
			return nil
		})
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop old cached results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cacheOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		return withCache(func(s *store.Store, _ string) error {
			n, err := s.Prune(cmd.Context(), time.Now().Add(-cacheOlderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d cached results\n", n)
			return nil
		})
	},
}

func withCache(fn func(s *store.Store, path string) error) error {
	path := appConfig.CachePath
	if cachePath != "" {
		path = cachePath
	}
	if path == "" {
		return fmt.Errorf("no trace cache configured: set cache_path or pass --cache")
	}
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s, path)
}
