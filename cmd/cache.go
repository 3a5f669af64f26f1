package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/knowledge-cli/internal/cost"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the reasoner response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count and hit/miss counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := initCache()
		if err != nil {
			return err
		}
		defer c.Close()

		stats := c.Stats()
		fmt.Printf("entries:  %d\n", stats.Entries)
		fmt.Printf("hits:     %d\n", stats.Hits)
		fmt.Printf("misses:   %d\n", stats.Misses)
		fmt.Printf("hit rate: %.2f\n", stats.HitRate)

		// Savings are an estimate: hits are priced at a typical profiled
		// prompt of ~2000 input / ~500 output tokens.
		calc := cost.NewCalculator(cost.DefaultRates())
		saved := calc.CacheSavings(cfg.Reasoner.Model, stats.Hits, 2000, 500)
		fmt.Printf("estimated savings: $%.4f\n", saved)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached reasoner response",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := initCache()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Clear(); err != nil {
			return err
		}
		fmt.Println("cache cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
