package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"ocrpipe/internal/cache"
	"ocrpipe/internal/config"
	"ocrpipe/internal/logger"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and entry ages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		st := c.Stats()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			data, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		}
		if st.Error != "" {
			return fmt.Errorf("cache scan failed: %s", st.Error)
		}
		fmt.Printf("Directory: %s\n", c.Dir())
		fmt.Printf("Entries: %d (%.2f MB)\n", st.TotalFiles, st.TotalSizeMB)
		if st.TotalFiles > 0 {
			fmt.Printf("Oldest: %.1f days  Newest: %.1f days\n", st.OldestAgeDays, st.NewestAgeDays)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cache entries older than --max-age-days",
	Example: `  # Remove everything
  ocrpipe cache clear

  # Keep the last week
  ocrpipe cache clear --max-age-days 7`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.WithComponent("cache-cmd")
		maxAge, _ := cmd.Flags().GetFloat64("max-age-days")
		if maxAge < 0 {
			return fmt.Errorf("--max-age-days must not be negative")
		}

		c, err := openCache()
		if err != nil {
			return err
		}
		removed, failed := c.Clear(maxAge)
		fmt.Printf("Removed %d entries", removed)
		if failed > 0 {
			fmt.Printf(" (%d could not be removed)", failed)
			log.Warn().Int("errors", failed).Msg("Some cache entries could not be removed")
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)

	cacheStatsCmd.Flags().Bool("json", false, "Output as JSON")
	cacheClearCmd.Flags().Float64("max-age-days", 0, "Only delete entries at least this old")
}

func openCache() (*cache.Cache, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	c, err := cache.New(cfg.CacheRoot, cfg.CacheTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return c, nil
}
