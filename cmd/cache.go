package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"semgroup/internal/services"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and warm the embedding cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		counter, ok := appInstance.Cache.(interface {
			Count(ctx context.Context) (int64, error)
		})
		if !ok {
			fmt.Println("The configured cache backend does not report entry counts.")
			return nil
		}
		n, err := counter.Count(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to count cache entries: %w", err)
		}
		fmt.Printf("Cache holds %d embeddings (model %s).\n", n, appInstance.Provider.ModelName())
		return nil
	},
}

// Pre-resolves embeddings for a keyword file so a later job starts from a hot
// cache instead of paying the provider during the run.
var cacheWarmCmd = &cobra.Command{
	Use:   "warm <file>",
	Short: "Pre-fetch embeddings for keywords listed in a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		texts, err := readLines(args[0])
		if err != nil {
			return err
		}

		opts := services.FetchOptions{
			OnProgress: func(fetched, total int) {
				fmt.Printf("\rFetched %d/%d...", fetched, total)
			},
		}
		_, stats, err := appInstance.Fetcher.EmbedTexts(cmd.Context(), texts, opts)
		fmt.Println()
		if err != nil {
			return err
		}
		fmt.Printf("Warmed cache: %d texts, %d fetched from provider, %d already cached, %d missing.\n",
			stats.Total, stats.Fetched, stats.Total-stats.Fetched-stats.Missing, stats.Missing)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheWarmCmd)
	rootCmd.AddCommand(cacheCmd)
}
