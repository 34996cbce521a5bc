package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show accumulated embedding API usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		tokens, calls, err := appInstance.UsageStore.GetUsageSummary(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read usage summary: %w", err)
		}
		fmt.Printf("Embedding API usage: %d calls, %d input tokens.\n", calls, tokens)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
}
