package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"semgroup/internal/app"
	"semgroup/internal/models"
)

var (
	resultsScope int64
	resultsKind  string
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show stored assignments for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		kind := models.JobKind(resultsKind)
		if !kind.Valid() {
			return fmt.Errorf("unknown job kind %q (use categorization, typing or clustering)", resultsKind)
		}
		return printResults(cmd.Context(), appInstance, models.JobParams{Scope: resultsScope, Kind: kind})
	},
}

func init() {
	resultsCmd.Flags().Int64Var(&resultsScope, "scope", 0, "Project scope (required)")
	resultsCmd.MarkFlagRequired("scope")
	resultsCmd.Flags().StringVar(&resultsKind, "kind", string(models.JobClustering), "Job kind: categorization, typing or clustering")
	rootCmd.AddCommand(resultsCmd)
}

func printResults(ctx context.Context, appInstance *app.App, params models.JobParams) error {
	assignments, err := appInstance.Store.ListAssignments(ctx, params.Scope, params.Kind)
	if err != nil {
		return fmt.Errorf("failed to list assignments: %w", err)
	}
	if len(assignments) == 0 {
		fmt.Println("No assignments found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	if params.Kind == models.JobClustering {
		table.SetHeader([]string{"Keyword ID", "Cluster", "Similarity"})
	} else {
		table.SetHeader([]string{"Keyword ID", "Label", "Similarity"})
	}
	table.SetBorder(true)
	table.SetRowLine(false)

	for _, a := range assignments {
		group := a.Label
		if params.Kind == models.JobClustering {
			group = a.ClusterID
		}
		table.Append([]string{
			fmt.Sprintf("%d", a.KeywordID),
			group,
			fmt.Sprintf("%.3f", a.Similarity),
		})
	}
	table.Render()

	fmt.Println(color.GreenString("%d assignments for scope %d (%s).", len(assignments), params.Scope, params.Kind))
	return nil
}
