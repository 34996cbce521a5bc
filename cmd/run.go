package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"semgroup/internal/clix"
	"semgroup/internal/models"
)

var (
	runScope      int64
	runBackground bool
	runJSON       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a grouping job",
}

var runCategorizeCmd = &cobra.Command{
	Use:   "categorize",
	Short: "Assign each keyword to its nearest category",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, models.JobCategorization)
	},
}

var runTypeCmd = &cobra.Command{
	Use:   "type",
	Short: "Classify keywords against labeled type samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, models.JobTyping)
	},
}

var runClusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster keywords by embedding similarity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, models.JobClustering)
	},
}

func init() {
	runCmd.PersistentFlags().Int64Var(&runScope, "scope", 0, "Project scope to operate on (required)")
	runCmd.MarkPersistentFlagRequired("scope")
	runCmd.PersistentFlags().BoolVar(&runBackground, "background", false, "Enqueue the job for the worker instead of running inline")
	runCmd.PersistentFlags().BoolVar(&runJSON, "json", false, "Stream raw NDJSON events instead of a result table")
	runCmd.PersistentFlags().Float64("min-similarity", 0, "Minimum similarity for a classification match")

	runClusterCmd.Flags().String("algorithm", "", "Clustering algorithm: components, dbscan or incremental")
	runClusterCmd.Flags().Float64("threshold", 0, "Similarity threshold (components/incremental)")
	runClusterCmd.Flags().Float64("eps", 0, "Neighborhood distance (dbscan)")
	runClusterCmd.Flags().Int("min-pts", 0, "Minimum neighborhood size (dbscan)")
	runClusterCmd.Flags().Float64("duplicate-threshold", 0, "Same-source duplicate suppression threshold (incremental)")

	runCmd.AddCommand(runCategorizeCmd)
	runCmd.AddCommand(runTypeCmd)
	runCmd.AddCommand(runClusterCmd)
	rootCmd.AddCommand(runCmd)
}

func runJob(cmd *cobra.Command, kind models.JobKind) error {
	appInstance, err := GetAppFromContext(cmd.Context())
	if err != nil {
		return err
	}
	params := clix.ParseJobParams(cmd.Flags(), appInstance.JobParamsDefaults())
	params.Scope = runScope
	params.Kind = kind

	if runBackground {
		if err := appInstance.InitJobClient(); err != nil {
			return err
		}
		taskID, err := appInstance.JobClient.EnqueueGroupingJob(cmd.Context(), params)
		if err != nil {
			return err
		}
		fmt.Printf("Enqueued %s job for scope %d (task %s).\n", kind, params.Scope, taskID)
		return nil
	}

	// Ctrl+C requests cooperative cancellation; the job winds down at the
	// next chunk boundary and reports a stopped outcome.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var out io.Writer = io.Discard
	if runJSON {
		out = os.Stdout
	}
	err = appInstance.Orchestrator.Run(ctx, params, out)
	switch {
	case err == nil:
		if !runJSON {
			return printResults(context.Background(), appInstance, params)
		}
		return nil
	case errors.Is(err, models.ErrAborted):
		fmt.Fprintln(os.Stderr, color.YellowString("Job stopped."))
		return nil
	default:
		return err
	}
}
