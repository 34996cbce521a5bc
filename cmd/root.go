package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"semgroup/internal/app"
	"semgroup/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "semgroup",
	Short: "Semgroup CLI",
	Long: `Semgroup groups keywords by embedding similarity: categorization against
a reference category set, typing classification against labeled samples, and
similarity clustering.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		appInstance, err := app.NewApp(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}

		ctx := context.WithValue(cmd.Context(), appKey, appInstance)
		cmd.SetContext(ctx)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Custom context key type to avoid collisions.
type contextKey string

const appKey contextKey = "app"

// GetAppFromContext retrieves the app instance stored by PersistentPreRunE.
func GetAppFromContext(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application instance not found in context")
	}
	return appInstance, nil
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check database and cache connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return err
		}

		fmt.Println("Checking database connectivity...")
		if err := appInstance.TargetStore.Ping(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
		fmt.Println("Database connection successful.")

		fmt.Println("Checking embedding cache...")
		if _, _, err := appInstance.Cache.Get(ctx, "doctor", "probe"); err != nil {
			fmt.Printf("Cache probe failed (jobs will run without cache hits): %v\n", err)
		} else {
			fmt.Println("Cache reachable.")
		}
		return nil
	},
}
