package cmd

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"semgroup/internal/apihandlers"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run semgroup as an HTTP API server",
	Long: `Starts an HTTP server for launching grouping jobs, polling their status and
stopping them, so a UI or another tool can drive the pipeline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		router := gin.Default()
		apiHandler := apihandlers.NewAPIHandler(appInstance)

		v1 := router.Group("/api/v1")
		{
			jobs := v1.Group("/jobs")
			{
				jobs.POST("", apiHandler.StartJobHandler)
				jobs.GET("", apiHandler.ListJobsHandler)
				jobs.GET("/:scope/:kind", apiHandler.GetJobStatusHandler)
				jobs.DELETE("/:scope/:kind", apiHandler.StopJobHandler)
			}
			v1.GET("/usage", apiHandler.UsageHandler)
		}

		router.GET("/health", func(c *gin.Context) {
			if err := appInstance.TargetStore.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		listenAddr := serveAddr
		if listenAddr == "" {
			listenAddr = appInstance.Config.Server.Address
		}
		log.WithField("addr", listenAddr).Info("starting API server")
		if err := router.Run(listenAddr); err != nil {
			return fmt.Errorf("failed to run API server: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
