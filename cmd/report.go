package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/pipeline"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Resolve each client's active set against recent snapshots and write the report payload",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()

		rt, err := bootstrap(ctx, &pipeline.Config{})
		if err != nil {
			log.Fatalf("starting %s: %v", app, err)
		}
		defer rt.close()

		for _, rs := range rt.clients {
			path, err := rt.pipe.Report(ctx, rs)
			if err != nil {
				rt.logger.Error("report failed",
					zap.String("client", rs.Client),
					zap.Error(err),
				)
				continue
			}
			if path != "" {
				rt.logger.Info("report ready",
					zap.String("client", rs.Client),
					zap.String("path", path),
				)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
