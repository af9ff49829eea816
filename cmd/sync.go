package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/pipeline"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror changed catalog days from the tender source into local state",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()

		maxDaysBack, _ := cmd.Flags().GetInt("max-days-back")

		rt, err := bootstrap(ctx, &pipeline.Config{MaxDaysBack: maxDaysBack})
		if err != nil {
			log.Fatalf("starting %s: %v", app, err)
		}
		defer rt.close()

		summary, err := rt.pipe.Sync(ctx)
		if err != nil {
			rt.logger.Fatal("sync failed", zap.Error(err))
		}

		rt.logger.Info("sync finished",
			zap.Int("remote_days", summary.RemoteDays),
			zap.Int("changed", summary.ChangedDays),
			zap.Int("synced", summary.SyncedDays),
			zap.Int("errors", summary.Errors),
		)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().Int("max-days-back", 0, "override how far back to mirror the catalog")
}
