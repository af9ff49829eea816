package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/pipeline"
)

var revalidateCmd = &cobra.Command{
	Use:   "revalidate",
	Short: "Re-check active tenders against the live registry and prune expired ones",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()

		dryRun, _ := cmd.Flags().GetBool("dry-run")

		rt, err := bootstrap(ctx, &pipeline.Config{DryRun: dryRun})
		if err != nil {
			log.Fatalf("starting %s: %v", app, err)
		}
		defer rt.close()

		for _, rs := range rt.clients {
			summary, err := rt.pipe.Revalidate(ctx, rs)
			if err != nil {
				rt.logger.Error("revalidation failed",
					zap.String("client", rs.Client),
					zap.Error(err),
				)
				continue
			}

			rt.logger.Info("revalidation summary",
				zap.String("client", summary.Client),
				zap.Int("checked", summary.Checked),
				zap.Int("vigent", summary.Vigent),
				zap.Int("pruned", summary.Pruned),
				zap.Int("unreached", summary.Unreached),
			)
		}
	},
}

func init() {
	rootCmd.AddCommand(revalidateCmd)

	revalidateCmd.Flags().Bool("dry-run", false, "check statuses without pruning or refreshing state")
}
