package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/pipeline"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var prompt = promptui.Select{
	Label: "Proceed?",
	Items: []string{PromptYes, PromptNo},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Screen synced tenders per client and update the active sets",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before consulting the oracle")
	runCmd.Flags().Bool("dry-run", false, "compute everything but persist nothing")
	runCmd.Flags().Bool("full", false, "chain sync, run, revalidate and report")
	runCmd.Flags().Bool("sample-discards", false, "log a random sample of tenders dropped by the score threshold")
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	dryRun := cmd.Flag("dry-run").Value.String() == "true"
	full := cmd.Flag("full").Value.String() == "true"

	rt, err := bootstrap(ctx, &pipeline.Config{
		DryRun:         dryRun,
		SampleDiscards: cmd.Flag("sample-discards").Value.String() == "true",
	})
	if err != nil {
		log.Fatalf("starting %s: %v", app, err)
	}
	defer rt.close()

	logger := rt.logger
	logger.Info("starting the tender-scout", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(rt.config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if full {
		if _, err := rt.pipe.Sync(ctx); err != nil {
			logger.Fatal("sync stage failed", zap.Error(err))
		}
	}

	factory, err := classifierFactory(ctx, rt.config.AI, logger)
	if err != nil {
		logger.Fatal("building the relevance oracle", zap.Error(err))
	}

	if factory != nil && cmd.Flag("auto-approve").Value.String() == "false" {
		logger.Info("the run will consult the relevance oracle",
			zap.Int("clients", len(rt.clients)),
		)
		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
		if action == PromptNo {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	summaries := rt.pipe.RunAll(ctx, rt.clients, factory)
	if len(summaries) == 0 {
		logger.Fatal("all client runs failed")
	}

	for _, summary := range summaries {
		logger.Info("client summary",
			zap.String("client", summary.Client),
			zap.Int("fetched", summary.Fetched),
			zap.Int("eligible", summary.Eligible),
			zap.Int("scored", summary.Scored),
			zap.Int("kept", summary.Kept),
		)
	}

	if !full {
		return
	}

	for _, rs := range rt.clients {
		if _, err := rt.pipe.Revalidate(ctx, rs); err != nil {
			logger.Error("revalidation failed", zap.String("client", rs.Client), zap.Error(err))
			continue
		}
		if _, err := rt.pipe.Report(ctx, rs); err != nil {
			logger.Error("report failed", zap.String("client", rs.Client), zap.Error(err))
		}
	}
}
