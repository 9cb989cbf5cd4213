package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/spachava753/sortbatch/internal/executor"
	"github.com/spachava753/sortbatch/internal/stage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of each unit in the output root",
	Long: `Status scans each unit directory and reports the state a run would resume
from, the next stage it would execute, and the outcome of the last run.
Nothing is executed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		statuses, err := executor.Status(cfg, stage.FSOracle{})
		if err != nil {
			return err
		}
		renderStatus(os.Stdout, statuses)
		return nil
	},
}

func init() {
	addBatchFlags(statusCmd)
	statusCmd.Flags().Bool("mask-artifacts", false, "expect the mask-artifacts stage")
	statusCmd.Flags().String("sort-mode", "", "segmented or full")
	rootCmd.AddCommand(statusCmd)
}
