package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one refresh pass over existing topics",
	Long:  "Re-fetches provider source material, re-extracts structured content where the source changed, and categorizes topics still missing a category.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.refresher.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "refresh")
		}

		zap.L().Info("refresh pass finished",
			zap.Int("refreshed", stats.Refreshed),
			zap.Int("changed", stats.Changed),
			zap.Int("reprocessed", stats.Reprocessed),
			zap.Int("categorized", stats.Categorized))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
