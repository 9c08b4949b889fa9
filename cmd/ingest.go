package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one discovery and ingestion pass",
	Long:  "Discovers new topics from all providers, classifies and extracts them, resolves synonym collisions, repairs legacy gaps, and retires stale topics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		stats, err := env.ingestor.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("ingestion pass finished",
			zap.Int("discovered", stats.Discovered),
			zap.Int("added", stats.Added),
			zap.Int("merged", stats.Merged),
			zap.Int("removed", stats.Removed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
