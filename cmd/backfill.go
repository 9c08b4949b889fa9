package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Repair legacy topics missing type, original name, or category",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		known := gatherKnownNames(ctx, env)

		originals := 0
		if len(known) > 0 {
			if originals, err = env.backfill.OriginalNames(ctx, known); err != nil {
				zap.L().Warn("original-name backfill failed", zap.Error(err))
			}
		} else {
			zap.L().Warn("no provider names available, skipping original-name backfill")
		}

		types, err := env.backfill.Types(ctx)
		if err != nil {
			zap.L().Warn("type backfill failed", zap.Error(err))
		}

		categories, err := env.backfill.Categories(ctx)
		if err != nil {
			zap.L().Warn("category backfill failed", zap.Error(err))
		}

		if types > 0 || originals > 0 || categories > 0 {
			env.catalog.InvalidateCache()
		}

		zap.L().Info("backfill finished",
			zap.Int("types", types),
			zap.Int("original_names", originals),
			zap.Int("categories", categories))
		return nil
	},
}

func gatherKnownNames(ctx context.Context, env *env) map[string]struct{} {
	union := make(map[string]struct{})
	for _, p := range env.providers {
		names, err := p.KnownNames(ctx)
		if err != nil {
			zap.L().Warn("known-name fetch failed",
				zap.String("provider", p.SourceName()), zap.Error(err))
			continue
		}
		for name := range names {
			union[name] = struct{}{}
		}
	}
	return union
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}
