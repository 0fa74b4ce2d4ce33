package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sitesmith/hunter/internal/grid"
	"github.com/sitesmith/hunter/internal/scorer"
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Manage the coverage grid",
}

var gridSeedFile string

var gridSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load coverage cells from a CSV file",
	Long: `Load coverage cells from a CSV file.

Expected columns: country, state, city, industry, subcategory, population.
Existing cells (same location and industry) are left untouched, so seeding
is safe to re-run as the grid grows.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(gridSeedFile)
		if err != nil {
			return eris.Wrapf(err, "grid seed: open %s", gridSeedFile)
		}
		defer f.Close() //nolint:errcheck

		cells, err := grid.ReadSeedCSV(f)
		if err != nil {
			return err
		}
		if len(cells) == 0 {
			return eris.New("grid seed: no cells in file")
		}

		tiers := scorer.TierTable(cfg.Hunter.IndustryTiers)
		for i := range cells {
			cells[i].Priority = scorer.Priority(&cells[i], tiers)
		}

		s, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		added, err := s.cells.SeedCells(ctx, cells)
		if err != nil {
			return err
		}

		zap.L().Info("grid seeded",
			zap.String("file", gridSeedFile),
			zap.Int("rows", len(cells)),
			zap.Int64("added", added),
		)
		return nil
	},
}

var gridStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-status cell counts and running totals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		status, err := s.cells.Status(ctx)
		if err != nil {
			return err
		}

		printJSON(cmd, status)
		return nil
	},
}

var gridRescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute priorities for every cell",
	Long:  "Recompute priorities for every cell, e.g. after changing industry tiers or loading fresh population figures.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		tiers := scorer.TierTable(cfg.Hunter.IndustryTiers)
		changed, err := s.cells.RecomputePriorities(ctx, func(c *grid.Cell) int {
			return scorer.Priority(c, tiers)
		})
		if err != nil {
			return err
		}

		zap.L().Info("grid rescored", zap.Int64("changed", changed))
		return nil
	},
}

var gridReclaimOlderThan time.Duration

var gridReclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Release cells stuck in progress past a staleness threshold",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		olderThan := gridReclaimOlderThan
		if olderThan <= 0 {
			olderThan = time.Duration(cfg.Hunter.ClaimStalenessMins) * time.Minute
		}

		n, err := s.cells.ReclaimStale(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return err
		}

		zap.L().Info("stale claims reclaimed",
			zap.Duration("older_than", olderThan),
			zap.Int64("cells", n),
		)
		return nil
	},
}

func init() {
	gridSeedCmd.Flags().StringVar(&gridSeedFile, "file", "", "path to seed CSV (required)")
	_ = gridSeedCmd.MarkFlagRequired("file")
	gridReclaimCmd.Flags().DurationVar(&gridReclaimOlderThan, "older-than", 0, "staleness threshold (default from config)")

	gridCmd.AddCommand(gridSeedCmd, gridStatusCmd, gridRescoreCmd, gridReclaimCmd)
	rootCmd.AddCommand(gridCmd)
}
