package main

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sitesmith/hunter/internal/conductor"
	"github.com/sitesmith/hunter/internal/cost"
	"github.com/sitesmith/hunter/internal/grid"
	"github.com/sitesmith/hunter/internal/qualify"
	"github.com/sitesmith/hunter/internal/scorer"
	"github.com/sitesmith/hunter/pkg/leadprov"
)

var huntCmd = &cobra.Command{
	Use:   "hunt",
	Short: "Run the discovery scheduler",
}

// initProvider builds the lead provider client from config.
func initProvider() (leadprov.Client, error) {
	if err := cfg.Validate("provider"); err != nil {
		return nil, err
	}

	opts := []leadprov.Option{
		leadprov.WithTimeout(time.Duration(cfg.Provider.TimeoutSecs) * time.Second),
	}
	if cfg.Provider.BaseURL != "" {
		opts = append(opts, leadprov.WithBaseURL(cfg.Provider.BaseURL))
	}
	if cfg.Provider.RateLimit > 0 {
		opts = append(opts, leadprov.WithRateLimit(cfg.Provider.RateLimit))
	}
	return leadprov.NewClient(cfg.Provider.Key, opts...), nil
}

// initConductor wires the conductor from config and the given stores.
func initConductor(s *stores, provider leadprov.Client) *conductor.Conductor {
	return conductor.New(s.cells, s.leads, provider, conductor.Config{
		PageSize:       cfg.Hunter.PageSize,
		Cooldown:       time.Duration(cfg.Hunter.CooldownHours) * time.Hour,
		ClaimStaleness: time.Duration(cfg.Hunter.ClaimStalenessMins) * time.Minute,
		IdleSleep:      time.Duration(cfg.Hunter.IdleSleepSecs) * time.Second,
		Policy: qualify.Policy{
			MinRating:      cfg.Qualify.MinRating,
			MinReviews:     cfg.Qualify.MinReviews,
			MaxReviews:     cfg.Qualify.MaxReviews,
			RequireContact: cfg.Qualify.RequireContact,
			ChainNames:     cfg.Qualify.ChainNames,
		},
		Tiers: scorer.TierTable(cfg.Hunter.IndustryTiers),
		Rates: cost.Rates{PerRecord: cfg.Provider.PerRecordCost},
	})
}

var huntTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Process a single coverage cell",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		provider, err := initProvider()
		if err != nil {
			return err
		}

		res, err := initConductor(s, provider).Tick(ctx)
		if err != nil {
			if errors.Is(err, grid.ErrNoEligible) {
				cmd.Println("No eligible cells.")
				return nil
			}
			if res != nil {
				printJSON(cmd, res)
			}
			return err
		}

		printJSON(cmd, res)
		return nil
	},
}

var huntBatchN int

var huntBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process up to N cells synchronously and print per-cell summaries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		provider, err := initProvider()
		if err != nil {
			return err
		}

		out, err := initConductor(s, provider).RunBatch(ctx, huntBatchN)
		if err != nil {
			return err
		}
		if len(out) == 0 {
			cmd.Println("No eligible cells.")
			return nil
		}

		printJSON(cmd, out)
		return nil
	},
}

var huntRunWorkers int

var huntRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run continuous discovery workers until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		provider, err := initProvider()
		if err != nil {
			return err
		}

		workers := huntRunWorkers
		if workers == 0 {
			workers = cfg.Hunter.Workers
		}

		zap.L().Info("starting discovery workers", zap.Int("workers", workers))
		if err := initConductor(s, provider).RunWorkers(ctx, workers); err != nil {
			return err
		}
		zap.L().Info("discovery workers stopped")
		return nil
	},
}

func printJSON(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		cmd.PrintErrln("encode output:", err)
		os.Exit(1)
	}
}

func init() {
	huntBatchCmd.Flags().IntVar(&huntBatchN, "n", 5, "number of ticks to run (1-25)")
	huntRunCmd.Flags().IntVar(&huntRunWorkers, "workers", 0, "worker count (default from config)")

	huntCmd.AddCommand(huntTickCmd, huntBatchCmd, huntRunCmd)
	rootCmd.AddCommand(huntCmd)
}
