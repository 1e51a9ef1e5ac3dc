/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/anomalyops/internal/db"
	"github.com/friendsincode/anomalyops/internal/lock"
	"github.com/friendsincode/anomalyops/internal/models"
	"github.com/friendsincode/anomalyops/internal/scheduler"
	"github.com/friendsincode/anomalyops/internal/slots"
	"github.com/friendsincode/anomalyops/internal/store"
)

var impactCmd = &cobra.Command{
	Use:   "impact",
	Short: "Estimate generation lost to downtime",
	Long: `Converts downtime hours into lost capacity using the site capacity.

Examples:
  anomalyops impact --hours 168
  anomalyops impact --period <uuid>`,
	RunE: runImpact,
}

var earliestCmd = &cobra.Command{
	Use:   "earliest",
	Short: "Find the earliest free slot for a repair",
	RunE:  runEarliest,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Rank upcoming maintenance dates for a repair",
	RunE:  runSuggest,
}

// Planning flags
var (
	planHours    float64
	planPeriodID string
	planPriority string
)

func init() {
	rootCmd.AddCommand(impactCmd)
	rootCmd.AddCommand(earliestCmd)
	rootCmd.AddCommand(suggestCmd)

	impactCmd.Flags().Float64Var(&planHours, "hours", 0, "Downtime in hours")
	impactCmd.Flags().StringVar(&planPeriodID, "period", "", "Estimate a stored maintenance period instead of --hours")
	impactCmd.MarkFlagsMutuallyExclusive("hours", "period")

	earliestCmd.Flags().Float64Var(&planHours, "hours", 0, "Repair duration in hours (required)")
	earliestCmd.MarkFlagRequired("hours")

	suggestCmd.Flags().Float64Var(&planHours, "hours", 0, "Repair duration in hours (required)")
	suggestCmd.Flags().StringVar(&planPriority, "priority", string(models.PriorityMedium), "Anomaly priority: critical, medium or low")
	suggestCmd.MarkFlagRequired("hours")
}

// newPlanner builds a scheduling service over the configured database.
func newPlanner() (*scheduler.Service, func(), error) {
	database, err := initDatabase()
	if err != nil {
		return nil, nil, fmt.Errorf("initialize database: %w", err)
	}
	rules, err := cfg.Site.Rules()
	if err != nil {
		_ = db.Close(database)
		return nil, nil, err
	}

	st := store.New(database, lock.NewLocalLocker(), rules.Location, logger)
	svc := scheduler.New(st, scheduler.Options{
		Rules:      rules,
		CapacityMW: cfg.Site.CapacityMW,
	}, logger)
	return svc, func() { _ = db.Close(database) }, nil
}

func runImpact(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if planPeriodID == "" {
		impact, err := slots.NewEstimator(cfg.Site.CapacityMW).Estimate(planHours)
		if err != nil {
			return err
		}
		fmt.Printf("%.2f h at %.0f MW: %.2f MW lost (%.3f GWh)\n", impact.Hours, cfg.Site.CapacityMW, impact.MW, impact.GWh)
		return nil
	}

	svc, closeDB, err := newPlanner()
	if err != nil {
		return err
	}
	defer closeDB()

	period, impact, err := svc.EstimatePeriodImpact(cmd.Context(), planPeriodID)
	if err != nil {
		return err
	}
	fmt.Printf("Period %q (%s to %s, %d days)\n", period.Title,
		period.StartsAt.Format("2006-01-02"), period.EndsAt.Format("2006-01-02"), period.DurationDays())
	fmt.Printf("%.0f h at %.0f MW: %.2f MW lost (%.3f GWh)\n", impact.Hours, cfg.Site.CapacityMW, impact.MW, impact.GWh)
	return nil
}

func runEarliest(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	svc, closeDB, err := newPlanner()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	s, err := svc.FindEarliestSlot(ctx, planHours)
	if err != nil {
		return err
	}
	fmt.Printf("Earliest slot: %s (%.2f h)\n", s.Start.Format("2006-01-02 15:04 MST"), s.Duration.Hours())
	if s.IsImmediate {
		fmt.Println("  immediate")
	}
	if s.OverridesExisting {
		fmt.Printf("  overrides %d existing slot(s):\n", len(s.Displaced))
		for _, d := range s.Displaced {
			fmt.Printf("    %s %q at %s\n", d.ID, d.Title, d.ScheduledAt.In(svc.Location()).Format("15:04"))
		}
	}
	return nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	svc, closeDB, err := newPlanner()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	out, err := svc.SuggestDates(ctx, models.AnomalyPriority(planPriority), planHours)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		fmt.Println("No available maintenance dates in the suggestion horizon")
		return nil
	}
	for i, d := range out {
		critical := ""
		if d.HasCriticalSlot {
			critical = ", critical work booked"
		}
		fmt.Printf("%d. %s  score %.1f  %d slot(s)%s\n", i+1, d.Date.Format("Mon 2006-01-02"), d.UrgencyScore, d.SlotCount, critical)
	}
	return nil
}
