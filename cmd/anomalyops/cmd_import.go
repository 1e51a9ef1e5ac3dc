/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/anomalyops/internal/models"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import maintenance periods and anomalies",
	Long: `Reads a YAML file of maintenance periods and anomalies and upserts them.

Example file:

  periods:
    - title: Spring outage
      starts_at: 2025-04-07
      ends_at: 2025-04-13
  anomalies:
    - title: Boiler tube leak
      priority: critical
      estimated_duration_hours: 10

Examples:
  anomalyops import --file plant.yaml --dry-run
  anomalyops import --file plant.yaml`,
	RunE: runImport,
}

// Import flags
var (
	importPath   string
	importDryRun bool
)

type importFile struct {
	Periods []struct {
		ID       string `yaml:"id"`
		Title    string `yaml:"title"`
		StartsAt string `yaml:"starts_at"`
		EndsAt   string `yaml:"ends_at"`
		Status   string `yaml:"status"`
		Type     string `yaml:"type"`
		Assignee string `yaml:"assignee"`
		Location string `yaml:"location"`
	} `yaml:"periods"`
	Anomalies []struct {
		ID                     string  `yaml:"id"`
		Title                  string  `yaml:"title"`
		Equipment              string  `yaml:"equipment"`
		Priority               string  `yaml:"priority"`
		Status                 string  `yaml:"status"`
		EstimatedDurationHours float64 `yaml:"estimated_duration_hours"`
	} `yaml:"anomalies"`
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importPath, "file", "", "Path to the YAML import file (required)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate the file without writing")
	importCmd.MarkFlagRequired("file")
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(importPath)
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}
	var file importFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse import file: %w", err)
	}

	loc, err := cfg.Site.Location()
	if err != nil {
		return err
	}

	periods := make([]models.MaintenancePeriod, 0, len(file.Periods))
	for i, p := range file.Periods {
		startsAt, err := time.ParseInLocation("2006-01-02", p.StartsAt, loc)
		if err != nil {
			return fmt.Errorf("period %d: starts_at: %w", i+1, err)
		}
		endsAt, err := time.ParseInLocation("2006-01-02", p.EndsAt, loc)
		if err != nil {
			return fmt.Errorf("period %d: ends_at: %w", i+1, err)
		}
		period := models.MaintenancePeriod{
			ID:       p.ID,
			Title:    p.Title,
			StartsAt: startsAt,
			EndsAt:   endsAt,
			Status:   models.PeriodStatus(p.Status),
			Type:     models.PeriodType(p.Type),
			Assignee: p.Assignee,
			Location: p.Location,
		}
		if period.Status == "" {
			period.Status = models.PeriodAvailable
		}
		if period.Type == "" {
			period.Type = models.PeriodTypeMaintenance
		}
		if err := period.Validate(); err != nil {
			return fmt.Errorf("period %d (%s): %w", i+1, p.Title, err)
		}
		periods = append(periods, period)
	}

	anomalies := make([]models.Anomaly, 0, len(file.Anomalies))
	for i, a := range file.Anomalies {
		anomaly := models.Anomaly{
			ID:                     a.ID,
			Title:                  a.Title,
			Equipment:              a.Equipment,
			Priority:               models.AnomalyPriority(a.Priority),
			Status:                 models.AnomalyStatus(a.Status),
			EstimatedDurationHours: a.EstimatedDurationHours,
		}
		if !anomaly.Priority.Valid() {
			return fmt.Errorf("anomaly %d (%s): unknown priority %q", i+1, a.Title, a.Priority)
		}
		if anomaly.EstimatedDurationHours < 0 {
			return fmt.Errorf("anomaly %d (%s): estimated_duration_hours must not be negative", i+1, a.Title)
		}
		anomalies = append(anomalies, anomaly)
	}

	fmt.Printf("Import file: %d period(s), %d anomaly(ies)\n", len(periods), len(anomalies))
	if importDryRun {
		fmt.Println("Dry run, nothing written")
		return nil
	}

	svc, closeDB, err := newPlanner()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := cmd.Context()
	for i := range periods {
		if err := svc.SavePeriod(ctx, &periods[i]); err != nil {
			return fmt.Errorf("save period %q: %w", periods[i].Title, err)
		}
	}
	for i := range anomalies {
		if err := svc.SaveAnomaly(ctx, &anomalies[i]); err != nil {
			return fmt.Errorf("save anomaly %q: %w", anomalies[i].Title, err)
		}
	}

	fmt.Printf("Imported %d period(s) and %d anomaly(ies)\n", len(periods), len(anomalies))
	return nil
}
