/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/anomalyops/internal/models"
	"github.com/friendsincode/anomalyops/internal/slots"
)

// SiteProfile describes the plant: generation capacity and booking rules.
type SiteProfile struct {
	Name                string             `yaml:"name"`
	Timezone            string             `yaml:"timezone"`
	CapacityMW          float64            `yaml:"capacity_mw"`
	DayStartHour        int                `yaml:"day_start_hour"`
	DayEndHour          int                `yaml:"day_end_hour"`
	HorizonDays         int                `yaml:"horizon_days"`
	SuggestionDays      int                `yaml:"suggestion_days"`
	MaxSuggestions      int                `yaml:"max_suggestions"`
	StartGraceMinutes   int                `yaml:"start_grace_minutes"`
	OverrideWindowHours int                `yaml:"override_window_hours"`
	PriorityWeights     map[string]float64 `yaml:"priority_weights"`
}

// DefaultSiteProfile returns the built-in profile.
func DefaultSiteProfile() SiteProfile {
	return SiteProfile{
		Name:                "default",
		Timezone:            "UTC",
		CapacityMW:          slots.DefaultCapacityMW,
		DayStartHour:        slots.DefaultDayStartHour,
		DayEndHour:          slots.DefaultDayEndHour,
		HorizonDays:         slots.DefaultHorizonDays,
		SuggestionDays:      slots.DefaultSuggestionDays,
		MaxSuggestions:      slots.DefaultMaxSuggestions,
		StartGraceMinutes:   int(slots.DefaultStartGrace / time.Minute),
		OverrideWindowHours: slots.DefaultOverrideWindowHrs,
		PriorityWeights: map[string]float64{
			string(models.PriorityCritical): 1,
			string(models.PriorityMedium):   2,
			string(models.PriorityLow):      3,
		},
	}
}

// LoadSiteProfile reads a YAML profile over the defaults. An empty path returns the defaults.
func LoadSiteProfile(path string) (SiteProfile, error) {
	profile := DefaultSiteProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("read site profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return profile, fmt.Errorf("parse site profile %s: %w", path, err)
	}
	return profile, nil
}

// Location resolves the profile timezone.
func (p SiteProfile) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", p.Timezone, err)
	}
	return loc, nil
}

// Rules converts the profile into placement rules.
func (p SiteProfile) Rules() (slots.Rules, error) {
	loc, err := p.Location()
	if err != nil {
		return slots.Rules{}, err
	}

	rules := slots.DefaultRules()
	rules.Location = loc
	rules.DayStartHour = p.DayStartHour
	rules.DayEndHour = p.DayEndHour
	rules.HorizonDays = p.HorizonDays
	rules.SuggestionDays = p.SuggestionDays
	rules.MaxSuggestions = p.MaxSuggestions
	rules.StartGrace = time.Duration(p.StartGraceMinutes) * time.Minute
	rules.OverrideWindowHours = p.OverrideWindowHours
	for name, w := range p.PriorityWeights {
		priority := models.AnomalyPriority(name)
		if !priority.Valid() {
			return slots.Rules{}, fmt.Errorf("unknown priority %q in priority_weights", name)
		}
		rules.PriorityWeights[priority] = w
	}
	return rules, nil
}

// Validate checks the profile can produce usable rules.
func (p SiteProfile) Validate() error {
	if p.CapacityMW <= 0 {
		return fmt.Errorf("capacity_mw must be positive")
	}
	if p.OverrideWindowHours < 0 {
		return fmt.Errorf("override_window_hours must not be negative")
	}
	rules, err := p.Rules()
	if err != nil {
		return err
	}
	return rules.Validate()
}
