/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"fmt"
	"time"

	"github.com/friendsincode/anomalyops/internal/models"
)

// Default placement rules.
const (
	DefaultDayStartHour      = 6
	DefaultDayEndHour        = 23
	DefaultHorizonDays       = 7
	DefaultSuggestionDays    = 30
	DefaultMaxSuggestions    = 6
	DefaultStartGrace        = 30 * time.Minute
	DefaultOverrideWindowHrs = 2

	// FullDayCapacityHours is the capacity reported for every maintenance day.
	FullDayCapacityHours = 24.0
)

// Rules parameterizes placement. The zero value is not usable; start from DefaultRules.
type Rules struct {
	Location            *time.Location
	DayStartHour        int
	DayEndHour          int
	HorizonDays         int
	SuggestionDays      int
	MaxSuggestions      int
	StartGrace          time.Duration
	OverrideWindowHours int
	PriorityWeights     map[models.AnomalyPriority]float64
}

// DefaultRules returns the standard site rules in UTC.
func DefaultRules() Rules {
	return Rules{
		Location:            time.UTC,
		DayStartHour:        DefaultDayStartHour,
		DayEndHour:          DefaultDayEndHour,
		HorizonDays:         DefaultHorizonDays,
		SuggestionDays:      DefaultSuggestionDays,
		MaxSuggestions:      DefaultMaxSuggestions,
		StartGrace:          DefaultStartGrace,
		OverrideWindowHours: DefaultOverrideWindowHrs,
		PriorityWeights: map[models.AnomalyPriority]float64{
			models.PriorityCritical: 1,
			models.PriorityMedium:   2,
			models.PriorityLow:      3,
		},
	}
}

// Validate checks that the rules describe a usable business day.
func (r Rules) Validate() error {
	if r.DayStartHour < 0 || r.DayStartHour > 23 {
		return fmt.Errorf("day start hour %d out of range", r.DayStartHour)
	}
	if r.DayEndHour < r.DayStartHour || r.DayEndHour > 23 {
		return fmt.Errorf("day end hour %d out of range", r.DayEndHour)
	}
	if r.HorizonDays <= 0 || r.SuggestionDays <= 0 || r.MaxSuggestions <= 0 {
		return fmt.Errorf("horizons must be positive")
	}
	if r.StartGrace < 0 || r.StartGrace >= time.Hour {
		return fmt.Errorf("start grace %s must be within an hour", r.StartGrace)
	}
	for p, w := range r.PriorityWeights {
		if w <= 0 {
			return fmt.Errorf("weight for %s must be positive", p)
		}
	}
	return nil
}

func (r Rules) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r Rules) weight(p models.AnomalyPriority) (float64, bool) {
	w, ok := r.PriorityWeights[p]
	return w, ok
}
