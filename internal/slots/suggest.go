/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"context"
	"sort"
	"time"

	"github.com/friendsincode/anomalyops/internal/models"
)

// SuggestRequest asks for ranked booking dates for a non-urgent repair.
type SuggestRequest struct {
	Priority models.AnomalyPriority
	Duration time.Duration
	Now      time.Time
	Periods  []models.MaintenancePeriod
	Existing []models.Slot
}

// DateSuggestion is one ranked candidate date.
type DateSuggestion struct {
	Date                   time.Time `json:"date"`
	DayOffset              int       `json:"day_offset"`
	UrgencyScore           float64   `json:"urgency_score"`
	RemainingCapacityHours float64   `json:"remaining_capacity_hours"`
	PeriodID               string    `json:"period_id"`
	SlotCount              int       `json:"slot_count"`
	HasCriticalSlot        bool      `json:"has_critical_slot"`
}

// SuggestDates ranks the available dates of the suggestion horizon by
// offset times priority weight, lowest first, and returns at most
// MaxSuggestions entries.
func (f *Finder) SuggestDates(ctx context.Context, req SuggestRequest) ([]DateSuggestion, error) {
	if req.Duration <= 0 {
		return nil, invalid("duration", "must be positive", ErrInvalidDuration)
	}
	weight, ok := f.rules.weight(req.Priority)
	if !ok {
		return nil, invalid("priority", string(req.Priority)+" is not a known priority", ErrInvalidPriority)
	}

	loc := f.rules.location()
	today := models.StartOfDay(req.Now, loc)
	need := req.Duration.Hours()

	var candidates []DateSuggestion
	for offset := range f.rules.SuggestionDays {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		date := today.AddDate(0, 0, offset)
		period, ok := AvailablePeriodFor(date, req.Periods, req.Now, loc)
		if !ok {
			continue
		}
		remaining := RemainingCapacity(date, req.Existing, loc)
		if remaining < need {
			continue
		}
		occ := DayOccupancy(date, req.Existing, loc)
		candidates = append(candidates, DateSuggestion{
			Date:                   date,
			DayOffset:              offset,
			UrgencyScore:           float64(offset) * weight,
			RemainingCapacityHours: remaining,
			PeriodID:               period.ID,
			SlotCount:              occ.SlotCount,
			HasCriticalSlot:        occ.HasCriticalSlot,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.UrgencyScore != b.UrgencyScore {
			return a.UrgencyScore < b.UrgencyScore
		}
		if a.RemainingCapacityHours != b.RemainingCapacityHours {
			return a.RemainingCapacityHours > b.RemainingCapacityHours
		}
		return a.Date.Before(b.Date)
	})

	if len(candidates) > f.rules.MaxSuggestions {
		candidates = candidates[:f.rules.MaxSuggestions]
	}
	return candidates, nil
}
