/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"context"
	"math"
	"time"

	"github.com/friendsincode/anomalyops/internal/models"
)

// Request asks for the earliest free interval of Duration after Now.
type Request struct {
	Duration time.Duration
	Now      time.Time
	Existing []models.Slot
}

// Suggestion is a proposed placement. When OverridesExisting is set the
// proposal overlaps the Displaced slots; they are not cancelled.
type Suggestion struct {
	Date              time.Time     `json:"date"`
	Start             time.Time     `json:"start"`
	Hour              int           `json:"hour"`
	Duration          time.Duration `json:"duration"`
	IsImmediate       bool          `json:"is_immediate"`
	OverridesExisting bool          `json:"overrides_existing"`
	Displaced         []models.Slot `json:"displaced,omitempty"`
}

// Interval returns the suggested interval.
func (s *Suggestion) Interval() Interval {
	return Interval{Start: s.Start, Duration: s.Duration}
}

// Finder scans forward hour by hour for the first free interval.
// It holds no mutable state and is safe for concurrent use.
type Finder struct {
	rules Rules
}

// NewFinder creates a finder for the given rules.
func NewFinder(rules Rules) *Finder {
	return &Finder{rules: rules}
}

// Rules returns the finder's placement rules.
func (f *Finder) Rules() Rules {
	return f.rules
}

// FindEarliest returns the first conflict-free (day, hour) in the horizon,
// scanning earliest day and hour first. On the first day a conflict made up
// only of unprotected slots may be proposed as an override when the hour is
// within the override window. Returns a *NotFoundError when exhausted.
func (f *Finder) FindEarliest(ctx context.Context, req Request) (*Suggestion, error) {
	if req.Duration <= 0 {
		return nil, invalid("duration", "must be positive", ErrInvalidDuration)
	}

	loc := f.rules.location()
	now := req.Now.In(loc)
	today := models.StartOfDay(now, loc)
	currentHour := now.Hour()
	lastHour := f.lastStartHour(req.Duration)

	for offset := range f.rules.HorizonDays {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		day := today.AddDate(0, 0, offset)
		from := f.rules.DayStartHour
		if offset == 0 {
			from = f.firstStartHour(now)
		}
		daySlots := SlotsOnDay(day, req.Existing, loc)

		for hour := from; hour <= lastHour; hour++ {
			start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
			candidate := Interval{Start: start, Duration: req.Duration}

			conflicts, err := DetectConflicts(candidate, daySlots)
			if err != nil {
				return nil, err
			}

			suggestion := &Suggestion{
				Date:        day,
				Start:       start,
				Hour:        hour,
				Duration:    req.Duration,
				IsImmediate: offset == 0 && hour <= currentHour+1,
			}
			if len(conflicts) == 0 {
				return suggestion, nil
			}

			if offset == 0 && hour <= currentHour+f.rules.OverrideWindowHours && overridable(conflicts) {
				suggestion.OverridesExisting = true
				for _, c := range conflicts {
					suggestion.Displaced = append(suggestion.Displaced, c.Slot)
				}
				return suggestion, nil
			}
		}
	}

	return nil, &NotFoundError{Duration: req.Duration, HorizonDays: f.rules.HorizonDays, From: today}
}

// firstStartHour is the scan start for today: the business-day start before
// opening, otherwise the current hour, moved to the next hour once more than
// the grace period has elapsed.
func (f *Finder) firstStartHour(now time.Time) int {
	if now.Hour() < f.rules.DayStartHour {
		return f.rules.DayStartHour
	}
	hourStart := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	if now.Sub(hourStart) > f.rules.StartGrace {
		return now.Hour() + 1
	}
	return now.Hour()
}

// lastStartHour is min(dayEnd, 24 - duration).
func (f *Finder) lastStartHour(d time.Duration) int {
	latest := int(math.Floor(24 - d.Hours()))
	return min(f.rules.DayEndHour, latest)
}

func overridable(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if c.Slot.Protected() {
			return false
		}
	}
	return true
}
