/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slots implements the maintenance slot availability and placement engine.
package slots

import (
	"time"

	"github.com/friendsincode/anomalyops/internal/models"
)

// Interval is the half-open range [Start, Start+Duration).
type Interval struct {
	Start    time.Time
	Duration time.Duration
}

// NewInterval builds an interval from a start and fractional hours.
func NewInterval(start time.Time, hours float64) Interval {
	return Interval{Start: start, Duration: models.HoursToDuration(hours)}
}

// SlotInterval returns the interval a slot occupies.
func SlotInterval(s models.Slot) Interval {
	return Interval{Start: s.ScheduledAt, Duration: s.Duration()}
}

// End is the exclusive end of the interval.
func (i Interval) End() time.Time {
	return i.Start.Add(i.Duration)
}

// Validate rejects degenerate intervals.
func (i Interval) Validate() error {
	if i.Duration <= 0 {
		return invalid("duration", "must be positive", ErrInvalidDuration)
	}
	return nil
}

// Overlaps reports whether a and b share any instant.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End()) && b.Start.Before(a.End())
}

// Conflict describes one existing slot overlapping a candidate.
type Conflict struct {
	Slot           models.Slot `json:"slot"`
	OverlapStart   time.Time   `json:"overlap_start"`
	OverlapEnd     time.Time   `json:"overlap_end"`
	OverlapMinutes int         `json:"overlap_minutes"`
}

// FindConflicts returns every active slot overlapping candidate, in input order.
func FindConflicts(candidate Interval, existing []models.Slot) ([]models.Slot, error) {
	conflicts, err := DetectConflicts(candidate, existing)
	if err != nil {
		return nil, err
	}
	out := make([]models.Slot, len(conflicts))
	for i, c := range conflicts {
		out[i] = c.Slot
	}
	return out, nil
}

// DetectConflicts is FindConflicts with overlap details.
func DetectConflicts(candidate Interval, existing []models.Slot) ([]Conflict, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, slot := range existing {
		if !slot.Active() {
			continue
		}
		other := SlotInterval(slot)
		if other.Duration <= 0 || !Overlaps(candidate, other) {
			continue
		}
		start := maxTime(candidate.Start, other.Start)
		end := minTime(candidate.End(), other.End())
		conflicts = append(conflicts, Conflict{
			Slot:           slot,
			OverlapStart:   start,
			OverlapEnd:     end,
			OverlapMinutes: int(end.Sub(start).Minutes()),
		})
	}
	return conflicts, nil
}

// CheckConflicts returns a *ConflictError when candidate overlaps any slot.
func CheckConflicts(candidate Interval, existing []models.Slot) error {
	conflicts, err := DetectConflicts(candidate, existing)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{Candidate: candidate, Conflicts: conflicts}
	}
	return nil
}

// SlotsOnDay returns the slots whose interval intersects the calendar day of t.
func SlotsOnDay(t time.Time, existing []models.Slot, loc *time.Location) []models.Slot {
	dayStart := models.StartOfDay(t, loc)
	day := Interval{Start: dayStart, Duration: dayStart.AddDate(0, 0, 1).Sub(dayStart)}

	var out []models.Slot
	for _, slot := range existing {
		if !slot.Active() {
			continue
		}
		iv := SlotInterval(slot)
		if iv.Duration <= 0 {
			// a zero-length booking still marks its start day
			if !iv.Start.Before(day.Start) && iv.Start.Before(day.End()) {
				out = append(out, slot)
			}
			continue
		}
		if Overlaps(day, iv) {
			out = append(out, slot)
		}
	}
	return out
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
