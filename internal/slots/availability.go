/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"time"

	"github.com/friendsincode/anomalyops/internal/models"
)

// Occupancy summarizes the slots booked on a day.
type Occupancy struct {
	HasCriticalSlot bool `json:"has_critical_slot"`
	SlotCount       int  `json:"slot_count"`
}

// CalendarDayAvailability is the derived per-day view of periods and slots.
type CalendarDayAvailability struct {
	Date                   time.Time     `json:"date"`
	Available              bool          `json:"available"`
	PeriodID               string        `json:"period_id,omitempty"`
	Slots                  []models.Slot `json:"slots"`
	HasCriticalSlot        bool          `json:"has_critical_slot"`
	RemainingCapacityHours float64       `json:"remaining_capacity_hours"`
}

// IsPast reports whether the calendar day of date lies strictly before the day of now.
func IsPast(date, now time.Time, loc *time.Location) bool {
	return models.StartOfDay(date, loc).Before(models.StartOfDay(now, loc))
}

// IsDateAvailable reports whether date falls in at least one available period.
// Past days are never available.
func IsDateAvailable(date time.Time, periods []models.MaintenancePeriod, now time.Time, loc *time.Location) bool {
	_, ok := AvailablePeriodFor(date, periods, now, loc)
	return ok
}

// AvailablePeriodFor returns the first available period covering date.
func AvailablePeriodFor(date time.Time, periods []models.MaintenancePeriod, now time.Time, loc *time.Location) (*models.MaintenancePeriod, bool) {
	if IsPast(date, now, loc) {
		return nil, false
	}
	for i := range periods {
		p := &periods[i]
		if p.IsAvailable() && p.Covers(date, loc) {
			return p, true
		}
	}
	return nil, false
}

// DayOccupancy counts the slots on the calendar day of date. It never caps hours.
func DayOccupancy(date time.Time, existing []models.Slot, loc *time.Location) Occupancy {
	day := SlotsOnDay(date, existing, loc)
	occ := Occupancy{SlotCount: len(day)}
	for _, s := range day {
		if s.Priority == models.PriorityCritical {
			occ.HasCriticalSlot = true
			break
		}
	}
	return occ
}

// RemainingCapacity returns the bookable hours left on a day. Maintenance
// days are uncapped, so this is always a full day.
func RemainingCapacity(time.Time, []models.Slot, *time.Location) float64 {
	return FullDayCapacityHours
}

// CalendarDay builds the availability view for one date.
func CalendarDay(date time.Time, periods []models.MaintenancePeriod, existing []models.Slot, now time.Time, loc *time.Location) CalendarDayAvailability {
	day := models.StartOfDay(date, loc)
	slots := SlotsOnDay(day, existing, loc)
	out := CalendarDayAvailability{
		Date:                   day,
		Slots:                  slots,
		RemainingCapacityHours: RemainingCapacity(day, existing, loc),
	}
	if out.Slots == nil {
		out.Slots = []models.Slot{}
	}
	if p, ok := AvailablePeriodFor(day, periods, now, loc); ok {
		out.Available = true
		out.PeriodID = p.ID
	}
	for _, s := range slots {
		if s.Priority == models.PriorityCritical {
			out.HasCriticalSlot = true
			break
		}
	}
	return out
}

// Calendar builds consecutive day views starting at from.
func Calendar(from time.Time, days int, periods []models.MaintenancePeriod, existing []models.Slot, now time.Time, loc *time.Location) []CalendarDayAvailability {
	if days <= 0 {
		return nil
	}
	start := models.StartOfDay(from, loc)
	out := make([]CalendarDayAvailability, 0, days)
	for i := range days {
		out = append(out, CalendarDay(start.AddDate(0, 0, i), periods, existing, now, loc))
	}
	return out
}
