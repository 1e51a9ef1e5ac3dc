/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"errors"
	"math"
	"time"
)

// PeriodStatus defines the booking state of a maintenance period.
type PeriodStatus string

const (
	PeriodAvailable PeriodStatus = "available"
	PeriodBooked    PeriodStatus = "booked"
	PeriodPending   PeriodStatus = "pending"
)

// PeriodType classifies a maintenance period.
type PeriodType string

const (
	PeriodTypeMaintenance PeriodType = "maintenance"
	PeriodTypeRepair      PeriodType = "repair"
	PeriodTypeInspection  PeriodType = "inspection"
	PeriodTypeEmergency   PeriodType = "emergency"
)

// ErrPeriodRange is returned when a period ends before it starts.
var ErrPeriodRange = errors.New("maintenance period end must not be before start")

// MaintenancePeriod is a site downtime window that accepts maintenance bookings.
type MaintenancePeriod struct {
	ID        string       `gorm:"type:uuid;primaryKey" json:"id"`
	Title     string       `gorm:"type:varchar(255);not null" json:"title"`
	StartsAt  time.Time    `gorm:"not null;index:idx_maintenance_periods_range" json:"starts_at"`
	EndsAt    time.Time    `gorm:"not null;index:idx_maintenance_periods_range" json:"ends_at"`
	Status    PeriodStatus `gorm:"type:varchar(32);not null;default:'available';index" json:"status"`
	Type      PeriodType   `gorm:"type:varchar(32);not null;default:'maintenance'" json:"type"`
	Assignee  string       `gorm:"type:varchar(255)" json:"assignee,omitempty"`
	Location  string       `gorm:"type:varchar(255)" json:"location,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (MaintenancePeriod) TableName() string {
	return "maintenance_periods"
}

// Validate checks the period invariants.
func (p *MaintenancePeriod) Validate() error {
	if p.EndsAt.Before(p.StartsAt) {
		return ErrPeriodRange
	}
	return nil
}

// DurationDays counts both boundary days: ceil(|end-start| in days) + 1.
func (p *MaintenancePeriod) DurationDays() int {
	span := p.EndsAt.Sub(p.StartsAt)
	if span < 0 {
		span = -span
	}
	days := math.Ceil(span.Hours() / 24)
	return int(days) + 1
}

// DurationHours is DurationDays expressed in hours.
func (p *MaintenancePeriod) DurationHours() int {
	return p.DurationDays() * 24
}

// IsAvailable reports whether the period accepts new bookings.
func (p *MaintenancePeriod) IsAvailable() bool {
	return p.Status == PeriodAvailable
}

// Covers reports whether the calendar day of t (in loc) lies within the period's calendar days.
func (p *MaintenancePeriod) Covers(t time.Time, loc *time.Location) bool {
	day := StartOfDay(t, loc)
	return !day.Before(StartOfDay(p.StartsAt, loc)) && !day.After(StartOfDay(p.EndsAt, loc))
}

// Bounds returns the period as a half-open range of whole calendar days in loc.
func (p *MaintenancePeriod) Bounds(loc *time.Location) (time.Time, time.Time) {
	return StartOfDay(p.StartsAt, loc), StartOfDay(p.EndsAt, loc).AddDate(0, 0, 1)
}

// ContainsRange reports whether [start, end) falls inside the period's calendar days.
func (p *MaintenancePeriod) ContainsRange(start, end time.Time, loc *time.Location) bool {
	from, to := p.Bounds(loc)
	return !start.Before(from) && !end.After(to)
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// AnomalyPriority ranks anomalies for repair urgency.
type AnomalyPriority string

const (
	PriorityCritical AnomalyPriority = "critical"
	PriorityMedium   AnomalyPriority = "medium"
	PriorityLow      AnomalyPriority = "low"
)

// Valid reports whether p is a known priority.
func (p AnomalyPriority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// AnomalyStatus is the anomaly workflow state.
type AnomalyStatus string

const (
	AnomalyOpen       AnomalyStatus = "open"
	AnomalyAssigned   AnomalyStatus = "assigned"
	AnomalyInProgress AnomalyStatus = "in_progress"
	AnomalyResolved   AnomalyStatus = "resolved"
)

// Anomaly is an equipment defect awaiting repair.
type Anomaly struct {
	ID                     string          `gorm:"type:uuid;primaryKey" json:"id"`
	Title                  string          `gorm:"type:varchar(255)" json:"title"`
	Equipment              string          `gorm:"type:varchar(255)" json:"equipment,omitempty"`
	Priority               AnomalyPriority `gorm:"type:varchar(16);not null;index:idx_anomalies_priority_status" json:"priority"`
	Status                 AnomalyStatus   `gorm:"type:varchar(16);not null;default:'open';index:idx_anomalies_priority_status" json:"status"`
	EstimatedDurationHours float64         `gorm:"not null;default:0" json:"estimated_duration_hours"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Anomaly) TableName() string {
	return "anomalies"
}

// EstimatedDuration returns the repair estimate as a duration.
func (a *Anomaly) EstimatedDuration() time.Duration {
	return HoursToDuration(a.EstimatedDurationHours)
}

// WindowType classifies a slot booking.
type WindowType string

const (
	WindowPlanned       WindowType = "planned"
	WindowEmergency     WindowType = "emergency"
	WindowOpportunistic WindowType = "opportunistic"
)

// Valid reports whether w is a known window type.
func (w WindowType) Valid() bool {
	switch w {
	case WindowPlanned, WindowEmergency, WindowOpportunistic:
		return true
	}
	return false
}

// SlotStatus is the lifecycle state of a slot.
type SlotStatus string

const (
	SlotScheduled  SlotStatus = "scheduled"
	SlotInProgress SlotStatus = "in_progress"
	SlotCompleted  SlotStatus = "completed"
	SlotCancelled  SlotStatus = "cancelled"
)

// Slot is a single scheduled repair booking.
type Slot struct {
	ID                     string          `gorm:"type:uuid;primaryKey" json:"id"`
	Title                  string          `gorm:"type:varchar(255);not null" json:"title"`
	AnomalyID              *string         `gorm:"type:uuid;index" json:"anomaly_id,omitempty"`
	MaintenancePeriodID    *string         `gorm:"type:uuid;index" json:"maintenance_period_id,omitempty"`
	ScheduledAt            time.Time       `gorm:"not null;index:idx_slots_scheduled" json:"scheduled_at"`
	EstimatedDurationHours float64         `gorm:"not null" json:"estimated_duration_hours"`
	Priority               AnomalyPriority `gorm:"type:varchar(16);not null" json:"priority"`
	WindowType             WindowType      `gorm:"type:varchar(16);not null;default:'planned'" json:"window_type"`
	Status                 SlotStatus      `gorm:"type:varchar(16);not null;default:'scheduled';index" json:"status"`
	OverridesExisting      bool            `gorm:"not null;default:false" json:"overrides_existing"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Slot) TableName() string {
	return "slots"
}

// Duration returns the estimated duration.
func (s *Slot) Duration() time.Duration {
	return HoursToDuration(s.EstimatedDurationHours)
}

// EndsAt is the exclusive end of the slot.
func (s *Slot) EndsAt() time.Time {
	return s.ScheduledAt.Add(s.Duration())
}

// Protected reports whether the slot may never be displaced by an override.
func (s *Slot) Protected() bool {
	return s.Priority == PriorityCritical || s.WindowType == WindowEmergency
}

// Active reports whether the slot still occupies its window.
func (s *Slot) Active() bool {
	return s.Status != SlotCancelled && s.Status != SlotCompleted
}

// SlotInput carries the fields needed to create a slot.
type SlotInput struct {
	Title                  string
	AnomalyID              *string
	EstimatedDurationHours float64
	Priority               AnomalyPriority
	WindowType             WindowType
	MaintenancePeriodID    *string
	ScheduledAt            time.Time
	// AllowOverlap marks an accepted override of lower-priority work.
	AllowOverlap bool
}

// HoursToDuration converts fractional hours to a duration.
func HoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
