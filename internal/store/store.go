/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists maintenance periods, anomalies and slots through GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/anomalyops/internal/lock"
	"github.com/friendsincode/anomalyops/internal/models"
	"github.com/friendsincode/anomalyops/internal/slots"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the GORM-backed slot store.
type Store struct {
	db     *gorm.DB
	locker lock.Locker
	loc    *time.Location
	logger zerolog.Logger
}

// New creates a store. A nil locker falls back to an in-process locker.
func New(db *gorm.DB, locker lock.Locker, loc *time.Location, logger zerolog.Logger) *Store {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		db:     db,
		locker: locker,
		loc:    loc,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// ListMaintenancePeriods returns every period ordered by start.
func (s *Store) ListMaintenancePeriods(ctx context.Context) ([]models.MaintenancePeriod, error) {
	var periods []models.MaintenancePeriod
	if err := s.db.WithContext(ctx).Order("starts_at ASC").Find(&periods).Error; err != nil {
		return nil, fmt.Errorf("list maintenance periods: %w", err)
	}
	return periods, nil
}

// GetMaintenancePeriod loads one period.
func (s *Store) GetMaintenancePeriod(ctx context.Context, id string) (*models.MaintenancePeriod, error) {
	var p models.MaintenancePeriod
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("maintenance period %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get maintenance period: %w", err)
	}
	return &p, nil
}

// SaveMaintenancePeriod validates and upserts a period.
func (s *Store) SaveMaintenancePeriod(ctx context.Context, p *models.MaintenancePeriod) error {
	if err := p.Validate(); err != nil {
		return &slots.ValidationError{Field: "period", Reason: err.Error(), Err: err}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.StartsAt = p.StartsAt.UTC()
	p.EndsAt = p.EndsAt.UTC()
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("save maintenance period: %w", err)
	}
	return nil
}

// ListCriticalOpenAnomalies returns open anomalies with critical priority.
func (s *Store) ListCriticalOpenAnomalies(ctx context.Context) ([]models.Anomaly, error) {
	var anomalies []models.Anomaly
	err := s.db.WithContext(ctx).
		Where("priority = ? AND status = ?", models.PriorityCritical, models.AnomalyOpen).
		Order("created_at ASC").
		Find(&anomalies).Error
	if err != nil {
		return nil, fmt.Errorf("list critical anomalies: %w", err)
	}
	return anomalies, nil
}

// GetAnomaly loads one anomaly.
func (s *Store) GetAnomaly(ctx context.Context, id string) (*models.Anomaly, error) {
	var a models.Anomaly
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("anomaly %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get anomaly: %w", err)
	}
	return &a, nil
}

// SaveAnomaly upserts an anomaly.
func (s *Store) SaveAnomaly(ctx context.Context, a *models.Anomaly) error {
	if !a.Priority.Valid() {
		return &slots.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", a.Priority), Err: slots.ErrInvalidPriority}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = models.AnomalyOpen
	}
	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		return fmt.Errorf("save anomaly: %w", err)
	}
	return nil
}

// ListSlots returns active slots whose interval intersects [from, to).
func (s *Store) ListSlots(ctx context.Context, from, to time.Time) ([]models.Slot, error) {
	return listSlots(s.db.WithContext(ctx), from, to)
}

// ListActiveSlotsForAnomaly returns the active slots booked for an anomaly.
func (s *Store) ListActiveSlotsForAnomaly(ctx context.Context, anomalyID string) ([]models.Slot, error) {
	var out []models.Slot
	err := s.db.WithContext(ctx).
		Where("anomaly_id = ? AND status NOT IN ?", anomalyID, inactiveStatuses()).
		Order("scheduled_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list slots for anomaly: %w", err)
	}
	return out, nil
}

// CreateSlot checks for overlaps and inserts the slot in one transaction
// while holding the booking lock for every calendar day the slot touches.
// Overlaps yield a *slots.ConflictError unless the input is an accepted
// override and none of the overlapped slots is protected.
func (s *Store) CreateSlot(ctx context.Context, in models.SlotInput) (*models.Slot, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	candidate := slots.NewInterval(in.ScheduledAt.UTC(), in.EstimatedDurationHours)

	leases, err := s.lockDays(ctx, candidate)
	if err != nil {
		return nil, err
	}
	defer s.release(leases)

	slot := &models.Slot{
		ID:                     uuid.NewString(),
		Title:                  strings.TrimSpace(in.Title),
		AnomalyID:              in.AnomalyID,
		MaintenancePeriodID:    in.MaintenancePeriodID,
		ScheduledAt:            candidate.Start,
		EstimatedDurationHours: in.EstimatedDurationHours,
		Priority:               in.Priority,
		WindowType:             in.WindowType,
		Status:                 models.SlotScheduled,
		OverridesExisting:      in.AllowOverlap,
	}
	if slot.WindowType == "" {
		slot.WindowType = models.WindowPlanned
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := listSlots(tx, candidate.Start, candidate.End())
		if err != nil {
			return err
		}
		conflicts, err := slots.DetectConflicts(candidate, existing)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 && (!in.AllowOverlap || anyProtected(conflicts)) {
			return &slots.ConflictError{Candidate: candidate, Conflicts: conflicts}
		}
		if err := tx.Create(slot).Error; err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("slot_id", slot.ID).
		Time("scheduled_at", slot.ScheduledAt).
		Float64("hours", slot.EstimatedDurationHours).
		Bool("override", slot.OverridesExisting).
		Msg("slot created")
	return slot, nil
}

// DeleteSlot removes a slot.
func (s *Store) DeleteSlot(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Slot{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete slot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("slot %s: %w", id, ErrNotFound)
	}
	return nil
}

func listSlots(db *gorm.DB, from, to time.Time) ([]models.Slot, error) {
	var rows []models.Slot
	err := db.
		Where("scheduled_at < ? AND status NOT IN ?", to.UTC(), inactiveStatuses()).
		Order("scheduled_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	from = from.UTC()
	out := rows[:0]
	for _, r := range rows {
		if r.EndsAt().After(from) {
			out = append(out, r)
		}
	}
	return out, nil
}

func inactiveStatuses() []models.SlotStatus {
	return []models.SlotStatus{models.SlotCancelled, models.SlotCompleted}
}

func anyProtected(conflicts []slots.Conflict) bool {
	for _, c := range conflicts {
		if c.Slot.Protected() {
			return true
		}
	}
	return false
}

func validateInput(in models.SlotInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return &slots.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if in.EstimatedDurationHours <= 0 {
		return &slots.ValidationError{Field: "estimated_duration_hours", Reason: "must be positive", Err: slots.ErrInvalidDuration}
	}
	if !in.Priority.Valid() {
		return &slots.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", in.Priority), Err: slots.ErrInvalidPriority}
	}
	if in.WindowType != "" && !in.WindowType.Valid() {
		return &slots.ValidationError{Field: "window_type", Reason: fmt.Sprintf("unknown window type %q", in.WindowType)}
	}
	if in.ScheduledAt.IsZero() {
		return &slots.ValidationError{Field: "scheduled_at", Reason: "must be set"}
	}
	return nil
}

// lockDays takes the day locks in sorted order so overlapping multi-day
// bookings cannot deadlock.
func (s *Store) lockDays(ctx context.Context, iv slots.Interval) ([]lock.Lease, error) {
	keys := map[string]struct{}{}
	last := iv.End().Add(-time.Nanosecond)
	for day := models.StartOfDay(iv.Start, s.loc); !day.After(last); day = day.AddDate(0, 0, 1) {
		keys[lock.DayKey(day, s.loc)] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	leases := make([]lock.Lease, 0, len(ordered))
	for _, key := range ordered {
		lease, err := s.locker.Acquire(ctx, key)
		if err != nil {
			s.release(leases)
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

func (s *Store) release(leases []lock.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(leases) - 1; i >= 0; i-- {
		if err := leases[i].Release(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("release booking lock")
		}
	}
}
