/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/anomalyops/internal/models"
	"github.com/friendsincode/anomalyops/internal/slots"
)

// CompositeThresholdHours is the repair length at which work is split across dates.
const CompositeThresholdHours = 8

// BatchPolicy selects what happens to committed slots when a later date fails.
type BatchPolicy int

const (
	// BatchPolicyReport keeps committed slots and reports them.
	BatchPolicyReport BatchPolicy = iota
	// BatchPolicyCompensate deletes committed slots in reverse order.
	BatchPolicyCompensate
)

func (p BatchPolicy) String() string {
	if p == BatchPolicyCompensate {
		return "compensate"
	}
	return "report"
}

// SlotWriter is the mutating side of the slot store.
type SlotWriter interface {
	CreateSlot(ctx context.Context, in models.SlotInput) (*models.Slot, error)
	DeleteSlot(ctx context.Context, id string) error
}

// CompositeRequest books one repair across several calendar dates.
type CompositeRequest struct {
	Anomaly models.Anomaly
	Dates   []time.Time
	// TimeOfDay is the offset from midnight at which every slot starts.
	TimeOfDay time.Duration
	// HoursPerDate overrides the anomaly estimate for each slot when positive.
	HoursPerDate float64
	Title        string
	WindowType   models.WindowType
}

// RequiresComposite reports whether a repair is split across dates.
func RequiresComposite(a models.Anomaly) bool {
	return a.EstimatedDurationHours >= CompositeThresholdHours || a.Priority == models.PriorityCritical
}

// CompositeScheduler creates one slot per date, sequentially and in input order.
type CompositeScheduler struct {
	store  SlotWriter
	policy BatchPolicy
	loc    *time.Location
	logger zerolog.Logger
}

// NewCompositeScheduler creates a composite scheduler.
func NewCompositeScheduler(store SlotWriter, policy BatchPolicy, loc *time.Location, logger zerolog.Logger) *CompositeScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &CompositeScheduler{
		store:  store,
		policy: policy,
		loc:    loc,
		logger: logger.With().Str("component", "composite").Logger(),
	}
}

// Schedule validates the request, then for each date checks it against the
// periods and creates its slot. The first failing date stops the batch with
// a *slots.PartialBatchFailure; slots created before it are kept or deleted
// according to the batch policy.
func (c *CompositeScheduler) Schedule(ctx context.Context, req CompositeRequest, periods []models.MaintenancePeriod, now time.Time) ([]models.Slot, error) {
	in, err := c.validate(req)
	if err != nil {
		return nil, err
	}
	dates := c.uniqueDays(req.Dates)
	duration := models.HoursToDuration(in.EstimatedDurationHours)

	created := make([]models.Slot, 0, len(dates))
	for i, day := range dates {
		start := c.startOn(day, req.TimeOfDay)
		in.ScheduledAt = start
		in.MaintenancePeriodID = nil

		cause := ctx.Err()
		if cause == nil {
			var periodID string
			periodID, cause = c.checkDate(day, start, start.Add(duration), periods, now)
			if cause == nil {
				in.MaintenancePeriodID = &periodID
			}
		}
		if cause == nil {
			var slot *models.Slot
			slot, cause = c.store.CreateSlot(ctx, in)
			if cause == nil {
				created = append(created, *slot)
				continue
			}
			cause = fmt.Errorf("create slot for %s: %w", day.Format("2006-01-02"), cause)
		}

		return nil, c.fail(created, day, i, len(dates), cause)
	}

	c.logger.Info().
		Int("slots", len(created)).
		Str("anomaly_id", req.Anomaly.ID).
		Msg("composite booking complete")
	return created, nil
}

func (c *CompositeScheduler) validate(req CompositeRequest) (models.SlotInput, error) {
	hours := req.HoursPerDate
	if hours <= 0 {
		hours = req.Anomaly.EstimatedDurationHours
	}
	if hours <= 0 {
		return models.SlotInput{}, &slots.ValidationError{Field: "estimated_duration_hours", Reason: "must be positive", Err: slots.ErrInvalidDuration}
	}
	if hours > 24 {
		return models.SlotInput{}, &slots.ValidationError{Field: "estimated_duration_hours", Reason: "a single date holds at most 24 hours"}
	}
	if !req.Anomaly.Priority.Valid() {
		return models.SlotInput{}, &slots.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", req.Anomaly.Priority), Err: slots.ErrInvalidPriority}
	}
	if len(req.Dates) == 0 {
		return models.SlotInput{}, &slots.ValidationError{Field: "dates", Reason: "at least one date is required"}
	}
	if req.TimeOfDay < 0 || req.TimeOfDay >= 24*time.Hour {
		return models.SlotInput{}, &slots.ValidationError{Field: "time_of_day", Reason: "must be within the day"}
	}
	window := req.WindowType
	if window == "" {
		window = models.WindowPlanned
	}
	if !window.Valid() {
		return models.SlotInput{}, &slots.ValidationError{Field: "window_type", Reason: fmt.Sprintf("unknown window type %q", window)}
	}

	title := req.Title
	if title == "" {
		title = req.Anomaly.Title
	}
	if title == "" {
		title = "Repair " + req.Anomaly.ID
	}

	in := models.SlotInput{
		Title:                  title,
		EstimatedDurationHours: hours,
		Priority:               req.Anomaly.Priority,
		WindowType:             window,
	}
	if req.Anomaly.ID != "" {
		id := req.Anomaly.ID
		in.AnomalyID = &id
	}
	return in, nil
}

// startOn returns the wall-clock time of day on day, so slots keep their
// local start across DST changes.
func (c *CompositeScheduler) startOn(day time.Time, tod time.Duration) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		int(tod/time.Hour), int(tod%time.Hour/time.Minute), int(tod%time.Minute/time.Second), 0, c.loc)
}

// uniqueDays collapses dates to calendar days, keeping first-seen order.
func (c *CompositeScheduler) uniqueDays(dates []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		day := models.StartOfDay(d, c.loc)
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, day)
	}
	return out
}

func (c *CompositeScheduler) checkDate(day, start, end time.Time, periods []models.MaintenancePeriod, now time.Time) (string, error) {
	p, ok := slots.AvailablePeriodFor(day, periods, now, c.loc)
	if !ok {
		return "", &slots.ValidationError{
			Field:  "dates",
			Reason: fmt.Sprintf("%s is not within an available maintenance period", day.Format("2006-01-02")),
		}
	}
	if !p.ContainsRange(start, end, c.loc) {
		return "", &slots.ValidationError{
			Field:  "dates",
			Reason: fmt.Sprintf("slot on %s runs past the end of period %s", day.Format("2006-01-02"), p.ID),
		}
	}
	return p.ID, nil
}

func (c *CompositeScheduler) fail(created []models.Slot, day time.Time, index, total int, cause error) error {
	failure := &slots.PartialBatchFailure{
		Created:    created,
		FailedDate: day,
		Index:      index,
		Total:      total,
		Cause:      cause,
	}

	if c.policy == BatchPolicyCompensate && len(created) > 0 {
		// The caller may have gone away; compensation still has to run.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var rollbackErrs []error
		for i := len(created) - 1; i >= 0; i-- {
			if err := c.store.DeleteSlot(ctx, created[i].ID); err != nil {
				rollbackErrs = append(rollbackErrs, fmt.Errorf("delete %s: %w", created[i].ID, err))
				continue
			}
			failure.RolledBack = append(failure.RolledBack, created[i].ID)
		}
		if len(rollbackErrs) > 0 {
			failure.RollbackErr = errors.Join(rollbackErrs...)
		}
	}

	c.logger.Warn().
		Err(cause).
		Str("failed_date", day.Format("2006-01-02")).
		Int("created", len(created)).
		Int("rolled_back", len(failure.RolledBack)).
		Str("policy", c.policy.String()).
		Msg("composite booking failed")
	return failure
}
