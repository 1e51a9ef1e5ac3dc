/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/anomalyops/internal/cache"
	"github.com/friendsincode/anomalyops/internal/events"
	"github.com/friendsincode/anomalyops/internal/models"
	"github.com/friendsincode/anomalyops/internal/slots"
	"github.com/friendsincode/anomalyops/internal/telemetry"
)

// Store is everything the service reads and writes.
type Store interface {
	SlotWriter
	ListMaintenancePeriods(ctx context.Context) ([]models.MaintenancePeriod, error)
	SaveMaintenancePeriod(ctx context.Context, p *models.MaintenancePeriod) error
	SaveAnomaly(ctx context.Context, a *models.Anomaly) error
	GetMaintenancePeriod(ctx context.Context, id string) (*models.MaintenancePeriod, error)
	ListCriticalOpenAnomalies(ctx context.Context) ([]models.Anomaly, error)
	GetAnomaly(ctx context.Context, id string) (*models.Anomaly, error)
	ListSlots(ctx context.Context, from, to time.Time) ([]models.Slot, error)
	ListActiveSlotsForAnomaly(ctx context.Context, anomalyID string) ([]models.Slot, error)
}

// Options configures the service.
type Options struct {
	Rules       slots.Rules
	CapacityMW  float64
	BatchPolicy BatchPolicy
	// AdvisorInterval is the Run loop period.
	AdvisorInterval time.Duration
	// Now overrides the wall clock.
	Now func() time.Time
}

// Service answers placement questions from freshly loaded store state and
// books slots through the store.
type Service struct {
	store     Store
	finder    *slots.Finder
	estimator slots.Estimator
	composite *CompositeScheduler
	cache     *cache.Cache
	bus       events.Publisher
	logger    zerolog.Logger
	interval  time.Duration
	now       func() time.Time

	adviseMu sync.Mutex
	advised  map[string]time.Time
}

// New constructs the scheduling service.
func New(store Store, opts Options, logger zerolog.Logger) *Service {
	if opts.AdvisorInterval <= 0 {
		opts.AdvisorInterval = 5 * time.Minute
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	if opts.Now == nil {
		opts.Now = time.Now
	}
	loc := opts.Rules.Location
	if loc == nil {
		loc = time.UTC
		opts.Rules.Location = loc
	}
	return &Service{
		store:     store,
		finder:    slots.NewFinder(opts.Rules),
		estimator: slots.NewEstimator(opts.CapacityMW),
		composite: NewCompositeScheduler(store, opts.BatchPolicy, loc, logger),
		bus:       events.NewBus(),
		logger:    logger,
		interval:  opts.AdvisorInterval,
		now:       opts.Now,
		advised:   make(map[string]time.Time),
	}
}

// SetCache sets the period cache.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// SetPublisher sets where domain events go.
func (s *Service) SetPublisher(p events.Publisher) {
	if p != nil {
		s.bus = p
	}
}

// Rules returns the placement rules in use.
func (s *Service) Rules() slots.Rules {
	return s.finder.Rules()
}

// Location returns the site timezone.
func (s *Service) Location() *time.Location {
	return s.finder.Rules().Location
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// FindEarliestSlot returns the earliest placement for a repair of the given hours.
func (s *Service) FindEarliestSlot(ctx context.Context, hours float64) (*slots.Suggestion, error) {
	ctx, span := telemetry.StartSchedulingSpan(ctx, "find_earliest", map[string]any{"hours": hours})
	defer span.End()
	start := time.Now()
	defer func() { telemetry.SlotSearchDuration.WithLabelValues("earliest").Observe(time.Since(start).Seconds()) }()

	suggestion, err := s.findEarliest(ctx, hours)
	switch {
	case err == nil && suggestion.OverridesExisting:
		telemetry.SlotSearchResults.WithLabelValues("override").Inc()
	case err == nil:
		telemetry.SlotSearchResults.WithLabelValues("free").Inc()
	case errors.Is(err, slots.ErrNotFound):
		telemetry.SlotSearchResults.WithLabelValues("not_found").Inc()
	default:
		telemetry.SlotSearchResults.WithLabelValues("error").Inc()
		telemetry.RecordError(span, err)
	}
	return suggestion, err
}

func (s *Service) findEarliest(ctx context.Context, hours float64) (*slots.Suggestion, error) {
	if hours <= 0 {
		return nil, &slots.ValidationError{Field: "hours", Reason: "must be positive", Err: slots.ErrInvalidDuration}
	}
	now := s.now()
	rules := s.finder.Rules()
	from := models.StartOfDay(now, rules.Location)
	existing, err := s.store.ListSlots(ctx, from, from.AddDate(0, 0, rules.HorizonDays+1))
	if err != nil {
		return nil, err
	}
	return s.finder.FindEarliest(ctx, slots.Request{
		Duration: models.HoursToDuration(hours),
		Now:      now,
		Existing: existing,
	})
}

// SuggestDates ranks the next days for a repair of the given priority and hours.
func (s *Service) SuggestDates(ctx context.Context, priority models.AnomalyPriority, hours float64) ([]slots.DateSuggestion, error) {
	ctx, span := telemetry.StartSchedulingSpan(ctx, "suggest_dates", map[string]any{
		"priority": priority,
		"hours":    hours,
	})
	defer span.End()
	start := time.Now()
	defer func() { telemetry.SlotSearchDuration.WithLabelValues("suggest").Observe(time.Since(start).Seconds()) }()

	if hours <= 0 {
		return nil, &slots.ValidationError{Field: "hours", Reason: "must be positive", Err: slots.ErrInvalidDuration}
	}

	now := s.now()
	rules := s.finder.Rules()
	periods, err := s.periods(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	from := models.StartOfDay(now, rules.Location)
	existing, err := s.store.ListSlots(ctx, from, from.AddDate(0, 0, rules.SuggestionDays+1))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	out, err := s.finder.SuggestDates(ctx, slots.SuggestRequest{
		Priority: priority,
		Duration: models.HoursToDuration(hours),
		Now:      now,
		Periods:  periods,
		Existing: existing,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.AnnotateSpan(span, map[string]any{"suggestions": len(out)})
	return out, nil
}

// ScheduleAcrossDates books one slot per date for a composite repair.
func (s *Service) ScheduleAcrossDates(ctx context.Context, req CompositeRequest) ([]models.Slot, error) {
	ctx, span := telemetry.StartSchedulingSpan(ctx, "schedule_across_dates", map[string]any{
		"anomaly_id": req.Anomaly.ID,
		"dates":      len(req.Dates),
	})
	defer span.End()

	periods, err := s.periods(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	created, err := s.composite.Schedule(ctx, req, periods, s.now())

	var partial *slots.PartialBatchFailure
	switch {
	case err == nil:
		telemetry.CompositeBatches.WithLabelValues("complete").Inc()
		for i := range created {
			s.slotCreated(&created[i])
		}
		return created, nil
	case errors.As(err, &partial):
		outcome := "partial"
		if len(partial.RolledBack) > 0 {
			outcome = "compensated"
		}
		telemetry.CompositeBatches.WithLabelValues(outcome).Inc()
		for i := range partial.Created {
			if !slices.Contains(partial.RolledBack, partial.Created[i].ID) {
				s.slotCreated(&partial.Created[i])
			}
		}
		s.bus.Publish(events.EventSlotBatchFailed, events.Payload{
			"anomaly_id":  req.Anomaly.ID,
			"failed_date": partial.FailedDate.Format("2006-01-02"),
			"created":     partial.Succeeded(),
			"rolled_back": len(partial.RolledBack),
			"total":       partial.Total,
			"error":       partial.Cause.Error(),
		})
		var conflict *slots.ConflictError
		if errors.As(err, &conflict) {
			telemetry.SlotConflicts.Inc()
		}
	}
	telemetry.RecordError(span, err)
	return nil, err
}

// BookEarliest finds the earliest placement for an anomaly and books it.
// An override placement is booked alongside the displaced slots.
func (s *Service) BookEarliest(ctx context.Context, anomalyID string) (*models.Slot, *slots.Suggestion, error) {
	ctx, span := telemetry.StartSchedulingSpan(ctx, "book_earliest", map[string]any{"anomaly_id": anomalyID})
	defer span.End()

	anomaly, err := s.store.GetAnomaly(ctx, anomalyID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	suggestion, err := s.FindEarliestSlot(ctx, anomaly.EstimatedDurationHours)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}

	window := models.WindowPlanned
	if anomaly.Priority == models.PriorityCritical {
		window = models.WindowEmergency
	}
	title := anomaly.Title
	if title == "" {
		title = "Repair " + anomaly.ID
	}

	in := models.SlotInput{
		Title:                  title,
		AnomalyID:              &anomaly.ID,
		EstimatedDurationHours: anomaly.EstimatedDurationHours,
		Priority:               anomaly.Priority,
		WindowType:             window,
		ScheduledAt:            suggestion.Start,
		AllowOverlap:           suggestion.OverridesExisting,
	}
	telemetry.AnnotateSpan(span, map[string]any{
		"priority":  anomaly.Priority,
		"window":    window,
		"start":     suggestion.Start,
		"duration":  suggestion.Duration,
		"overrides": suggestion.OverridesExisting,
	})
	periods, err := s.periods(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	if p, ok := slots.AvailablePeriodFor(suggestion.Start, periods, s.now(), s.Location()); ok {
		in.MaintenancePeriodID = &p.ID
	}

	slot, err := s.store.CreateSlot(ctx, in)
	if err != nil {
		var conflict *slots.ConflictError
		if errors.As(err, &conflict) {
			telemetry.SlotConflicts.Inc()
		}
		telemetry.RecordError(span, err)
		return nil, suggestion, err
	}
	s.slotCreated(slot)

	if suggestion.OverridesExisting {
		displaced := make([]string, 0, len(suggestion.Displaced))
		for _, d := range suggestion.Displaced {
			displaced = append(displaced, d.ID)
		}
		s.bus.Publish(events.EventSlotOverride, events.Payload{
			"slot_id":   slot.ID,
			"displaced": displaced,
		})
	}
	return slot, suggestion, nil
}

// Anomaly loads an anomaly.
func (s *Service) Anomaly(ctx context.Context, id string) (*models.Anomaly, error) {
	if s.cache != nil {
		if a, ok := s.cache.GetAnomaly(ctx, id); ok {
			return a, nil
		}
	}
	a, err := s.store.GetAnomaly(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.SetAnomaly(ctx, a)
	}
	return a, nil
}

// Periods lists maintenance periods.
func (s *Service) Periods(ctx context.Context) ([]models.MaintenancePeriod, error) {
	return s.periods(ctx)
}

// SavePeriod stores a maintenance period and announces the change so every
// instance drops its cached period list.
func (s *Service) SavePeriod(ctx context.Context, p *models.MaintenancePeriod) error {
	if err := s.store.SaveMaintenancePeriod(ctx, p); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.InvalidatePeriods(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("failed to invalidate period cache")
		}
	}
	s.bus.Publish(events.EventPeriodUpdated, events.Payload{
		"period_id": p.ID,
		"status":    string(p.Status),
	})
	return nil
}

// SaveAnomaly stores an anomaly and refreshes its cache entry.
func (s *Service) SaveAnomaly(ctx context.Context, a *models.Anomaly) error {
	if err := s.store.SaveAnomaly(ctx, a); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.SetAnomaly(ctx, a)
	}
	return nil
}

// DeleteSlot removes a slot and announces it.
func (s *Service) DeleteSlot(ctx context.Context, id string) error {
	if err := s.store.DeleteSlot(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(events.EventSlotDeleted, events.Payload{"slot_id": id})
	return nil
}

// EstimateDowntimeImpact converts hours of downtime into lost generation.
func (s *Service) EstimateDowntimeImpact(hours float64) (slots.Impact, error) {
	impact, err := s.estimator.Estimate(hours)
	if err != nil {
		return slots.Impact{}, err
	}
	telemetry.DowntimeEstimatedGWh.Observe(impact.GWh)
	return impact, nil
}

// EstimatePeriodImpact estimates the lost generation of a whole period.
func (s *Service) EstimatePeriodImpact(ctx context.Context, periodID string) (*models.MaintenancePeriod, slots.Impact, error) {
	p, err := s.store.GetMaintenancePeriod(ctx, periodID)
	if err != nil {
		return nil, slots.Impact{}, err
	}
	impact, err := s.estimator.EstimatePeriod(p)
	if err != nil {
		return nil, slots.Impact{}, err
	}
	telemetry.DowntimeEstimatedGWh.Observe(impact.GWh)
	return p, impact, nil
}

// Calendar returns per-day availability starting at from.
func (s *Service) Calendar(ctx context.Context, from time.Time, days int) ([]slots.CalendarDayAvailability, error) {
	if days <= 0 || days > 366 {
		return nil, &slots.ValidationError{Field: "days", Reason: "must be between 1 and 366"}
	}
	loc := s.Location()
	periods, err := s.periods(ctx)
	if err != nil {
		return nil, err
	}
	start := models.StartOfDay(from, loc)
	existing, err := s.store.ListSlots(ctx, start, start.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}
	return slots.Calendar(start, days, periods, existing, s.now(), loc), nil
}

// periods loads maintenance periods, preferring the cache.
func (s *Service) periods(ctx context.Context) ([]models.MaintenancePeriod, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetPeriods(ctx); ok {
			return cached, nil
		}
	}
	periods, err := s.store.ListMaintenancePeriods(ctx)
	if err != nil {
		return nil, fmt.Errorf("load maintenance periods: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetPeriods(ctx, periods); err != nil {
			s.logger.Debug().Err(err).Msg("failed to cache periods")
		}
	}
	return periods, nil
}

func (s *Service) slotCreated(slot *models.Slot) {
	telemetry.SlotsCreated.WithLabelValues(string(slot.Priority)).Inc()
	payload := events.Payload{
		"slot_id":      slot.ID,
		"scheduled_at": slot.ScheduledAt.Format(time.RFC3339),
		"hours":        slot.EstimatedDurationHours,
		"priority":     string(slot.Priority),
		"window_type":  string(slot.WindowType),
	}
	if slot.AnomalyID != nil {
		payload["anomaly_id"] = *slot.AnomalyID
	}
	s.bus.Publish(events.EventSlotCreated, payload)
	s.logger.Info().
		Str("slot_id", slot.ID).
		Time("scheduled_at", slot.ScheduledAt).
		Float64("hours", slot.EstimatedDurationHours).
		Msg("slot booked")
}
