/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/anomalyops/internal/cache"
	"github.com/friendsincode/anomalyops/internal/events"
	"github.com/friendsincode/anomalyops/internal/models"
	"github.com/friendsincode/anomalyops/internal/slots"
)

func newTestService(t *testing.T, store *fakeStore, at time.Time) (*Service, *events.Bus) {
	t.Helper()
	rules := slots.DefaultRules()
	rules.Location = time.UTC

	svc := New(store, Options{Rules: rules, CapacityMW: 315, AdvisorInterval: time.Hour}, zerolog.Nop())
	svc.now = func() time.Time { return at }
	svc.SetCache(cache.Disabled(zerolog.Nop()))
	bus := events.NewBus()
	svc.SetPublisher(bus)
	return svc, bus
}

func TestNewAppliesDefaults(t *testing.T) {
	svc := New(newFakeStore(), Options{}, zerolog.Nop())
	if svc.interval != 5*time.Minute {
		t.Errorf("interval = %v", svc.interval)
	}
	if svc.Location() != time.UTC {
		t.Errorf("location = %v", svc.Location())
	}
	if svc.estimator.CapacityMW != slots.DefaultCapacityMW {
		t.Errorf("capacity = %v", svc.estimator.CapacityMW)
	}
}

func TestServiceFindEarliestSlot(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store, day0.Add(8*time.Hour+10*time.Minute))

	got, err := svc.FindEarliestSlot(context.Background(), 3)
	if err != nil {
		t.Fatalf("FindEarliestSlot: %v", err)
	}
	if !got.Start.Equal(day0.Add(8*time.Hour)) || !got.IsImmediate {
		t.Fatalf("unexpected suggestion %+v", got)
	}

	if _, err := svc.FindEarliestSlot(context.Background(), 0); !errors.Is(err, slots.ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestServiceFindEarliestSeesSlotsFromStore(t *testing.T) {
	store := newFakeStore()
	store.slots = []models.Slot{{
		ID: "busy", Title: "busy", ScheduledAt: day0.Add(8 * time.Hour), EstimatedDurationHours: 4,
		Priority: models.PriorityCritical, WindowType: models.WindowPlanned, Status: models.SlotScheduled,
	}}
	svc, _ := newTestService(t, store, day0.Add(8*time.Hour))

	got, err := svc.FindEarliestSlot(context.Background(), 2)
	if err != nil {
		t.Fatalf("FindEarliestSlot: %v", err)
	}
	if !got.Start.Equal(day0.Add(12*time.Hour)) || got.OverridesExisting {
		t.Fatalf("unexpected suggestion %+v", got)
	}
}

func TestServiceBookEarliestOverride(t *testing.T) {
	store := newFakeStore(availablePeriod("p0", 0, 3))
	store.slots = []models.Slot{{
		ID: "routine", Title: "routine", ScheduledAt: day0.Add(8 * time.Hour), EstimatedDurationHours: 16,
		Priority: models.PriorityLow, WindowType: models.WindowPlanned, Status: models.SlotScheduled,
	}}
	store.anomalies["a1"] = models.Anomaly{ID: "a1", Title: "Transformer fault", Priority: models.PriorityCritical, Status: models.AnomalyOpen, EstimatedDurationHours: 2}
	svc, bus := newTestService(t, store, day0.Add(8*time.Hour))
	overrides := bus.Subscribe(events.EventSlotOverride)
	created := bus.Subscribe(events.EventSlotCreated)

	slot, suggestion, err := svc.BookEarliest(context.Background(), "a1")
	if err != nil {
		t.Fatalf("BookEarliest: %v", err)
	}
	if !suggestion.OverridesExisting || !slot.OverridesExisting {
		t.Fatalf("expected an override booking, got %+v", slot)
	}
	if slot.WindowType != models.WindowEmergency || slot.MaintenancePeriodID == nil || *slot.MaintenancePeriodID != "p0" {
		t.Fatalf("unexpected slot %+v", slot)
	}
	if store.slotCount() != 2 {
		t.Fatalf("displaced slot must be kept, have %d slots", store.slotCount())
	}

	select {
	case p := <-overrides:
		if ids, _ := p["displaced"].([]string); len(ids) != 1 || ids[0] != "routine" {
			t.Fatalf("unexpected override payload %v", p)
		}
	default:
		t.Fatal("expected override event")
	}
	select {
	case <-created:
	default:
		t.Fatal("expected slot.created event")
	}
}

func TestServiceSuggestDates(t *testing.T) {
	store := newFakeStore(availablePeriod("near", 2, 2), availablePeriod("far", 5, 5))
	svc, _ := newTestService(t, store, now0)

	got, err := svc.SuggestDates(context.Background(), models.PriorityCritical, 4)
	if err != nil {
		t.Fatalf("SuggestDates: %v", err)
	}
	if len(got) != 2 || got[0].PeriodID != "near" || got[1].PeriodID != "far" {
		t.Fatalf("unexpected suggestions %+v", got)
	}

	if _, err := svc.SuggestDates(context.Background(), models.PriorityLow, -1); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestServiceScheduleAcrossDatesPublishesEvents(t *testing.T) {
	store := newFakeStore(availablePeriod("p1", 1, 3))
	svc, bus := newTestService(t, store, now0)
	created := bus.Subscribe(events.EventSlotCreated)
	failed := bus.Subscribe(events.EventSlotBatchFailed)

	_, err := svc.ScheduleAcrossDates(context.Background(), CompositeRequest{
		Anomaly:   boilerAnomaly(),
		Dates:     []time.Time{day(1), day(9)},
		TimeOfDay: 8 * time.Hour,
	})
	var partial *slots.PartialBatchFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialBatchFailure, got %v", err)
	}

	select {
	case p := <-failed:
		if p["failed_date"] != day(9).Format("2006-01-02") || p["created"] != 1 {
			t.Fatalf("unexpected payload %v", p)
		}
	default:
		t.Fatal("expected batch failure event")
	}
	if len(created) != 1 {
		t.Fatalf("expected one slot.created event, got %d", len(created))
	}
}

func TestServiceEstimateDowntimeImpact(t *testing.T) {
	store := newFakeStore(models.MaintenancePeriod{
		ID: "p1", StartsAt: time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), EndsAt: time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC),
		Status: models.PeriodAvailable,
	})
	svc, _ := newTestService(t, store, now0)

	impact, err := svc.EstimateDowntimeImpact(168)
	if err != nil {
		t.Fatalf("EstimateDowntimeImpact: %v", err)
	}
	if math.Abs(impact.MW-52920) > 1e-9 || math.Abs(impact.GWh-52.92) > 1e-9 {
		t.Fatalf("unexpected impact %+v", impact)
	}

	p, impact, err := svc.EstimatePeriodImpact(context.Background(), "p1")
	if err != nil {
		t.Fatalf("EstimatePeriodImpact: %v", err)
	}
	if p.DurationHours() != 168 || math.Abs(impact.GWh-52.92) > 1e-9 {
		t.Fatalf("unexpected period impact %+v", impact)
	}
}

func TestServiceCalendar(t *testing.T) {
	store := newFakeStore(availablePeriod("p1", 1, 2))
	store.slots = []models.Slot{{
		ID: "s", Title: "s", ScheduledAt: day(1).Add(9 * time.Hour), EstimatedDurationHours: 2,
		Priority: models.PriorityCritical, WindowType: models.WindowPlanned, Status: models.SlotScheduled,
	}}
	svc, _ := newTestService(t, store, now0)

	days, err := svc.Calendar(context.Background(), day0, 4)
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	if len(days) != 4 {
		t.Fatalf("expected 4 days, got %d", len(days))
	}
	if days[0].Available || !days[1].Available || !days[2].Available || days[3].Available {
		t.Fatalf("unexpected availability %+v", days)
	}
	if len(days[1].Slots) != 1 || !days[1].HasCriticalSlot {
		t.Fatalf("unexpected day 1 %+v", days[1])
	}

	if _, err := svc.Calendar(context.Background(), day0, 0); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestServiceDeleteSlotPublishes(t *testing.T) {
	store := newFakeStore()
	store.slots = []models.Slot{{ID: "s1", Status: models.SlotScheduled, EstimatedDurationHours: 1}}
	svc, bus := newTestService(t, store, now0)
	deleted := bus.Subscribe(events.EventSlotDeleted)

	if err := svc.DeleteSlot(context.Background(), "s1"); err != nil {
		t.Fatalf("DeleteSlot: %v", err)
	}
	if p := <-deleted; p["slot_id"] != "s1" {
		t.Fatalf("unexpected payload %v", p)
	}
	if err := svc.DeleteSlot(context.Background(), "s1"); err == nil {
		t.Fatal("expected error for missing slot")
	}
}

func TestServiceSavePeriodPublishesUpdate(t *testing.T) {
	store := newFakeStore()
	svc, bus := newTestService(t, store, now0)
	updates := bus.Subscribe(events.EventPeriodUpdated)

	p := availablePeriod("p1", 1, 2)
	if err := svc.SavePeriod(context.Background(), &p); err != nil {
		t.Fatalf("SavePeriod: %v", err)
	}
	if got := <-updates; got["period_id"] != "p1" {
		t.Fatalf("unexpected payload %v", got)
	}

	periods, err := svc.Periods(context.Background())
	if err != nil || len(periods) != 1 {
		t.Fatalf("Periods = %v, %v", periods, err)
	}

	bad := availablePeriod("p2", 3, 1)
	var verr *slots.ValidationError
	if err := svc.SavePeriod(context.Background(), &bad); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(updates) != 0 {
		t.Fatal("rejected period must not be announced")
	}
}
