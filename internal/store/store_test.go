package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/anomalyops/internal/lock"
	"github.com/friendsincode/anomalyops/internal/models"
	"github.com/friendsincode/anomalyops/internal/slots"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.MaintenancePeriod{}, &models.Anomaly{}, &models.Slot{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return New(db, lock.NewLocalLocker(), time.UTC, zerolog.Nop())
}

var day0 = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func input(title string, start time.Time, hours float64, priority models.AnomalyPriority, window models.WindowType) models.SlotInput {
	return models.SlotInput{
		Title:                  title,
		EstimatedDurationHours: hours,
		Priority:               priority,
		WindowType:             window,
		ScheduledAt:            start,
	}
}

func TestCreateSlotAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSlot(ctx, input("pump seal", day0.Add(9*time.Hour), 2, models.PriorityMedium, ""))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	if created.ID == "" || created.Status != models.SlotScheduled || created.WindowType != models.WindowPlanned {
		t.Fatalf("unexpected slot %+v", created)
	}

	got, err := s.ListSlots(ctx, day0, day0.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}
	if len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("unexpected slots %+v", got)
	}

	// a window ending exactly at the slot start does not intersect it
	got, err = s.ListSlots(ctx, day0, day0.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no slots before 09:00, got %d", len(got))
	}
}

func TestCreateSlotRejectsOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSlot(ctx, input("existing", day0.Add(9*time.Hour), 2, models.PriorityLow, models.WindowPlanned)); err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	_, err := s.CreateSlot(ctx, input("candidate", day0.Add(10*time.Hour), 2, models.PriorityMedium, models.WindowPlanned))
	var conflict *slots.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(conflict.Conflicts) != 1 || conflict.Conflicts[0].OverlapMinutes != 60 {
		t.Fatalf("unexpected conflicts %+v", conflict.Conflicts)
	}

	// back-to-back is fine
	if _, err := s.CreateSlot(ctx, input("adjacent", day0.Add(11*time.Hour), 1, models.PriorityMedium, models.WindowPlanned)); err != nil {
		t.Fatalf("adjacent slot rejected: %v", err)
	}
}

func TestCreateSlotOverride(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSlot(ctx, input("routine", day0.Add(9*time.Hour), 2, models.PriorityLow, models.WindowPlanned)); err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	if _, err := s.CreateSlot(ctx, input("emergency", day0.Add(14*time.Hour), 2, models.PriorityMedium, models.WindowEmergency)); err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	in := input("urgent", day0.Add(10*time.Hour), 1, models.PriorityCritical, models.WindowEmergency)
	in.AllowOverlap = true
	slot, err := s.CreateSlot(ctx, in)
	if err != nil {
		t.Fatalf("override over unprotected slot: %v", err)
	}
	if !slot.OverridesExisting {
		t.Fatal("expected overrides_existing to be stored")
	}

	// protected slots are never overridden
	in = input("urgent-2", day0.Add(15*time.Hour), 1, models.PriorityCritical, models.WindowEmergency)
	in.AllowOverlap = true
	var conflict *slots.ConflictError
	if _, err := s.CreateSlot(ctx, in); !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for protected slot, got %v", err)
	}
}

func TestCreateSlotValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   models.SlotInput
	}{
		{"empty title", input(" ", day0, 1, models.PriorityLow, "")},
		{"zero duration", input("x", day0, 0, models.PriorityLow, "")},
		{"bad priority", input("x", day0, 1, "urgent", "")},
		{"bad window", input("x", day0, 1, models.PriorityLow, "weekend")},
		{"no start", input("x", time.Time{}, 1, models.PriorityLow, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var verr *slots.ValidationError
			if _, err := s.CreateSlot(ctx, tt.in); !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestCancelledSlotsDoNotBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateSlot(ctx, input("first", day0.Add(9*time.Hour), 2, models.PriorityLow, ""))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	if err := s.db.Model(&models.Slot{}).Where("id = ?", first.ID).Update("status", models.SlotCancelled).Error; err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := s.CreateSlot(ctx, input("second", day0.Add(9*time.Hour), 2, models.PriorityLow, "")); err != nil {
		t.Fatalf("slot over cancelled slot rejected: %v", err)
	}
}

func TestConcurrentBookingsOfSameWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateSlot(ctx, input(fmt.Sprintf("caller-%d", i), day0.Add(10*time.Hour), 3, models.PriorityMedium, ""))
			mu.Lock()
			defer mu.Unlock()
			var conflict *slots.ConflictError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &conflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || conflicts != callers-1 {
		t.Fatalf("succeeded=%d conflicts=%d", succeeded, conflicts)
	}
}

func TestDeleteSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	slot, err := s.CreateSlot(ctx, input("x", day0.Add(8*time.Hour), 1, models.PriorityLow, ""))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	if err := s.DeleteSlot(ctx, slot.ID); err != nil {
		t.Fatalf("DeleteSlot: %v", err)
	}
	if err := s.DeleteSlot(ctx, slot.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPeriodsAndAnomalies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	late := &models.MaintenancePeriod{Title: "late", StartsAt: day0.AddDate(0, 0, 10), EndsAt: day0.AddDate(0, 0, 12), Status: models.PeriodAvailable, Type: models.PeriodTypeMaintenance}
	early := &models.MaintenancePeriod{Title: "early", StartsAt: day0, EndsAt: day0.AddDate(0, 0, 2), Status: models.PeriodAvailable, Type: models.PeriodTypeRepair}
	for _, p := range []*models.MaintenancePeriod{late, early} {
		if err := s.SaveMaintenancePeriod(ctx, p); err != nil {
			t.Fatalf("SaveMaintenancePeriod: %v", err)
		}
	}
	bad := &models.MaintenancePeriod{Title: "bad", StartsAt: day0, EndsAt: day0.Add(-time.Hour)}
	var verr *slots.ValidationError
	if err := s.SaveMaintenancePeriod(ctx, bad); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	periods, err := s.ListMaintenancePeriods(ctx)
	if err != nil {
		t.Fatalf("ListMaintenancePeriods: %v", err)
	}
	if len(periods) != 2 || periods[0].Title != "early" {
		t.Fatalf("unexpected periods %+v", periods)
	}
	if _, err := s.GetMaintenancePeriod(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	critical := &models.Anomaly{Title: "turbine vibration", Priority: models.PriorityCritical, EstimatedDurationHours: 6}
	resolved := &models.Anomaly{Title: "old", Priority: models.PriorityCritical, Status: models.AnomalyResolved}
	low := &models.Anomaly{Title: "paint", Priority: models.PriorityLow}
	for _, a := range []*models.Anomaly{critical, resolved, low} {
		if err := s.SaveAnomaly(ctx, a); err != nil {
			t.Fatalf("SaveAnomaly: %v", err)
		}
	}

	open, err := s.ListCriticalOpenAnomalies(ctx)
	if err != nil {
		t.Fatalf("ListCriticalOpenAnomalies: %v", err)
	}
	if len(open) != 1 || open[0].ID != critical.ID {
		t.Fatalf("unexpected anomalies %+v", open)
	}

	got, err := s.GetAnomaly(ctx, critical.ID)
	if err != nil || got.EstimatedDurationHours != 6 {
		t.Fatalf("GetAnomaly = %+v, %v", got, err)
	}

	in := input("repair", day0.Add(8*time.Hour), 6, models.PriorityCritical, "")
	in.AnomalyID = &critical.ID
	if _, err := s.CreateSlot(ctx, in); err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	active, err := s.ListActiveSlotsForAnomaly(ctx, critical.ID)
	if err != nil || len(active) != 1 {
		t.Fatalf("ListActiveSlotsForAnomaly = %d, %v", len(active), err)
	}
}
