package slots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/anomalyops/internal/models"
)

func TestSuggestDatesRanksNearestFirst(t *testing.T) {
	now := at(0, 10, 0)
	periods := []models.MaintenancePeriod{
		period("p1", at(2, 0, 0), at(10, 0, 0), models.PeriodAvailable),
	}

	got, err := newTestFinder().SuggestDates(context.Background(), SuggestRequest{
		Priority: models.PriorityCritical,
		Duration: 4 * time.Hour,
		Now:      now,
		Periods:  periods,
	})
	if err != nil {
		t.Fatalf("SuggestDates: %v", err)
	}
	if len(got) != DefaultMaxSuggestions {
		t.Fatalf("expected %d suggestions, got %d", DefaultMaxSuggestions, len(got))
	}
	for i, s := range got {
		if s.DayOffset != i+2 {
			t.Errorf("suggestion %d offset = %d, want %d", i, s.DayOffset, i+2)
		}
		if s.PeriodID != "p1" {
			t.Errorf("suggestion %d period = %q", i, s.PeriodID)
		}
	}
}

func TestSuggestDatesOrderingAcrossPeriods(t *testing.T) {
	now := at(0, 10, 0)
	periods := []models.MaintenancePeriod{
		period("later", at(5, 0, 0), at(5, 0, 0), models.PeriodAvailable),
		period("sooner", at(2, 0, 0), at(2, 0, 0), models.PeriodAvailable),
	}

	got, err := newTestFinder().SuggestDates(context.Background(), SuggestRequest{
		Priority: models.PriorityCritical,
		Duration: 2 * time.Hour,
		Now:      now,
		Periods:  periods,
	})
	if err != nil {
		t.Fatalf("SuggestDates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(got))
	}
	if got[0].DayOffset != 2 || got[1].DayOffset != 5 {
		t.Errorf("unexpected order: %d, %d", got[0].DayOffset, got[1].DayOffset)
	}
	if got[0].UrgencyScore != 2 || got[1].UrgencyScore != 5 {
		t.Errorf("unexpected scores: %v, %v", got[0].UrgencyScore, got[1].UrgencyScore)
	}
}

func TestSuggestDatesWeightsByPriority(t *testing.T) {
	now := at(0, 10, 0)
	periods := []models.MaintenancePeriod{period("p1", at(3, 0, 0), at(3, 0, 0), models.PeriodAvailable)}

	tests := []struct {
		priority models.AnomalyPriority
		want     float64
	}{
		{models.PriorityCritical, 3},
		{models.PriorityMedium, 6},
		{models.PriorityLow, 9},
	}

	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			got, err := newTestFinder().SuggestDates(context.Background(), SuggestRequest{
				Priority: tt.priority,
				Duration: time.Hour,
				Now:      now,
				Periods:  periods,
			})
			if err != nil {
				t.Fatalf("SuggestDates: %v", err)
			}
			if len(got) != 1 || got[0].UrgencyScore != tt.want {
				t.Fatalf("unexpected suggestions %+v", got)
			}
		})
	}
}

func TestSuggestDatesSkipsUnavailableAndReportsOccupancy(t *testing.T) {
	now := at(0, 10, 0)
	periods := []models.MaintenancePeriod{
		period("past", at(-3, 0, 0), at(-1, 0, 0), models.PeriodAvailable),
		period("booked", at(1, 0, 0), at(1, 0, 0), models.PeriodBooked),
		period("open", at(0, 0, 0), at(0, 0, 0), models.PeriodAvailable),
		period("beyond", at(40, 0, 0), at(41, 0, 0), models.PeriodAvailable),
	}
	existing := []models.Slot{slot("a", at(0, 14, 0), 2, models.PriorityCritical, models.WindowPlanned)}

	got, err := newTestFinder().SuggestDates(context.Background(), SuggestRequest{
		Priority: models.PriorityLow,
		Duration: 3 * time.Hour,
		Now:      now,
		Periods:  periods,
		Existing: existing,
	})
	if err != nil {
		t.Fatalf("SuggestDates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only today, got %+v", got)
	}
	if got[0].PeriodID != "open" || got[0].SlotCount != 1 || !got[0].HasCriticalSlot {
		t.Errorf("unexpected suggestion %+v", got[0])
	}
}

func TestSuggestDatesValidation(t *testing.T) {
	finder := newTestFinder()

	_, err := finder.SuggestDates(context.Background(), SuggestRequest{Priority: "urgent", Duration: time.Hour, Now: at(0, 0, 0)})
	if !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("expected ErrInvalidPriority, got %v", err)
	}

	_, err = finder.SuggestDates(context.Background(), SuggestRequest{Priority: models.PriorityLow, Duration: -time.Hour, Now: at(0, 0, 0)})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
