package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/anomalyops/internal/models"
	"github.com/friendsincode/anomalyops/internal/slots"
)

type fakeStore struct {
	mu        sync.Mutex
	periods   []models.MaintenancePeriod
	anomalies map[string]models.Anomaly
	slots     []models.Slot
	nextID    int

	createCalls int
	createErr   map[string]error // keyed by YYYY-MM-DD
	deleteErr   error
	deleted     []string
}

func newFakeStore(periods ...models.MaintenancePeriod) *fakeStore {
	return &fakeStore{
		periods:   periods,
		anomalies: map[string]models.Anomaly{},
		createErr: map[string]error{},
	}
}

func (f *fakeStore) ListMaintenancePeriods(context.Context) ([]models.MaintenancePeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MaintenancePeriod(nil), f.periods...), nil
}

func (f *fakeStore) GetMaintenancePeriod(_ context.Context, id string) (*models.MaintenancePeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.periods {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("period %s: not found", id)
}

func (f *fakeStore) SaveMaintenancePeriod(_ context.Context, p *models.MaintenancePeriod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := p.Validate(); err != nil {
		return &slots.ValidationError{Field: "period", Reason: err.Error(), Err: err}
	}
	for i := range f.periods {
		if f.periods[i].ID == p.ID {
			f.periods[i] = *p
			return nil
		}
	}
	f.periods = append(f.periods, *p)
	return nil
}

func (f *fakeStore) SaveAnomaly(_ context.Context, a *models.Anomaly) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anomalies[a.ID] = *a
	return nil
}

func (f *fakeStore) ListCriticalOpenAnomalies(context.Context) ([]models.Anomaly, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Anomaly
	for _, a := range f.anomalies {
		if a.Priority == models.PriorityCritical && a.Status == models.AnomalyOpen {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAnomaly(_ context.Context, id string) (*models.Anomaly, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.anomalies[id]
	if !ok {
		return nil, fmt.Errorf("anomaly %s: not found", id)
	}
	return &a, nil
}

func (f *fakeStore) ListSlots(_ context.Context, from, to time.Time) ([]models.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Slot
	for _, s := range f.slots {
		if s.Active() && s.ScheduledAt.Before(to) && s.EndsAt().After(from) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActiveSlotsForAnomaly(_ context.Context, anomalyID string) ([]models.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Slot
	for _, s := range f.slots {
		if s.Active() && s.AnomalyID != nil && *s.AnomalyID == anomalyID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateSlot(_ context.Context, in models.SlotInput) (*models.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if err := f.createErr[in.ScheduledAt.UTC().Format("2006-01-02")]; err != nil {
		return nil, err
	}

	candidate := slots.NewInterval(in.ScheduledAt, in.EstimatedDurationHours)
	conflicts, err := slots.DetectConflicts(candidate, f.slots)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 && !in.AllowOverlap {
		return nil, &slots.ConflictError{Candidate: candidate, Conflicts: conflicts}
	}

	f.nextID++
	s := models.Slot{
		ID:                     fmt.Sprintf("slot-%d", f.nextID),
		Title:                  in.Title,
		AnomalyID:              in.AnomalyID,
		MaintenancePeriodID:    in.MaintenancePeriodID,
		ScheduledAt:            in.ScheduledAt,
		EstimatedDurationHours: in.EstimatedDurationHours,
		Priority:               in.Priority,
		WindowType:             in.WindowType,
		Status:                 models.SlotScheduled,
		OverridesExisting:      in.AllowOverlap,
	}
	f.slots = append(f.slots, s)
	return &s, nil
}

func (f *fakeStore) DeleteSlot(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, s := range f.slots {
		if s.ID == id {
			f.slots = append(f.slots[:i], f.slots[i+1:]...)
			f.deleted = append(f.deleted, id)
			return nil
		}
	}
	return fmt.Errorf("slot %s: not found", id)
}

func (f *fakeStore) slotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.slots)
}
