/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"math"

	"github.com/friendsincode/anomalyops/internal/models"
)

// DefaultCapacityMW is the site generation capacity used when none is configured.
const DefaultCapacityMW = 315.0

// Impact is the generation lost over a downtime window.
type Impact struct {
	Hours float64 `json:"hours"`
	MW    float64 `json:"mw"`
	GWh   float64 `json:"gwh"`
}

// Estimator converts downtime hours into lost capacity for one site.
type Estimator struct {
	CapacityMW float64
}

// NewEstimator returns an estimator, falling back to DefaultCapacityMW for non-positive input.
func NewEstimator(capacityMW float64) Estimator {
	if capacityMW <= 0 {
		capacityMW = DefaultCapacityMW
	}
	return Estimator{CapacityMW: capacityMW}
}

// LostCapacityMW is hours times the site capacity.
func (e Estimator) LostCapacityMW(hours float64) float64 {
	return hours * e.CapacityMW
}

// LostCapacityGWh is LostCapacityMW scaled to GWh.
func (e Estimator) LostCapacityGWh(hours float64) float64 {
	return e.LostCapacityMW(hours) / 1000
}

// Estimate returns the impact of hours of downtime.
func (e Estimator) Estimate(hours float64) (Impact, error) {
	if math.IsNaN(hours) || math.IsInf(hours, 0) {
		return Impact{}, invalid("hours", "must be a finite number", ErrInvalidDuration)
	}
	if hours < 0 {
		return Impact{}, invalid("hours", "must not be negative", nil)
	}
	return Impact{
		Hours: hours,
		MW:    e.LostCapacityMW(hours),
		GWh:   e.LostCapacityGWh(hours),
	}, nil
}

// EstimatePeriod returns the impact of a whole maintenance period.
func (e Estimator) EstimatePeriod(p *models.MaintenancePeriod) (Impact, error) {
	if err := p.Validate(); err != nil {
		return Impact{}, invalid("period", err.Error(), err)
	}
	return e.Estimate(float64(p.DurationHours()))
}

// EstimateSlot returns the impact of a booked slot.
func (e Estimator) EstimateSlot(s *models.Slot) (Impact, error) {
	return e.Estimate(s.EstimatedDurationHours)
}
