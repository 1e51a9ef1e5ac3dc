/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/anomalyops/internal/events"
	"github.com/friendsincode/anomalyops/internal/slots"
	"github.com/friendsincode/anomalyops/internal/telemetry"
)

// Run publishes earliest-slot suggestions for unscheduled critical anomalies
// until the context is cancelled. It never books anything.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("advisor loop started")
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("advisor loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	anomalies, err := s.store.ListCriticalOpenAnomalies(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("advisor failed to load critical anomalies")
		return
	}

	pending := make(map[string]struct{}, len(anomalies))
	for _, a := range anomalies {
		if ctx.Err() != nil {
			return
		}
		if a.EstimatedDurationHours <= 0 {
			s.logger.Debug().Str("anomaly_id", a.ID).Msg("skipping anomaly without duration estimate")
			continue
		}

		active, err := s.store.ListActiveSlotsForAnomaly(ctx, a.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("anomaly_id", a.ID).Msg("advisor failed to load slots")
			continue
		}
		if len(active) > 0 {
			continue
		}
		pending[a.ID] = struct{}{}

		suggestion, err := s.FindEarliestSlot(ctx, a.EstimatedDurationHours)
		if errors.Is(err, slots.ErrNotFound) {
			s.logger.Warn().Str("anomaly_id", a.ID).Msg("no slot within horizon for critical anomaly")
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("anomaly_id", a.ID).Msg("advisor search failed")
			continue
		}
		if !s.markAdvised(a.ID, suggestion.Start) {
			continue
		}

		telemetry.AdvisorSuggestions.Inc()
		s.bus.Publish(events.EventScheduleSuggested, events.Payload{
			"anomaly_id":         a.ID,
			"start":              suggestion.Start.Format(time.RFC3339),
			"hours":              a.EstimatedDurationHours,
			"is_immediate":       suggestion.IsImmediate,
			"overrides_existing": suggestion.OverridesExisting,
		})
		s.logger.Info().
			Str("anomaly_id", a.ID).
			Time("start", suggestion.Start).
			Bool("override", suggestion.OverridesExisting).
			Msg("suggested slot for critical anomaly")
	}

	s.forgetAdvised(pending)
}

// markAdvised records the suggestion and reports whether it changed.
func (s *Service) markAdvised(anomalyID string, start time.Time) bool {
	s.adviseMu.Lock()
	defer s.adviseMu.Unlock()
	if prev, ok := s.advised[anomalyID]; ok && prev.Equal(start) {
		return false
	}
	s.advised[anomalyID] = start
	return true
}

func (s *Service) forgetAdvised(pending map[string]struct{}) {
	s.adviseMu.Lock()
	defer s.adviseMu.Unlock()
	for id := range s.advised {
		if _, ok := pending[id]; !ok {
			delete(s.advised, id)
		}
	}
}
