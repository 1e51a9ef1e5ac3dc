/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/anomalyops/internal/events"
	"github.com/friendsincode/anomalyops/internal/models"
)

// Subscriber is the part of the event bus the audit trail listens on.
type Subscriber interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// actions maps audited events to their recorded action.
var actions = map[events.EventType]models.AuditAction{
	events.EventSlotCreated:       models.AuditActionSlotCreate,
	events.EventSlotDeleted:       models.AuditActionSlotDelete,
	events.EventSlotOverride:      models.AuditActionSlotOverride,
	events.EventSlotBatchFailed:   models.AuditActionBatchFailure,
	events.EventPeriodUpdated:     models.AuditActionPeriodUpdate,
	events.EventScheduleSuggested: models.AuditActionScheduleAdvice,
}

// Service handles audit logging by subscribing to events and storing audit entries.
// Events relayed from other instances are skipped; their origin records them.
type Service struct {
	db     *gorm.DB
	bus    Subscriber
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus Subscriber, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

type subscription struct {
	eventType events.EventType
	ch        events.Subscriber
}

// Start subscribes to booking events and logs them until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	merged := make(chan struct {
		action  models.AuditAction
		payload events.Payload
	})

	subs := make([]subscription, 0, len(actions))
	for eventType := range actions {
		subs = append(subs, subscription{eventType: eventType, ch: s.bus.Subscribe(eventType)})
	}
	defer func() {
		for _, sub := range subs {
			s.bus.Unsubscribe(sub.eventType, sub.ch)
		}
	}()

	for _, sub := range subs {
		go func(sub subscription) {
			action := actions[sub.eventType]
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub.ch:
					if !ok {
						return
					}
					select {
					case merged <- struct {
						action  models.AuditAction
						payload events.Payload
					}{action, payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(sub)
	}

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return
		case ev := <-merged:
			if ev.payload.Remote() {
				continue
			}
			s.logAuditEntry(ctx, ev.action, ev.payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		Action:  action,
		Details: make(map[string]any),
	}

	if slotID, ok := payload["slot_id"].(string); ok {
		entry.SlotID = slotID
	}
	if anomalyID, ok := payload["anomaly_id"].(string); ok {
		entry.AnomalyID = anomalyID
	}
	if periodID, ok := payload["period_id"].(string); ok {
		entry.PeriodID = periodID
	}

	// Copy remaining fields to details
	for k, v := range payload {
		switch k {
		case "slot_id", "anomaly_id", "period_id":
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	SlotID    string
	AnomalyID string
	Action    models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs with filters, most recent first.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.SlotID != "" {
		query = query.Where("slot_id = ?", filters.SlotID)
	}
	if filters.AnomalyID != "" {
		query = query.Where("anomaly_id = ?", filters.AnomalyID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100) // Default limit
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
