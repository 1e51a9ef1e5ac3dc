/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited booking action.
type AuditAction string

const (
	AuditActionSlotCreate     AuditAction = "slot.create"
	AuditActionSlotDelete     AuditAction = "slot.delete"
	AuditActionSlotOverride   AuditAction = "slot.override"
	AuditActionBatchFailure   AuditAction = "slot.batch_failure"
	AuditActionPeriodUpdate   AuditAction = "period.update"
	AuditActionScheduleAdvice AuditAction = "schedule.advice"
)

// AuditLog records booking decisions, overrides in particular, for later review.
type AuditLog struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp time.Time      `gorm:"index:idx_audit_timestamp;not null" json:"timestamp"`
	Action    AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null" json:"action"`
	SlotID    string         `gorm:"type:varchar(36);index:idx_audit_slot" json:"slot_id,omitempty"`
	AnomalyID string         `gorm:"type:varchar(36);index:idx_audit_anomaly" json:"anomaly_id,omitempty"`
	PeriodID  string         `gorm:"type:varchar(36)" json:"period_id,omitempty"`
	Details   map[string]any `gorm:"type:text;serializer:json" json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "booking_audit_logs"
}
