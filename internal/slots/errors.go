/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/anomalyops/internal/models"
)

var (
	// ErrNotFound indicates the earliest-slot scan exhausted its horizon.
	ErrNotFound = errors.New("no free slot within horizon")

	// ErrInvalidDuration indicates a non-positive requested duration.
	ErrInvalidDuration = errors.New("duration must be positive")

	// ErrInvalidPriority indicates an unknown anomaly priority.
	ErrInvalidPriority = errors.New("invalid priority")
)

// ValidationError rejects an input before any store call is made.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, reason string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}

// ConflictError reports a candidate interval overlapping existing slots.
type ConflictError struct {
	Candidate Interval
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	labels := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		labels = append(labels, fmt.Sprintf("%s (%d min)", slotLabel(c.Slot), c.OverlapMinutes))
	}
	return fmt.Sprintf("interval %s-%s overlaps %s",
		e.Candidate.Start.Format(time.RFC3339), e.Candidate.End().Format(time.RFC3339), strings.Join(labels, ", "))
}

// Slots returns the conflicting slots.
func (e *ConflictError) Slots() []models.Slot {
	out := make([]models.Slot, len(e.Conflicts))
	for i, c := range e.Conflicts {
		out[i] = c.Slot
	}
	return out
}

// NotFoundError describes an exhausted earliest-slot scan.
type NotFoundError struct {
	Duration    time.Duration
	HorizonDays int
	From        time.Time
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s slot in %d days from %s", e.Duration, e.HorizonDays, e.From.Format("2006-01-02"))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PartialBatchFailure reports a composite booking that stopped at FailedDate.
// Created holds the slots committed before the failure. When the batch was
// compensated, RolledBack lists the IDs deleted again.
type PartialBatchFailure struct {
	Created     []models.Slot
	FailedDate  time.Time
	Index       int
	Total       int
	Cause       error
	RolledBack  []string
	RollbackErr error
}

func (e *PartialBatchFailure) Error() string {
	msg := fmt.Sprintf("composite booking failed on %s (%d of %d, %d created): %v",
		e.FailedDate.Format("2006-01-02"), e.Index+1, e.Total, len(e.Created), e.Cause)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf("; rollback: %v", e.RollbackErr)
	}
	return msg
}

func (e *PartialBatchFailure) Unwrap() error { return e.Cause }

// Succeeded returns how many slots were created before the failure.
func (e *PartialBatchFailure) Succeeded() int { return len(e.Created) }

func slotLabel(s models.Slot) string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}
