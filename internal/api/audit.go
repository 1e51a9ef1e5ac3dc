/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/anomalyops/internal/audit"
	"github.com/friendsincode/anomalyops/internal/models"
)

// handleAuditList returns recorded booking decisions, newest first.
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if a.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit_unavailable")
		return
	}

	q := r.URL.Query()
	filters := audit.QueryFilters{
		SlotID:    q.Get("slot_id"),
		AnomalyID: q.Get("anomaly_id"),
		Action:    models.AuditAction(q.Get("action")),
	}

	for param, dst := range map[string]**time.Time{"start": &filters.StartTime, "end": &filters.EndTime} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+param)
			return
		}
		*dst = &t
	}

	for param, dst := range map[string]*int{"limit": &filters.Limit, "offset": &filters.Offset} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_"+param)
			return
		}
		*dst = n
	}
	if filters.Limit > 500 {
		filters.Limit = 500
	}

	logs, total, err := a.audit.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("query audit logs")
		writeError(w, http.StatusInternalServerError, "audit_query_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": logs,
		"total":   total,
	})
}
