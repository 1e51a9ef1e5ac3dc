/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/anomalyops/internal/audit"
	"github.com/friendsincode/anomalyops/internal/models"
	"github.com/friendsincode/anomalyops/internal/scheduler"
	"github.com/friendsincode/anomalyops/internal/slots"
	"github.com/friendsincode/anomalyops/internal/store"
)

const dateLayout = "2006-01-02"

// API exposes HTTP handlers.
type API struct {
	scheduler *scheduler.Service
	audit     *audit.Service
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(scheduler *scheduler.Service, logger zerolog.Logger) *API {
	return &API{
		scheduler: scheduler,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// SetAudit enables the booking audit endpoint.
func (a *API) SetAudit(svc *audit.Service) {
	a.audit = svc
}

// Routes registers the maintenance scheduling endpoints.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/maintenance", func(r chi.Router) {
			r.Get("/rules", a.handleRules)
			r.Get("/calendar", a.handleCalendar)
			r.Get("/suggestions", a.handleSuggestions)
			r.Get("/impact", a.handleImpact)
			r.Get("/periods", a.handlePeriodsList)
			r.Post("/periods", a.handlePeriodSave)
			r.Get("/periods/{periodID}/impact", a.handlePeriodImpact)
			r.Post("/anomalies", a.handleAnomalySave)
			r.Get("/audit", a.handleAuditList)

			r.Route("/slots", func(r chi.Router) {
				r.Get("/earliest", a.handleEarliest)
				r.Post("/composite", a.handleComposite)
				r.Delete("/{slotID}", a.handleSlotDelete)
			})

			r.Route("/anomalies/{anomalyID}", func(r chi.Router) {
				r.Get("/", a.handleAnomalyGet)
				r.Post("/book", a.handleBookEarliest)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleRules(w http.ResponseWriter, r *http.Request) {
	rules := a.scheduler.Rules()
	weights := make(map[string]float64, len(rules.PriorityWeights))
	for p, weight := range rules.PriorityWeights {
		weights[string(p)] = weight
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timezone":              rules.Location.String(),
		"day_start_hour":        rules.DayStartHour,
		"day_end_hour":          rules.DayEndHour,
		"horizon_days":          rules.HorizonDays,
		"suggestion_days":       rules.SuggestionDays,
		"max_suggestions":       rules.MaxSuggestions,
		"start_grace_minutes":   int(rules.StartGrace / time.Minute),
		"override_window_hours": rules.OverrideWindowHours,
		"priority_weights":      weights,
	})
}

func (a *API) handleEarliest(w http.ResponseWriter, r *http.Request) {
	hours, ok := parseHours(w, r)
	if !ok {
		return
	}

	suggestion, err := a.scheduler.FindEarliestSlot(r.Context(), hours)
	if err != nil {
		a.writeServiceError(w, err, "find earliest slot")
		return
	}
	writeJSON(w, http.StatusOK, suggestionResponse(suggestion))
}

func (a *API) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	hours, ok := parseHours(w, r)
	if !ok {
		return
	}
	priority := models.AnomalyPriority(strings.ToLower(r.URL.Query().Get("priority")))
	if priority == "" {
		priority = models.PriorityMedium
	}

	out, err := a.scheduler.SuggestDates(r.Context(), priority, hours)
	if err != nil {
		a.writeServiceError(w, err, "suggest dates")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"priority":    priority,
		"hours":       hours,
		"suggestions": out,
	})
}

func (a *API) handleImpact(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.ParseFloat(r.URL.Query().Get("hours"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_hours")
		return
	}

	impact, err := a.scheduler.EstimateDowntimeImpact(hours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_hours")
		return
	}
	writeJSON(w, http.StatusOK, impact)
}

func (a *API) handlePeriodImpact(w http.ResponseWriter, r *http.Request) {
	period, impact, err := a.scheduler.EstimatePeriodImpact(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		a.writeServiceError(w, err, "estimate period impact")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period_id":     period.ID,
		"starts_at":     period.StartsAt,
		"ends_at":       period.EndsAt,
		"duration_days": period.DurationDays(),
		"impact":        impact,
	})
}

func (a *API) handleCalendar(w http.ResponseWriter, r *http.Request) {
	loc := a.scheduler.Location()
	from := a.scheduler.Now().In(loc)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.ParseInLocation(dateLayout, v, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from")
			return
		}
		from = parsed
	}
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_days")
			return
		}
		days = parsed
	}

	out, err := a.scheduler.Calendar(r.Context(), from, days)
	if err != nil {
		a.writeServiceError(w, err, "calendar")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": out})
}

func (a *API) handleComposite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnomalyID    string   `json:"anomaly_id"`
		Dates        []string `json:"dates"`
		TimeOfDay    string   `json:"time_of_day"`
		HoursPerDate float64  `json:"hours_per_date"`
		Title        string   `json:"title"`
		WindowType   string   `json:"window_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.AnomalyID == "" {
		writeError(w, http.StatusBadRequest, "anomaly_id_required")
		return
	}

	loc := a.scheduler.Location()
	dates := make([]time.Time, 0, len(req.Dates))
	for _, d := range req.Dates {
		parsed, err := time.ParseInLocation(dateLayout, d, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date")
			return
		}
		dates = append(dates, parsed)
	}
	timeOfDay, err := parseTimeOfDay(req.TimeOfDay)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time_of_day")
		return
	}

	anomaly, err := a.scheduler.Anomaly(r.Context(), req.AnomalyID)
	if err != nil {
		a.writeServiceError(w, err, "load anomaly")
		return
	}

	created, err := a.scheduler.ScheduleAcrossDates(r.Context(), scheduler.CompositeRequest{
		Anomaly:      *anomaly,
		Dates:        dates,
		TimeOfDay:    timeOfDay,
		HoursPerDate: req.HoursPerDate,
		Title:        req.Title,
		WindowType:   models.WindowType(req.WindowType),
	})
	if err != nil {
		a.writeServiceError(w, err, "composite booking")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"anomaly_id": anomaly.ID,
		"slots":      created,
	})
}

func (a *API) handlePeriodsList(w http.ResponseWriter, r *http.Request) {
	periods, err := a.scheduler.Periods(r.Context())
	if err != nil {
		a.writeServiceError(w, err, "list periods")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"periods": periods})
}

func (a *API) handlePeriodSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		StartsAt string `json:"starts_at"`
		EndsAt   string `json:"ends_at"`
		Status   string `json:"status"`
		Type     string `json:"type"`
		Assignee string `json:"assignee"`
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	loc := a.scheduler.Location()
	startsAt, err := time.ParseInLocation(dateLayout, req.StartsAt, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_starts_at")
		return
	}
	endsAt, err := time.ParseInLocation(dateLayout, req.EndsAt, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_ends_at")
		return
	}

	period := &models.MaintenancePeriod{
		ID:       req.ID,
		Title:    req.Title,
		StartsAt: startsAt,
		EndsAt:   endsAt,
		Status:   models.PeriodStatus(req.Status),
		Type:     models.PeriodType(req.Type),
		Assignee: req.Assignee,
		Location: req.Location,
	}
	if period.Status == "" {
		period.Status = models.PeriodAvailable
	}
	if period.Type == "" {
		period.Type = models.PeriodTypeMaintenance
	}

	if err := a.scheduler.SavePeriod(r.Context(), period); err != nil {
		a.writeServiceError(w, err, "save period")
		return
	}
	writeJSON(w, http.StatusOK, period)
}

func (a *API) handleAnomalySave(w http.ResponseWriter, r *http.Request) {
	var anomaly models.Anomaly
	if err := json.NewDecoder(r.Body).Decode(&anomaly); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if anomaly.EstimatedDurationHours < 0 {
		writeError(w, http.StatusBadRequest, "invalid_estimated_duration")
		return
	}
	if err := a.scheduler.SaveAnomaly(r.Context(), &anomaly); err != nil {
		a.writeServiceError(w, err, "save anomaly")
		return
	}
	writeJSON(w, http.StatusCreated, anomaly)
}

func (a *API) handleAnomalyGet(w http.ResponseWriter, r *http.Request) {
	anomaly, err := a.scheduler.Anomaly(r.Context(), chi.URLParam(r, "anomalyID"))
	if err != nil {
		a.writeServiceError(w, err, "load anomaly")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anomaly":            anomaly,
		"requires_composite": scheduler.RequiresComposite(*anomaly),
	})
}

func (a *API) handleBookEarliest(w http.ResponseWriter, r *http.Request) {
	slot, suggestion, err := a.scheduler.BookEarliest(r.Context(), chi.URLParam(r, "anomalyID"))
	if err != nil {
		a.writeServiceError(w, err, "book earliest slot")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"slot":       slot,
		"suggestion": suggestionResponse(suggestion),
	})
}

func (a *API) handleSlotDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.scheduler.DeleteSlot(r.Context(), chi.URLParam(r, "slotID")); err != nil {
		a.writeServiceError(w, err, "delete slot")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps scheduling errors to a status and error code.
func (a *API) writeServiceError(w http.ResponseWriter, err error, op string) {
	var (
		validation *slots.ValidationError
		conflict   *slots.ConflictError
		notFound   *slots.NotFoundError
		partial    *slots.PartialBatchFailure
	)

	if errors.As(err, &partial) {
		rolledBack := partial.RolledBack
		if rolledBack == nil {
			rolledBack = []string{}
		}
		body := map[string]any{
			"error":       "partial_batch_failure",
			"detail":      partial.Cause.Error(),
			"failed_date": partial.FailedDate.Format(dateLayout),
			"index":       partial.Index,
			"total":       partial.Total,
			"created":     partial.Created,
			"rolled_back": rolledBack,
		}
		if partial.RollbackErr != nil {
			body["rollback_error"] = partial.RollbackErr.Error()
		}
		a.logger.Warn().Err(err).Str("operation", op).Msg("partial batch failure")
		writeJSON(w, statusFor(partial.Cause), body)
		return
	}

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_failed", "detail": validation.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "slot_conflict", "conflicts": conflict.Conflicts})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":        "no_slot_available",
			"horizon_days": notFound.HorizonDays,
		})
	default:
		a.logger.Error().Err(err).Str("operation", op).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

// statusFor is the status a partial batch failure reports for its cause.
func statusFor(cause error) int {
	var (
		validation *slots.ValidationError
		conflict   *slots.ConflictError
	)
	switch {
	case errors.As(cause, &validation):
		return http.StatusBadRequest
	case errors.As(cause, &conflict):
		return http.StatusConflict
	case errors.Is(cause, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type suggestionBody struct {
	Date              string             `json:"date"`
	Start             time.Time          `json:"start"`
	Hour              int                `json:"hour"`
	Hours             float64            `json:"hours"`
	IsImmediate       bool               `json:"is_immediate"`
	OverridesExisting bool               `json:"overrides_existing"`
	Displaced         []displacedSlotRef `json:"displaced,omitempty"`
}

type displacedSlotRef struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Priority models.AnomalyPriority `json:"priority"`
}

func suggestionResponse(s *slots.Suggestion) suggestionBody {
	body := suggestionBody{
		Date:              s.Date.Format(dateLayout),
		Start:             s.Start,
		Hour:              s.Hour,
		Hours:             s.Duration.Hours(),
		IsImmediate:       s.IsImmediate,
		OverridesExisting: s.OverridesExisting,
	}
	for _, d := range s.Displaced {
		body.Displaced = append(body.Displaced, displacedSlotRef{ID: d.ID, Title: d.Title, Priority: d.Priority})
	}
	return body
}

func parseHours(w http.ResponseWriter, r *http.Request) (float64, bool) {
	hours, err := strconv.ParseFloat(r.URL.Query().Get("hours"), 64)
	if err != nil || hours <= 0 || math.IsInf(hours, 0) || math.IsNaN(hours) {
		writeError(w, http.StatusBadRequest, "invalid_hours")
		return 0, false
	}
	return hours, true
}

// parseTimeOfDay accepts "HH:MM" and returns the offset from midnight.
// An empty value is midnight.
func parseTimeOfDay(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
