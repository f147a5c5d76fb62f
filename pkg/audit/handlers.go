package audit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/coursetrail/pkg/httputil"
	"github.com/platinummonkey/coursetrail/pkg/identity"
	"github.com/platinummonkey/coursetrail/pkg/observability"
)

// Default and maximum page sizes for list endpoints
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Handlers provides HTTP handlers for the audit API
type Handlers struct {
	service *Service
	metrics *observability.Metrics
}

// NewHandlers creates new audit handlers; metrics may be nil
func NewHandlers(service *Service, metrics *observability.Metrics) *Handlers {
	return &Handlers{service: service, metrics: metrics}
}

// RegisterRoutes registers audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.recordEvent).Methods("POST")
	router.HandleFunc("/audit/events", h.listEvents).Methods("GET")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET")
	router.HandleFunc("/audit/dashboard", h.getDashboard).Methods("GET")
	router.HandleFunc("/audit/high-risk", h.getHighRisk).Methods("GET")
	router.HandleFunc("/audit/users/{id}/summary", h.getUserSummary).Methods("GET")
	router.HandleFunc("/audit/resources/{type}/{id}", h.getResourceTrail).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEvents).Methods("GET")
	router.HandleFunc("/audit/cleanup", h.cleanup).Methods("POST")
}

// RecordRequest is the body of POST /audit/events. Kind selects which of
// the payload fields is read.
type RecordRequest struct {
	Kind        EventType              `json:"kind"`
	Folder      *FolderInfo            `json:"folder,omitempty"`
	Item        *ItemInfo              `json:"item,omitempty"`
	View        *ViewInfo              `json:"view,omitempty"`
	Resource    *ResourceContext       `json:"resource,omitempty"`
	Description string                 `json:"description,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	RiskLevel   string                 `json:"risk_level,omitempty"`
}

// recordEvent handles POST /audit/events
func (h *Handlers) recordEvent(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	var err error
	switch req.Kind {
	case EventTypeFolderCreated, EventTypeFolderDeleted:
		if req.Folder == nil {
			httputil.WriteBadRequest(w, "folder is required for "+string(req.Kind))
			return
		}
		if req.Kind == EventTypeFolderCreated {
			err = h.service.RecordFolderCreated(ctx, *req.Folder)
		} else {
			err = h.service.RecordFolderDeleted(ctx, *req.Folder)
		}
	case EventTypeItemUploaded, EventTypeItemDeleted:
		if req.Item == nil {
			httputil.WriteBadRequest(w, "item is required for "+string(req.Kind))
			return
		}
		if req.Kind == EventTypeItemUploaded {
			err = h.service.RecordItemUploaded(ctx, *req.Item)
		} else {
			err = h.service.RecordItemDeleted(ctx, *req.Item)
		}
	case EventTypeViewAccessed:
		if req.View == nil {
			httputil.WriteBadRequest(w, "view is required for "+string(req.Kind))
			return
		}
		err = h.service.RecordViewAccessed(ctx, *req.View)
	default:
		var risk RiskLevel
		if req.RiskLevel != "" {
			if risk, err = ParseRiskLevel(req.RiskLevel); err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return
			}
		}
		var resource ResourceContext
		if req.Resource != nil {
			resource = *req.Resource
		}
		err = h.service.RecordCustomEvent(ctx, req.Kind, resource, req.Description, req.Details, risk)
	}

	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusCreated, map[string]string{"status": "recorded"}, "failed to encode response")
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	criteria, err := parseCriteria(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.GetFilteredEvents(r.Context(), criteria)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"events": result.Events,
		"total":  result.Total,
		"limit":  criteria.Limit(),
		"offset": criteria.Offset(),
	}, "failed to encode events")
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	if err := h.service.requireUnscoped(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	stats, err := h.service.GetStatistics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, stats, "failed to encode statistics")
}

// getDashboard handles GET /audit/dashboard
func (h *Handlers) getDashboard(w http.ResponseWriter, r *http.Request) {
	if err := h.service.requireUnscoped(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	dashboard, err := h.service.GetDashboardData(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, dashboard, "failed to encode dashboard")
}

// getHighRisk handles GET /audit/high-risk
func (h *Handlers) getHighRisk(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAudit(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	hours, err := httputil.ParseQueryInt(r, "hours", 24)
	if err != nil || hours <= 0 {
		httputil.WriteBadRequest(w, "hours must be a positive integer")
		return
	}
	limit, ok := parseLimit(w, r, 50)
	if !ok {
		return
	}

	events, err := h.service.GetVisibleHighRiskEvents(r.Context(), hours, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"hours":  hours,
	}, "failed to encode events")
}

// getUserSummary handles GET /audit/users/{id}/summary
func (h *Handlers) getUserSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.requireUserVisible(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}

	days, err := httputil.ParseQueryInt(r, "days", 30)
	if err != nil || days <= 0 {
		httputil.WriteBadRequest(w, "days must be a positive integer")
		return
	}

	summary, err := h.service.GetUserActivitySummary(r.Context(), userID, days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, summary, "failed to encode summary")
}

// getResourceTrail handles GET /audit/resources/{type}/{id}
func (h *Handlers) getResourceTrail(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAudit(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	resourceType, ok := httputil.ParsePathStringOrError(w, r, "type")
	if !ok {
		return
	}
	resourceID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r, defaultListLimit)
	if !ok {
		return
	}

	events, err := h.service.GetVisibleResourceAuditTrail(r.Context(), ResourceType(resourceType), resourceID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"resource_type": resourceType,
		"resource_id":   resourceID,
		"events":        events,
	}, "failed to encode events")
}

// exportEvents handles GET /audit/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdmin(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	from, err := httputil.ParseQueryTime(r, "from")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	to, err := httputil.ParseQueryTime(r, "to")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !to.IsZero() && len(r.URL.Query().Get("to")) == len(httputil.DateLayout) {
		// A bare date includes the whole day.
		to = to.Add(24*time.Hour - time.Microsecond)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		httputil.WriteBadRequest(w, "to must not be before from")
		return
	}

	var userID *int64
	if r.URL.Query().Get("user_id") != "" {
		id, err := httputil.ParseQueryInt64(r, "user_id", 0)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		userID = &id
	}

	records, err := h.service.ExportEventsForCompliance(r.Context(), from, to, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := EncodeComplianceRecords(records, format)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-events.%s", format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// cleanup handles POST /audit/cleanup
func (h *Handlers) cleanup(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdmin(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	days, err := httputil.ParseQueryInt(r, "days", 0)
	if err != nil || days <= 0 {
		httputil.WriteBadRequest(w, "days must be a positive integer")
		return
	}

	deleted, err := h.service.CleanOldEvents(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"deleted":      deleted,
		"days_to_keep": days,
	}, "failed to encode response")
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAccessDenied):
		if h.metrics != nil {
			h.metrics.AccessDeniedTotal.WithLabelValues(observability.RouteLabel(r)).Inc()
		}
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, identity.ErrNoIdentity):
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrInvalidEvent):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContextOr(r.Context(), h.service.logger).WithError(err).
			WithField("path", r.URL.Path).Error("Audit request failed")
		httputil.WriteInternalError(w)
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request, defaultLimit int) (int, bool) {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultLimit)
	if err != nil || limit <= 0 {
		httputil.WriteBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}

// parseCriteria builds SearchCriteria from query parameters
func parseCriteria(r *http.Request) (SearchCriteria, error) {
	q := r.URL.Query()
	criteria := NewSearchCriteria()

	if q.Get("user_id") != "" {
		id, err := httputil.ParseQueryInt64(r, "user_id", 0)
		if err != nil {
			return criteria, err
		}
		criteria = criteria.WithUserID(id)
	}
	if q.Get("user_ids") != "" {
		ids, err := httputil.ParseQueryInt64List(r, "user_ids")
		if err != nil {
			return criteria, err
		}
		criteria = criteria.WithUserIDs(ids...)
	}

	from, err := httputil.ParseQueryTime(r, "from")
	if err != nil {
		return criteria, err
	}
	to, err := httputil.ParseQueryTime(r, "to")
	if err != nil {
		return criteria, err
	}
	criteria = criteria.WithDateRange(from, to)

	if s := q.Get("risk_level"); s != "" {
		level, err := ParseRiskLevel(s)
		if err != nil {
			return criteria, err
		}
		criteria = criteria.WithRiskLevel(level)
	}
	highRisk, err := httputil.ParseQueryBool(r, "high_risk", false)
	if err != nil {
		return criteria, err
	}
	criteria = criteria.WithHighRiskOnly(highRisk)

	if s := q.Get("event_types"); s != "" {
		var types []EventType
		for _, part := range splitComma(s) {
			types = append(types, EventType(part))
		}
		criteria = criteria.WithEventTypes(types...)
	}
	if rt := q.Get("resource_type"); rt != "" || q.Get("resource_id") != "" {
		criteria = criteria.WithResource(ResourceType(rt), q.Get("resource_id"))
	}

	limit, err := httputil.ParseQueryInt(r, "limit", defaultListLimit)
	if err != nil {
		return criteria, err
	}
	if limit <= 0 || limit > maxListLimit {
		return criteria, fmt.Errorf("limit must be between 1 and %d", maxListLimit)
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		return criteria, err
	}
	if offset < 0 {
		return criteria, fmt.Errorf("offset must not be negative")
	}

	return criteria.WithLimit(limit).WithOffset(offset), nil
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
