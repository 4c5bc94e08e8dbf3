package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/mqtt-connector/internal/audit"
)

// auditSource marks journal entries written by the HTTP API.
const auditSource = "api"

// record journals an API action. A journal failure is logged and never
// fails the request that triggered it.
func (s *Server) record(r *http.Request, action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	e := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     auditSource,
		RequestID:  requestID(r.Context()),
		Details:    details,
	}
	if err := s.audit.Record(r.Context(), e); err != nil {
		s.logger.Warn("failed to record audit entry",
			"action", action,
			"entity_id", entityID,
			"error", err,
		)
	}
}

// handleListAudit returns journal entries, newest first. Query parameters:
// action, entity_type, entity_id, limit and offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	page, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
