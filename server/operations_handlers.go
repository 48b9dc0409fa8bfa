package server

import (
	"net/http"

	"github.com/foliolabs/folio/config"
	"github.com/foliolabs/folio/logger"
	"github.com/foliolabs/folio/ops"
)

// maxListLimit caps the limit query parameter for operation listings
const maxListLimit = 200

// createOperationRequest is the body for POST /api/operations
type createOperationRequest struct {
	Kind       string `json:"kind"`
	TotalItems *int   `json:"total_items,omitempty"`
}

// HandleOperations handles requests to /api/operations
// GET: list operations, newest first, optional ?status= and ?limit=
// POST: create a new pending operation
func (s *FolioServer) HandleOperations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListOperations(w, r)
	case http.MethodPost:
		s.handleCreateOperation(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleOperation handles requests to /api/operations/{id}
// GET: operation details
// Sub-resources: POST /api/operations/{id}/cancel, GET /api/operations/stats
func (s *FolioServer) HandleOperation(w http.ResponseWriter, r *http.Request) {
	pathParts := extractPathParts(r.URL.Path, "/api/operations/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing operation ID")
		return
	}

	// /api/operations/stats shares the prefix with the id routes
	if pathParts[0] == "stats" {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		s.handleOperationStats(w, r)
		return
	}

	id := pathParts[0]

	if len(pathParts) > 1 && pathParts[1] == "cancel" {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		s.handleCancelOperation(w, r, id)
		return
	}

	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	s.handleGetOperation(w, r, id)
}

// handleCreateOperation records a new pending operation
func (s *FolioServer) handleCreateOperation(w http.ResponseWriter, r *http.Request) {
	var req createOperationRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "Missing operation kind")
		return
	}

	op, err := s.manager.Create(req.Kind, req.TotalItems)
	if err != nil {
		handleError(w, s.log, err, "failed to create operation")
		return
	}

	s.log.Infow("Operation created via API",
		logger.FieldOperationID, op.ID,
		logger.FieldKind, op.Kind,
		"remote", r.RemoteAddr)

	writeJSON(w, http.StatusCreated, op)
}

// handleListOperations lists operations newest-first
func (s *FolioServer) handleListOperations(w http.ResponseWriter, r *http.Request) {
	var status *ops.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !ops.IsValidStatus(raw) {
			writeError(w, http.StatusBadRequest, "Invalid status filter: "+raw)
			return
		}
		parsed := ops.Status(raw)
		status = &parsed
	}

	limit := parseIntQueryParam(r, "limit", config.DefaultListLimit, 1, maxListLimit)

	operations, err := s.manager.List(status, limit)
	if err != nil {
		handleError(w, s.log, err, "failed to list operations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": operations,
		"count":      len(operations),
	})
}

// handleGetOperation retrieves a specific operation by ID
func (s *FolioServer) handleGetOperation(w http.ResponseWriter, r *http.Request, id string) {
	op, err := s.manager.Get(id)
	if err != nil {
		handleError(w, s.log, err, "failed to get operation")
		return
	}

	writeJSON(w, http.StatusOK, op)
}

// handleCancelOperation requests cancellation of a pending or running operation
func (s *FolioServer) handleCancelOperation(w http.ResponseWriter, r *http.Request, id string) {
	op, err := s.manager.Cancel(id)
	if err != nil {
		handleError(w, s.log, err, "failed to cancel operation")
		return
	}

	s.log.Infow("Operation cancelled via API",
		logger.FieldOperationID, id,
		"remote", r.RemoteAddr)

	writeJSON(w, http.StatusOK, op)
}

// handleOperationStats returns operation counts by status
func (s *FolioServer) handleOperationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Stats()
	if err != nil {
		handleError(w, s.log, err, "failed to compute operation stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
