package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hylla/courtroom/internal/adapters/server/common"
	"github.com/hylla/courtroom/internal/app"
	"github.com/hylla/courtroom/internal/domain"
	"github.com/hylla/courtroom/internal/idempotency"
)

// ProblemContentType is the media type of every error response.
const ProblemContentType = "application/problem+json"

// problemTypeBase prefixes problem type URIs.
const problemTypeBase = "https://courtroom-simulator.com/errors/"

// Problem is an RFC 7807 problem document with courtroom extension members.
type Problem struct {
	Type          string           `json:"type"`
	Title         string           `json:"title"`
	Status        int              `json:"status"`
	Detail        string           `json:"detail,omitempty"`
	Instance      string           `json:"instance,omitempty"`
	Code          string           `json:"code"`
	RequestID     string           `json:"request_id,omitempty"`
	Errors        []app.FieldError `json:"errors,omitempty"`
	Operation     string           `json:"operation,omitempty"`
	RequiredRoles []string         `json:"required_roles,omitempty"`
	ActualRole    string           `json:"actual_role,omitempty"`
	RequiredState string           `json:"required_state,omitempty"`
	ActualState   string           `json:"actual_state,omitempty"`
}

// ProblemWriter renders errors as problem documents.
type ProblemWriter struct {
	// Development exposes internal error text in 500 responses.
	Development bool
	Logger      Logger
}

// WriteProblem renders err with production settings.
func WriteProblem(w http.ResponseWriter, r *http.Request, err error) {
	ProblemWriter{}.Write(w, r, err)
}

// Write maps err to a problem document and writes it.
func (p ProblemWriter) Write(w http.ResponseWriter, r *http.Request, err error) {
	problem := p.Problem(r, err)
	if problem.Status >= http.StatusInternalServerError && p.Logger != nil {
		p.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", problem.RequestID, "err", err)
	}
	if errors.Is(err, idempotency.ErrRequestInProgress) {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", ProblemContentType)
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// Problem builds the problem document for err. Every error maps to exactly
// one status; unknown errors become 500.
func (p ProblemWriter) Problem(r *http.Request, err error) Problem {
	problem := Problem{}
	if r != nil {
		problem.Instance = r.URL.Path
		problem.RequestID = middleware.GetReqID(r.Context())
	}

	var (
		validationErr *app.ValidationError
		accessErr     *domain.AccessError
		transitionErr *domain.TransitionError
	)
	switch {
	case errors.As(err, &validationErr):
		problem.fill(http.StatusBadRequest, "validation", "Validation Failed", "validation_failed")
		problem.Detail = "one or more fields are invalid"
		problem.Errors = validationErr.Fields
	case errors.Is(err, idempotency.ErrInvalidKey):
		problem.fill(http.StatusBadRequest, "bad-request", "Bad Request", "invalid_idempotency_key")
		problem.Detail = "Idempotency-Key must match [A-Za-z0-9_-]{1,255}"
	case errors.Is(err, idempotency.ErrUnreadableBody):
		problem.fill(http.StatusBadRequest, "bad-request", "Bad Request", "unreadable_body")
		problem.Detail = err.Error()
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, domain.ErrUnknownOperation):
		problem.fill(http.StatusBadRequest, "bad-request", "Bad Request", "invalid_request")
		problem.Detail = err.Error()
	case errors.Is(err, app.ErrUnauthenticated):
		problem.fill(http.StatusUnauthorized, "unauthorized", "Unauthorized", "unauthenticated")
		problem.Detail = "authentication is required"
	case errors.As(err, &accessErr):
		problem.fill(http.StatusForbidden, "forbidden", "Forbidden", "insufficient_permissions")
		problem.Detail = accessErr.Error()
		problem.Operation = accessErr.Operation
		for _, role := range accessErr.Required.Roles() {
			problem.RequiredRoles = append(problem.RequiredRoles, string(role))
		}
		problem.ActualRole = string(accessErr.Actual)
	case errors.Is(err, app.ErrNotFound):
		problem.fill(http.StatusNotFound, "not-found", "Not Found", "not_found")
		problem.Detail = "case not found"
	case errors.As(err, &transitionErr):
		problem.fill(http.StatusConflict, "lifecycle-conflict", "Conflict", "invalid_transition")
		problem.Detail = transitionErr.Error()
		problem.Operation = string(transitionErr.Operation)
		problem.RequiredState = string(transitionErr.Required)
		problem.ActualState = string(transitionErr.Actual)
	case errors.Is(err, idempotency.ErrRequestInProgress):
		problem.fill(http.StatusConflict, "idempotency-in-progress", "Conflict", "idempotency_request_in_progress")
		problem.Detail = err.Error()
	case errors.Is(err, idempotency.ErrKeyReused):
		problem.fill(http.StatusUnprocessableEntity, "idempotency-key-reused", "Unprocessable Entity", "idempotency_key_reused")
		problem.Detail = err.Error()
	case errors.Is(err, common.ErrServiceUnavailable):
		problem.fill(http.StatusServiceUnavailable, "unavailable", "Service Unavailable", "service_unavailable")
	case errors.Is(err, errRouteNotFound):
		problem.fill(http.StatusNotFound, "not-found", "Not Found", "not_found")
		problem.Detail = "endpoint not found"
	case errors.Is(err, errMethodNotAllowed):
		problem.fill(http.StatusMethodNotAllowed, "http", "Method Not Allowed", "method_not_allowed")
	default:
		problem.fill(http.StatusInternalServerError, "internal", "Internal Server Error", "internal_error")
		if p.Development && err != nil {
			problem.Detail = err.Error()
		}
	}
	return problem
}

// fill sets the status-derived members.
func (p *Problem) fill(status int, slug, title, code string) {
	p.Status = status
	p.Type = problemTypeBase + slug
	p.Title = title
	p.Code = code
}
