// Package httpapi provides the REST HTTP adapter for the case API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hylla/courtroom/internal/adapters/server/common"
	"github.com/hylla/courtroom/internal/app"
	"github.com/hylla/courtroom/internal/idempotency"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// errRouteNotFound and errMethodNotAllowed describe router misses.
var (
	errRouteNotFound    = errors.New("route not found")
	errMethodNotAllowed = errors.New("method not allowed")
)

// Logger is the logging surface the HTTP adapter needs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Config configures the API handler.
type Config struct {
	// Policy guards every route. Nil uses app.DefaultPolicy.
	Policy *app.Policy
	// Idempotency enables request deduplication when set.
	Idempotency        idempotency.Store
	IdempotencyTimeout time.Duration
	Development        bool
	Logger             Logger
}

// Handler serves the versioned case API.
type Handler struct {
	cases    common.CaseService
	policy   *app.Policy
	problems ProblemWriter
	logger   Logger
	router   chi.Router
}

// transitionRoutes binds lifecycle route suffixes to guarded operations.
var transitionRoutes = []struct {
	path string
	op   app.OperationID
}{
	{path: "/complete-intake", op: app.OpCaseCompleteIntake},
	{path: "/start-trial", op: app.OpCaseStartTrial},
	{path: "/begin-deliberation", op: app.OpCaseBeginDeliberation},
	{path: "/record-verdict", op: app.OpCaseRecordVerdict},
	{path: "/export", op: app.OpCaseExportRecord},
	{path: "/archive", op: app.OpCaseArchive},
}

// NewHandler constructs one HTTP API adapter.
func NewHandler(cases common.CaseService, cfg Config) *Handler {
	if cfg.Policy == nil {
		cfg.Policy = app.DefaultPolicy()
	}
	h := &Handler{
		cases:    cases,
		policy:   cfg.Policy,
		problems: ProblemWriter{Development: cfg.Development, Logger: cfg.Logger},
		logger:   cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.logRequests)
	r.Use(h.recoverer)
	r.Use(Authenticate)
	if cfg.Idempotency != nil {
		var idemLogger idempotency.Logger
		if cfg.Logger != nil {
			idemLogger = cfg.Logger
		}
		r.Use(idempotency.Middleware(idempotency.Config{
			Store:      cfg.Idempotency,
			Timeout:    cfg.IdempotencyTimeout,
			Logger:     idemLogger,
			Scope:      CallerScope,
			WriteError: h.problems.Write,
		}))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.problems.Write(w, r, errRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.problems.Write(w, r, errMethodNotAllowed)
	})

	r.Route("/cases", func(r chi.Router) {
		r.With(h.guard(app.OpCaseCreate)).Post("/", h.handleCreateCase)
		r.With(h.guard(app.OpCaseList)).Get("/", h.handleListCases)
		r.Route("/{caseID}", func(r chi.Router) {
			r.With(h.guard(app.OpCaseGet)).Get("/", h.handleGetCase)
			r.With(h.guard(app.OpCaseUpdate)).Put("/", h.handleUpdateCase)
			r.With(h.guard(app.OpCaseDelete)).Delete("/", h.handleDeleteCase)
			r.With(h.guard(app.OpCaseEvents)).Get("/events", h.handleListCaseEvents)
			for _, route := range transitionRoutes {
				r.With(h.guard(route.op)).Post(route.path, h.handleTransition(route.op))
			}
		})
	})
	h.router = r
	return h
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// guard returns the route guard for op.
func (h *Handler) guard(op app.OperationID) func(http.Handler) http.Handler {
	return Guard(h.policy, op, h.problems)
}

// handleCreateCase serves POST `/cases`.
func (h *Handler) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req common.CreateCaseRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		h.problems.Write(w, r, err)
		return
	}
	view, err := h.cases.CreateCase(r.Context(), req)
	if err != nil {
		h.problems.Write(w, r, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+view.ID)
	writeJSON(w, http.StatusCreated, view)
}

// handleListCases serves GET `/cases`.
func (h *Handler) handleListCases(w http.ResponseWriter, r *http.Request) {
	verr := &app.ValidationError{}
	page := queryInt(r, "page", verr)
	limit := queryInt(r, "limit", verr)
	if err := verr.OrNil(); err != nil {
		h.problems.Write(w, r, err)
		return
	}
	list, err := h.cases.ListCases(r.Context(), common.ListCasesRequest{Page: page, Limit: limit})
	if err != nil {
		h.problems.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetCase serves GET `/cases/{id}`.
func (h *Handler) handleGetCase(w http.ResponseWriter, r *http.Request) {
	view, err := h.cases.GetCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		h.problems.Write(w, r, err)
		return
	}
	if etag, err := common.CaseETag(view); err == nil {
		w.Header().Set("ETag", etag)
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// handleUpdateCase serves PUT `/cases/{id}`.
func (h *Handler) handleUpdateCase(w http.ResponseWriter, r *http.Request) {
	var req common.UpdateCaseRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		h.problems.Write(w, r, err)
		return
	}
	req.ID = chi.URLParam(r, "caseID")
	view, err := h.cases.UpdateCase(r.Context(), req)
	if err != nil {
		h.problems.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleDeleteCase serves DELETE `/cases/{id}`.
func (h *Handler) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	if err := h.cases.DeleteCase(r.Context(), chi.URLParam(r, "caseID")); err != nil {
		h.problems.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListCaseEvents serves GET `/cases/{id}/events`.
func (h *Handler) handleListCaseEvents(w http.ResponseWriter, r *http.Request) {
	verr := &app.ValidationError{}
	limit := queryInt(r, "limit", verr)
	if err := verr.OrNil(); err != nil {
		h.problems.Write(w, r, err)
		return
	}
	events, err := h.cases.ListCaseEvents(r.Context(), chi.URLParam(r, "caseID"), limit)
	if err != nil {
		h.problems.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": events,
	})
}

// handleTransition serves POST `/cases/{id}/<operation>`.
func (h *Handler) handleTransition(op app.OperationID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.cases.TransitionCase(r.Context(), chi.URLParam(r, "caseID"), op)
		if err != nil {
			h.problems.Write(w, r, err)
			return
		}
		if h.logger != nil {
			h.logger.Info("case transitioned", "case_id", view.ID, "operation", op, "status", view.Status)
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// logRequests logs one line per request.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	if h.logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug(
			"http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoverer turns handler panics into 500 problem responses.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			h.problems.Write(w, r, fmt.Errorf("panic: %v", rvr))
		}()
		next.ServeHTTP(w, r)
	})
}

// queryInt parses one optional integer query parameter.
func queryInt(r *http.Request, name string, verr *app.ValidationError) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		verr.Add(name, "must be an integer")
		return 0
	}
	return n
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", bodyError(err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: %w", fieldError("body", "must contain exactly one JSON object"))
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}

// bodyError converts a JSON decode failure into field-level validation.
func bodyError(err error) error {
	var (
		typeErr *json.UnmarshalTypeError
		sizeErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return fieldError(typeErr.Field, "must be a "+typeErr.Type.String())
	case errors.As(err, &sizeErr):
		return fieldError("body", fmt.Sprintf("must be at most %d bytes", sizeErr.Limit))
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return fieldError(field, "is not allowed")
	default:
		return fieldError("body", "must be a valid JSON object")
	}
}

// fieldError builds a single-field validation error.
func fieldError(field, message string) error {
	verr := &app.ValidationError{}
	verr.Add(field, message)
	return verr
}
