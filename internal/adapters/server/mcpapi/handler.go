// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hylla/courtroom/internal/adapters/server/common"
	"github.com/hylla/courtroom/internal/adapters/server/httpapi"
	"github.com/hylla/courtroom/internal/app"
	"github.com/hylla/courtroom/internal/domain"
	"github.com/hylla/courtroom/internal/idempotency"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
	// Idempotency deduplicates keyed tool calls when set.
	Idempotency        idempotency.Store
	IdempotencyTimeout time.Duration
	Development        bool
	Logger             httpapi.Logger
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing case reads and
// lifecycle transitions. Callers are resolved from the identity headers, and
// calls carrying an Idempotency-Key run at most once per caller and key.
func NewHandler(cfg Config, cases common.CaseService) (*Handler, error) {
	if cases == nil {
		return nil, fmt.Errorf("case service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerCaseTools(mcpSrv, cases)
	registerTransitionTool(mcpSrv, cases)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	var handler http.Handler = streamable
	if cfg.Idempotency != nil {
		var idemLogger idempotency.Logger
		if cfg.Logger != nil {
			idemLogger = cfg.Logger
		}
		handler = idempotency.Middleware(idempotency.Config{
			Store:      cfg.Idempotency,
			Timeout:    cfg.IdempotencyTimeout,
			Logger:     idemLogger,
			Scope:      httpapi.CallerScope,
			WriteError: httpapi.ProblemWriter{Development: cfg.Development, Logger: cfg.Logger}.Write,
		})(handler)
	}
	return &Handler{httpHandler: httpapi.Authenticate(handler)}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "courtroom"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerCaseTools registers the read-only case tools.
func registerCaseTools(srv *mcpserver.MCPServer, cases common.CaseService) {
	srv.AddTool(
		mcp.NewTool(
			"courtroom.get_case",
			mcp.WithDescription("Return one case visible to the caller."),
			mcp.WithString("case_id", mcp.Required(), mcp.Description("Case identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			caseID, err := req.RequireString("case_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			view, err := cases.GetCase(ctx, caseID)
			if err != nil {
				return toolError(ctx, err), nil
			}
			result, err := mcp.NewToolResultJSON(view)
			if err != nil {
				return nil, fmt.Errorf("encode get_case result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"courtroom.list_cases",
			mcp.WithDescription("List one page of the caller organization's cases, newest first."),
			mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			mcp.WithNumber("limit", mcp.Description("Page size between 1 and 100")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			list, err := cases.ListCases(ctx, common.ListCasesRequest{
				Page:  req.GetInt("page", 0),
				Limit: req.GetInt("limit", 0),
			})
			if err != nil {
				return toolError(ctx, err), nil
			}
			result, err := mcp.NewToolResultJSON(list)
			if err != nil {
				return nil, fmt.Errorf("encode list_cases result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"courtroom.list_case_events",
			mcp.WithDescription("List recent activity entries for one case."),
			mcp.WithString("case_id", mcp.Required(), mcp.Description("Case identifier")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			caseID, err := req.RequireString("case_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			events, err := cases.ListCaseEvents(ctx, caseID, req.GetInt("limit", 25))
			if err != nil {
				return toolError(ctx, err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"events": events})
			if err != nil {
				return nil, fmt.Errorf("encode list_case_events result: %w", err)
			}
			return result, nil
		},
	)
}

// registerTransitionTool registers `courtroom.transition_case`.
func registerTransitionTool(srv *mcpserver.MCPServer, cases common.CaseService) {
	srv.AddTool(
		mcp.NewTool(
			"courtroom.transition_case",
			mcp.WithDescription("Apply one lifecycle operation to a case."),
			mcp.WithString("case_id", mcp.Required(), mcp.Description("Case identifier")),
			mcp.WithString("operation", mcp.Required(), mcp.Description("Lifecycle operation"), mcp.Enum(lifecycleOperationIDs()...)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			caseID, err := req.RequireString("case_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			operation, err := req.RequireString("operation")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			view, err := cases.TransitionCase(ctx, caseID, app.OperationID(strings.TrimSpace(operation)))
			if err != nil {
				return toolError(ctx, err), nil
			}
			result, err := mcp.NewToolResultJSON(view)
			if err != nil {
				return nil, fmt.Errorf("encode transition_case result: %w", err)
			}
			return result, nil
		},
	)
}

// lifecycleOperationIDs lists guarded ids accepted by transition_case.
func lifecycleOperationIDs() []string {
	out := make([]string, 0, len(domain.Transitions()))
	for _, op := range app.DefaultPolicy().Operations() {
		if _, ok := app.LifecycleOperation(op); ok {
			out = append(out, string(op))
		}
	}
	return out
}

// toolError maps err to a tool result. Failures that say nothing about the
// call itself are kept out of the idempotency record so a retry runs again.
func toolError(ctx context.Context, err error) *mcp.CallToolResult {
	if ctx.Err() != nil ||
		errors.Is(err, app.ErrUnauthenticated) ||
		errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, common.ErrServiceUnavailable) {
		idempotency.Discard(ctx)
	}
	return toolResultFromError(err)
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	var (
		validationErr *app.ValidationError
		accessErr     *domain.AccessError
		transitionErr *domain.TransitionError
	)
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.As(err, &validationErr):
		return mcp.NewToolResultError("validation_failed: " + err.Error())
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, domain.ErrUnknownOperation):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, app.ErrUnauthenticated):
		return mcp.NewToolResultError("unauthenticated: " + err.Error())
	case errors.As(err, &accessErr):
		return mcp.NewToolResultError("insufficient_permissions: " + err.Error())
	case errors.Is(err, app.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.As(err, &transitionErr):
		return mcp.NewToolResultError("invalid_transition: " + err.Error())
	case errors.Is(err, common.ErrServiceUnavailable):
		return mcp.NewToolResultError("service_unavailable: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
