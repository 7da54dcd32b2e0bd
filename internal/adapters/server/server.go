// Package server composes HTTP API and MCP transports into one process handler.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hylla/courtroom/internal/adapters/server/common"
	"github.com/hylla/courtroom/internal/adapters/server/httpapi"
	"github.com/hylla/courtroom/internal/adapters/server/mcpapi"
	"github.com/hylla/courtroom/internal/app"
	"github.com/hylla/courtroom/internal/idempotency"
)

// defaultBindAddress defines the localhost-first serve default.
const defaultBindAddress = "127.0.0.1:8080"

// defaultShutdownTimeout bounds graceful shutdown time once context cancellation starts.
const defaultShutdownTimeout = 5 * time.Second

// defaultReadHeaderTimeout bounds slow header delivery.
const defaultReadHeaderTimeout = 10 * time.Second

// readyTimeout bounds one readiness check.
const readyTimeout = 2 * time.Second

// Config defines serve-mode endpoint configuration.
type Config struct {
	HTTPBind          string
	APIEndpoint       string
	MCPEndpoint       string
	ServerName        string
	ServerVersion     string
	ReadHeaderTimeout time.Duration
	Development       bool
}

// Dependencies defines app-facing adapters required by server transports.
type Dependencies struct {
	Cases              common.CaseService
	Policy             *app.Policy
	Idempotency        idempotency.Store
	IdempotencyTimeout time.Duration
	Logger             httpapi.Logger
	// Ready reports backing-store health for /readyz. Nil always reports ready.
	Ready func(context.Context) error
}

// NewHandler composes one root router containing health, REST API, and MCP endpoints.
func NewHandler(cfg Config, deps Dependencies) (http.Handler, Config, error) {
	normalizedCfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, Config{}, err
	}
	if deps.Cases == nil {
		return nil, Config{}, fmt.Errorf("case service dependency is required")
	}

	mcpHandler, err := mcpapi.NewHandler(
		mcpapi.Config{
			ServerName:         normalizedCfg.ServerName,
			ServerVersion:      normalizedCfg.ServerVersion,
			EndpointPath:       normalizedCfg.MCPEndpoint,
			Idempotency:        deps.Idempotency,
			IdempotencyTimeout: deps.IdempotencyTimeout,
			Development:        normalizedCfg.Development,
			Logger:             deps.Logger,
		},
		deps.Cases,
	)
	if err != nil {
		return nil, Config{}, fmt.Errorf("configure mcp handler: %w", err)
	}
	apiHandler := httpapi.NewHandler(deps.Cases, httpapi.Config{
		Policy:             deps.Policy,
		Idempotency:        deps.Idempotency,
		IdempotencyTimeout: deps.IdempotencyTimeout,
		Development:        normalizedCfg.Development,
		Logger:             deps.Logger,
	})

	root := chi.NewRouter()
	root.Get("/healthz", writeHealthStatus)
	root.Get("/readyz", readinessHandler(deps.Ready, normalizedCfg.Development, deps.Logger))
	root.Handle(normalizedCfg.MCPEndpoint, mcpHandler)
	root.Mount(normalizedCfg.APIEndpoint, apiHandler)
	return root, normalizedCfg, nil
}

// Run starts the composed HTTP server and blocks until shutdown or startup failure.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if ctx == nil {
		ctx = context.Background()
	}

	handler, normalizedCfg, err := NewHandler(cfg, deps)
	if err != nil {
		return fmt.Errorf("build server handler: %w", err)
	}
	httpServer := &http.Server{
		Addr:              normalizedCfg.HTTPBind,
		Handler:           handler,
		ReadHeaderTimeout: normalizedCfg.ReadHeaderTimeout,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErrCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen and serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		shutdownErr := httpServer.Shutdown(shutdownCtx)
		serveErr := <-serveErrCh
		if shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled) {
			return fmt.Errorf("shutdown server: %w", shutdownErr)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("serve after shutdown: %w", serveErr)
		}
		return nil
	}
}

// normalizeConfig applies defaults and validates endpoint collisions.
func normalizeConfig(cfg Config) (Config, error) {
	cfg.HTTPBind = strings.TrimSpace(cfg.HTTPBind)
	if cfg.HTTPBind == "" {
		cfg.HTTPBind = defaultBindAddress
	}

	cfg.APIEndpoint = normalizeEndpoint(cfg.APIEndpoint, "/api/v1")
	cfg.MCPEndpoint = normalizeEndpoint(cfg.MCPEndpoint, "/mcp")
	if cfg.APIEndpoint == cfg.MCPEndpoint {
		return Config{}, fmt.Errorf("api and mcp endpoints must differ")
	}
	if strings.HasPrefix(cfg.MCPEndpoint, cfg.APIEndpoint+"/") {
		return Config{}, fmt.Errorf("mcp endpoint must not live under the api endpoint")
	}

	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "courtroom"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	return cfg, nil
}

// normalizeEndpoint normalizes one endpoint path and applies fallback defaults.
func normalizeEndpoint(path string, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = fallback
	}
	path = "/" + strings.Trim(path, "/")
	if path == "/" {
		return fallback
	}
	return path
}

// writeHealthStatus responds with a deterministic liveness payload.
func writeHealthStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// readinessHandler reports 503 while the backing store cannot be reached.
// The failure text is only exposed in development mode.
func readinessHandler(ready func(context.Context) error, development bool, logger httpapi.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready == nil {
			writeHealthStatus(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := ready(ctx); err != nil {
			if logger != nil {
				logger.Warn("readiness check failed", "err", err)
			}
			payload := map[string]string{"status": "unavailable"}
			if development {
				payload["error"] = err.Error()
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(payload)
			return
		}
		writeHealthStatus(w, r)
	}
}
