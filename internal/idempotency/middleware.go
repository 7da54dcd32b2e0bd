package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultBackendTimeout bounds each store call made by the interceptor.
const DefaultBackendTimeout = 500 * time.Millisecond

// maxFingerprintBody caps how much of a request body is read for hashing.
const maxFingerprintBody = 1 << 20

// anonymousScope scopes keys sent without an authenticated subject.
const anonymousScope = "anonymous"

// Config configures the interceptor.
type Config struct {
	Store Store
	// Timeout bounds each store call. On expiry the request runs without
	// deduplication.
	Timeout time.Duration
	Logger  Logger
	// Scope returns the subject that owns keys sent on r, so two callers
	// never share a key.
	Scope func(r *http.Request) string
	// WriteError renders interceptor rejections.
	WriteError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware returns an interceptor that runs each mutating request at most
// once per Idempotency-Key.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBackendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	if cfg.Scope == nil {
		cfg.Scope = func(*http.Request) string { return "" }
	}
	if cfg.WriteError == nil {
		cfg.WriteError = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), statusFor(err))
		}
	}
	return func(next http.Handler) http.Handler {
		return &interceptor{cfg: cfg, next: next}
	}
}

// interceptor is the http.Handler produced by Middleware.
type interceptor struct {
	cfg  Config
	next http.Handler
}

// ServeHTTP implements http.Handler.
func (h *interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawKey, present := r.Header[http.CanonicalHeaderKey(HeaderKey)]
	if !isMutating(r.Method) || !present {
		h.next.ServeHTTP(w, r)
		return
	}
	key := strings.TrimSpace(firstValue(rawKey))
	if !ValidKey(key) {
		h.cfg.WriteError(w, r, ErrInvalidKey)
		return
	}

	fingerprint, err := fingerprintRequest(r)
	if err != nil {
		h.cfg.WriteError(w, r, ErrUnreadableBody)
		return
	}

	scope := strings.TrimSpace(h.cfg.Scope(r))
	if scope == "" {
		scope = anonymousScope
	}
	storeKey := scope + ":" + key

	claimCtx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	res, err := h.cfg.Store.Claim(claimCtx, storeKey, fingerprint)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
			// The claim may have landed after the deadline. Settle the key
			// afterwards so a phantom pending record cannot outlive the request.
			h.cfg.Logger.Warn("idempotency claim timed out; running request and settling the key best-effort", "key", storeKey, "err", err)
			h.runClaimed(w, r, storeKey)
			return
		}
		h.cfg.Logger.Warn("idempotency store unavailable; running request without deduplication", "key", storeKey, "err", err)
		h.next.ServeHTTP(w, r)
		return
	}

	switch res.Outcome {
	case ClaimCompleted:
		if res.Fingerprint != fingerprint {
			h.cfg.WriteError(w, r, ErrKeyReused)
			return
		}
		h.cfg.Logger.Debug("replaying idempotent response", "key", storeKey, "status", res.Response.Status)
		replay(w, res.Response)
	case ClaimPending:
		if res.Fingerprint != fingerprint {
			h.cfg.WriteError(w, r, ErrKeyReused)
			return
		}
		h.cfg.WriteError(w, r, ErrRequestInProgress)
	default:
		h.runClaimed(w, r, storeKey)
	}
}

// runClaimed executes the wrapped handler for a freshly claimed key and
// records or releases the outcome.
func (h *interceptor) runClaimed(w http.ResponseWriter, r *http.Request, storeKey string) {
	capture := &captureWriter{ResponseWriter: w}
	state := &outcomeState{}
	r = r.WithContext(context.WithValue(r.Context(), outcomeContextKey{}, state))
	finished := false
	defer func() {
		if !finished {
			// The handler panicked; free the key so a retry can run.
			h.release(r, storeKey)
		}
	}()
	h.next.ServeHTTP(capture, r)
	finished = true

	status := capture.statusCode()
	if reason := unrecordedReason(r, status, state); reason != "" {
		h.cfg.Logger.Debug("idempotency claim released", "key", storeKey, "status", status, "reason", reason)
		h.release(r, storeKey)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.Timeout)
	defer cancel()
	err := h.cfg.Store.Complete(ctx, storeKey, Response{
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Headers:     replayableHeaders(capture.Header()),
		Body:        capture.body.Bytes(),
	})
	if err != nil {
		h.cfg.Logger.Warn("idempotency record not completed", "key", storeKey, "err", err)
	}
}

// unrecordedReason names why an outcome must not be replayed, or returns "".
// Outcomes that say nothing about the request itself stay retryable.
func unrecordedReason(r *http.Request, status int, state *outcomeState) string {
	switch {
	case r.Context().Err() != nil:
		return "request context ended"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "authorization failure"
	case status == http.StatusServiceUnavailable:
		return "service unavailable"
	case state.discard.Load():
		return "discarded by handler"
	default:
		return ""
	}
}

// outcomeContextKey stores the in-flight outcome state for one claimed key.
type outcomeContextKey struct{}

// outcomeState collects handler verdicts about the claimed request.
type outcomeState struct {
	discard atomic.Bool
}

// Discard marks the keyed request running under ctx as not replayable, so the
// interceptor releases its claim instead of recording the response. Handlers
// whose failures travel inside a 200 body use it for transient outcomes. It
// is a no-op outside the interceptor.
func Discard(ctx context.Context) {
	if state, ok := ctx.Value(outcomeContextKey{}).(*outcomeState); ok {
		state.discard.Store(true)
	}
}

// replayableHeaders copies the allow-listed response headers.
func replayableHeaders(header http.Header) map[string]string {
	var out map[string]string
	for _, name := range ReplayedHeaders {
		value := header.Get(name)
		if value == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(ReplayedHeaders))
		}
		out[name] = value
	}
	return out
}

// release drops a pending claim, logging failures only.
func (h *interceptor) release(r *http.Request, storeKey string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.Timeout)
	defer cancel()
	if err := h.cfg.Store.Release(ctx, storeKey); err != nil {
		h.cfg.Logger.Warn("idempotency claim not released", "key", storeKey, "err", err)
	}
}

// replay writes a stored response.
func replay(w http.ResponseWriter, resp Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	for _, name := range ReplayedHeaders {
		if value := resp.Headers[name]; value != "" {
			w.Header().Set(name, value)
		}
	}
	w.Header().Set(HeaderReplayed, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

// fingerprintRequest hashes method, path and body, then restores the body.
func fingerprintRequest(r *http.Request) (string, error) {
	var body []byte
	if r.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprintBody+1))
		_ = r.Body.Close()
		if err != nil {
			return "", err
		}
		if len(raw) > maxFingerprintBody {
			return "", ErrUnreadableBody
		}
		body = raw
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	sum := sha256.New()
	_, _ = io.WriteString(sum, r.Method)
	_, _ = sum.Write([]byte{0})
	_, _ = io.WriteString(sum, r.URL.Path)
	_, _ = sum.Write([]byte{0})
	_, _ = sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// isMutating reports whether a method is subject to deduplication.
func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// firstValue returns the first header value or "".
func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// statusFor maps interceptor errors to HTTP status codes.
func statusFor(err error) int {
	switch err {
	case ErrInvalidKey, ErrUnreadableBody:
		return http.StatusBadRequest
	case ErrRequestInProgress:
		return http.StatusConflict
	case ErrKeyReused:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// captureWriter tees the response to the client and a buffer.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

// WriteHeader implements http.ResponseWriter.
func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

// Write implements http.ResponseWriter.
func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

// statusCode returns the written status, 200 when nothing was written.
func (c *captureWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (c *captureWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
