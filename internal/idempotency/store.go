// Package idempotency deduplicates retried mutating HTTP requests keyed by
// the Idempotency-Key header.
package idempotency

import (
	"context"
	"errors"
	"maps"
	"regexp"
	"slices"
	"time"
)

// DefaultTTL is how long a claimed key is remembered.
const DefaultTTL = 24 * time.Hour

// HeaderKey and related headers used by the interceptor.
const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
)

// ErrInvalidKey and related errors describe interceptor outcomes.
var (
	ErrInvalidKey        = errors.New("invalid idempotency key")
	ErrRequestInProgress = errors.New("a request with this idempotency key is still in progress")
	ErrKeyReused         = errors.New("idempotency key reused with a different request")
	ErrUnreadableBody    = errors.New("request body could not be read")
)

// keyPattern restricts keys to printable identifier characters.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// ValidKey reports whether raw is an acceptable idempotency key.
func ValidKey(raw string) bool {
	return keyPattern.MatchString(raw)
}

// State is the lifecycle stage of one stored record.
type State string

// Record states.
const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
)

// Response is the captured outcome replayed for completed keys.
type Response struct {
	Status      int
	ContentType string
	// Headers holds the replayable response headers named by ReplayedHeaders.
	Headers map[string]string
	Body    []byte
}

// ReplayedHeaders lists the response headers stored with a completed record.
var ReplayedHeaders = []string{"Location", "ETag"}

// cloneResponse deep-copies a response so stores never share buffers with
// callers.
func cloneResponse(resp Response) Response {
	out := Response{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Body:        slices.Clone(resp.Body),
	}
	if len(resp.Headers) > 0 {
		out.Headers = maps.Clone(resp.Headers)
	}
	return out
}

// ClaimOutcome reports what a Claim found.
type ClaimOutcome int

// Claim outcomes.
const (
	// ClaimFresh means the caller now owns the key and must run the request.
	ClaimFresh ClaimOutcome = iota
	ClaimPending
	ClaimCompleted
)

// ClaimResult is the result of one Claim call. Fingerprint and Response are
// set for pending and completed outcomes.
type ClaimResult struct {
	Outcome     ClaimOutcome
	Fingerprint string
	Response    Response
}

// Store keeps idempotency records. Claim must be atomic: of any number of
// concurrent callers for one key, exactly one observes ClaimFresh.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string) (ClaimResult, error)
	// Complete moves a pending record to completed. Unknown or expired keys
	// are ignored.
	Complete(ctx context.Context, key string, resp Response) error
	// Release drops a pending record so a later request can claim the key.
	Release(ctx context.Context, key string) error
}

// Logger is the logging surface the interceptor needs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
