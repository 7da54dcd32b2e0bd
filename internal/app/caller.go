package app

import (
	"context"
	"strings"

	"github.com/hylla/courtroom/internal/domain"
)

// Caller carries the authenticated identity attached by the transport.
type Caller struct {
	UserID string
	OrgID  string
	Role   domain.Role
}

// WithCaller attaches a normalized caller to context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	caller = normalizeCaller(caller)
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the caller when one was authenticated.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	raw := ctx.Value(callerContextKey{})
	caller, ok := raw.(Caller)
	if !ok {
		return Caller{}, false
	}
	caller = normalizeCaller(caller)
	if caller.UserID == "" {
		return Caller{}, false
	}
	return caller, true
}

// callerContextKey stores context keys for caller values.
type callerContextKey struct{}

// normalizeCaller trims identity fields and defaults the role to observer.
func normalizeCaller(caller Caller) Caller {
	caller.UserID = strings.TrimSpace(caller.UserID)
	caller.OrgID = strings.TrimSpace(caller.OrgID)
	caller.Role = domain.Role(strings.TrimSpace(strings.ToLower(string(caller.Role))))
	if caller.Role == "" {
		caller.Role = domain.RoleObserver
	}
	return caller
}
