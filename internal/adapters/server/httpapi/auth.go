package httpapi

import (
	"net/http"
	"strings"

	"github.com/hylla/courtroom/internal/app"
	"github.com/hylla/courtroom/internal/domain"
)

// Identity headers set by the trusted edge proxy.
const (
	HeaderUserID = "X-User-ID"
	HeaderOrgID  = "X-Org-ID"
	HeaderRole   = "X-Workspace-Role"
)

// Authenticate places the caller named by the identity headers into the
// request context. Requests without a user id carry no caller; a missing role
// means observer.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := app.WithCaller(r.Context(), app.Caller{
			UserID: userID,
			OrgID:  r.Header.Get(HeaderOrgID),
			Role:   domain.Role(r.Header.Get(HeaderRole)),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerScope keys idempotency records by the authenticated subject.
func CallerScope(r *http.Request) string {
	caller, ok := app.CallerFromContext(r.Context())
	if !ok {
		return ""
	}
	return caller.UserID
}
