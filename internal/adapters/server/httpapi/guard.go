package httpapi

import (
	"net/http"

	"github.com/hylla/courtroom/internal/app"
)

// Guard rejects callers the policy does not allow to run op before the
// wrapped handler sees the request.
func Guard(policy *app.Policy, op app.OperationID, problems ProblemWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := policy.AuthorizeContext(r.Context(), op)
			if err != nil {
				if problems.Logger != nil {
					problems.Logger.Info("access denied", "operation", op, "user_id", caller.UserID, "role", caller.Role, "err", err)
				}
				problems.Write(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
