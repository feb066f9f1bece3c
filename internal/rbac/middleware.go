package rbac

import (
	"context"
	"net/http"

	"github.com/golang/glog"
)

var defaultChecker = NewChecker(nil)

// Require enforces a single permission.
func Require(perm string) func(http.Handler) http.Handler {
	return RequireAny(perm)
}

// RequireAny enforces that the role has at least one of the permissions.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" || !defaultChecker.Any(role, perms...) {
				glog.V(2).Infof("rbac: %s (%q) denied %v on %s", SubjectFromContext(r.Context()), role, perms, r.URL.Path)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Can reports whether the request's role holds perm under the default policy.
func Can(ctx context.Context, perm string) bool {
	return defaultChecker.Has(RoleFromContext(ctx), perm)
}
