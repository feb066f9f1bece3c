package auth

import (
	"context"
	"net/http"

	"github.com/golang/glog"

	"github.com/mind-engage/mindengage-nmt/internal/rbac"
)

// RoleLookup returns the stored role of a profile.
type RoleLookup func(ctx context.Context, id string) (string, error)

// AttachRoleFromStore replaces the token's role with the stored one, so a
// demoted or deleted user loses access before the token expires. Runs after
// JWTMiddleware.
func AttachRoleFromStore(lookup RoleLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sub := rbac.SubjectFromContext(ctx)
			role, err := lookup(ctx, sub)
			if err != nil || role == "" {
				glog.V(1).Infof("attach role for %q: %v", sub, err)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			if claimRole := rbac.RoleFromContext(ctx); claimRole != role {
				glog.V(1).Infof("role of %s changed from %q to %q", sub, claimRole, role)
			}
			next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, role)))
		})
	}
}
