package server

import (
	"net/http"
	"strings"

	"github.com/aristath/vantage/internal/domain"
)

// IdentityMiddleware reads the caller identity asserted by the upstream
// auth layer. Requests without X-Owner-ID pass through anonymous; handlers
// that need an identity reject those themselves.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := strings.TrimSpace(r.Header.Get("X-Owner-ID"))
		if ownerID == "" {
			next.ServeHTTP(w, r)
			return
		}

		role := domain.RoleUser
		if strings.EqualFold(r.Header.Get("X-Role"), string(domain.RoleAdmin)) {
			role = domain.RoleAdmin
		}

		ctx := domain.WithIdentity(r.Context(), domain.Identity{
			OwnerID: ownerID,
			Role:    role,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
