package middleware

import (
	"context"
	"net/http"
	"strings"

	"genserver/internal/domain"
)

type ownerKey string

const ownerRefKey ownerKey = "owner_ref"

// Owner resolves the paying identity from the headers set by the fronting
// web layer: X-Account-ID for authenticated accounts, X-Guest-Grant for
// prepaid guest grants. Account identity wins when both are present.
func Owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ref string
		if accountID := strings.TrimSpace(r.Header.Get("X-Account-ID")); accountID != "" {
			ref = domain.AccountRef(accountID)
		} else if grant := strings.TrimSpace(r.Header.Get("X-Guest-Grant")); grant != "" {
			ref = domain.GuestRef(grant)
		}
		if ref != "" {
			r = r.WithContext(context.WithValue(r.Context(), ownerRefKey, ref))
		}
		next.ServeHTTP(w, r)
	})
}

// OwnerRefFromContext returns the owner ref or "" when no identity was sent.
func OwnerRefFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerRefKey).(string); ok {
		return v
	}
	return ""
}
