package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// HeaderTenantID lets platform staff act within another tenant for a single call.
const HeaderTenantID = "X-Tenant-ID"

// TenantOverrideMiddleware swaps the identity's tenant when the X-Tenant-ID
// header is present and the caller holds a platform role. For everyone else
// the header is ignored; the token's tenant always wins.
// Must run after Middleware.
func TenantOverrideMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := strings.TrimSpace(r.Header.Get(HeaderTenantID))
			if tenant == "" {
				next.ServeHTTP(w, r)
				return
			}

			id := IdentityFrom(r.Context())
			if !id.IsPlatformStaff() {
				log.Ctx(r.Context()).Debug().
					Str("tenantId", tenant).
					Msg("ignoring tenant override from non-platform user")
				next.ServeHTTP(w, r)
				return
			}

			id.TenantID = tenant
			ctx := WithIdentity(r.Context(), id)
			logger := log.Ctx(ctx).With().Str("tenantId", tenant).Logger()
			next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx)))
		})
	}
}
