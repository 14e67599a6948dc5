package httpapi

import (
	"net/http"

	"github.com/switchboard-io/switchboard-api/internal/auth"
)

// handleMe echoes the verified identity as the surface sees it, including any
// tenant override. Useful for client bootstrapping and debugging.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	writeData(w, http.StatusOK, map[string]any{
		"userId":       identity.UserID,
		"tenantId":     identity.TenantID,
		"tenantRole":   identity.TenantRole,
		"platformRole": identity.PlatformRole,
		"email":        identity.Email,
		"displayName":  identity.DisplayName,
	})
}
