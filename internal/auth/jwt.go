package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/switchboard-io/switchboard-api/internal/apperr"
)

type ctxKey string

const ctxIdentity ctxKey = "identity"

// ErrInvalidToken is the single error surfaced for any token failure.
// Provider-specific parse errors are logged, never returned.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified principal extracted from a bearer token.
type Identity struct {
	UserID       string
	TenantID     string
	TenantRole   string
	PlatformRole string
	Email        string
	DisplayName  string
}

// IsPlatformStaff reports whether the identity carries any platform role
func (id Identity) IsPlatformStaff() bool {
	return id.PlatformRole != ""
}

// JWTCfg holds token verification configuration
type JWTCfg struct {
	HS256Secret string // HMAC secret for HS256 tokens
	DevMode     bool   // Allow X-Debug-User header (DANGEROUS: only for local dev)
}

// VerifyToken validates an HS256 bearer token and extracts the identity.
// Used by both the HTTP middleware and the session handshake.
func VerifyToken(secret, tokenString string) (Identity, error) {
	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !t.Valid {
		log.Debug().Err(err).Msg("token verification failed")
		return Identity{}, ErrInvalidToken
	}

	id := Identity{}
	if s, ok := claims["sub"].(string); ok {
		id.UserID = s
	}
	if s, ok := claims["tenantId"].(string); ok {
		id.TenantID = s
	}
	if s, ok := claims["tenantRole"].(string); ok {
		id.TenantRole = s
	}
	if s, ok := claims["platformRole"].(string); ok {
		id.PlatformRole = s
	}
	if s, ok := claims["email"].(string); ok {
		id.Email = s
	}
	if s, ok := claims["displayName"].(string); ok {
		id.DisplayName = s
	}

	if id.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

// Middleware creates HTTP middleware that authenticates requests.
// Supports two modes:
// 1. Production: Bearer token with JWT validation
// 2. Development: X-Debug-User / X-Debug-Tenant headers (ONLY when DevMode=true)
func Middleware(cfg JWTCfg) func(http.Handler) http.Handler {
	if cfg.DevMode {
		log.Warn().Msg("SECURITY WARNING: DevMode enabled - X-Debug-User header will bypass token authentication")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}

			var id Identity

			// Development mode: accept debug headers ONLY if DevMode is enabled and no token present
			if cfg.DevMode && tok == "" {
				if sub := r.Header.Get("X-Debug-User"); sub != "" {
					id = Identity{
						UserID:       sub,
						TenantID:     r.Header.Get("X-Debug-Tenant"),
						TenantRole:   r.Header.Get("X-Debug-Tenant-Role"),
						PlatformRole: r.Header.Get("X-Debug-Platform-Role"),
					}
					log.Debug().Str("userId", sub).Msg("using X-Debug-User header (dev mode)")
				}
			}

			if tok != "" {
				var err error
				id, err = VerifyToken(cfg.HS256Secret, tok)
				if err != nil {
					log.Warn().Msg("token validation failed")
					writeUnauthorized(w, "missing or invalid token")
					return
				}
			}

			if id.UserID == "" {
				writeUnauthorized(w, "missing or invalid token")
				return
			}

			ctx := WithIdentity(r.Context(), id)
			logger := log.Ctx(ctx).With().Str("userId", id.UserID).Logger()
			ctx = logger.WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity returns a context carrying the identity
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, id)
}

// IdentityFrom extracts the authenticated identity from request context.
// Returns the zero Identity if not authenticated (should never happen after middleware).
func IdentityFrom(ctx context.Context) Identity {
	if v := ctx.Value(ctxIdentity); v != nil {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

// UserID extracts the authenticated user ID from request context
func UserID(ctx context.Context) string {
	return IdentityFrom(ctx).UserID
}

// writeUnauthorized emits the standard response envelope without importing the
// HTTP package (which depends on this one).
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    string(apperr.KindUnauthorized),
			"message": message,
		},
	})
}
