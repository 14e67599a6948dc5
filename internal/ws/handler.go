package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/switchboard-io/switchboard-api/internal/auth"
	"github.com/switchboard-io/switchboard-api/internal/service/chatservice"
)

// closeUnauthorized is the application close code for a failed handshake.
const closeUnauthorized = 4401

// Handler upgrades GET /ws requests into sessions. Browsers cannot set
// headers on WebSocket dials, so the token travels as a query parameter;
// the Authorization header works as a fallback for non-browser clients.
type Handler struct {
	hub     *Hub
	svc     *chatservice.Service
	secret  string
	upgrade websocket.Upgrader
}

func NewHandler(hub *Hub, svc *chatservice.Service, secret string, corsOrigins []string) *Handler {
	allowAll := false
	allowed := make(map[string]struct{}, len(corsOrigins))
	for _, o := range corsOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return &Handler{
		hub:    hub,
		svc:    svc,
		secret: secret,
		upgrade: websocket.Upgrader{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrade.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	identity, err := h.authenticate(r)
	if err != nil {
		// No app frame flows on a failed handshake; close with the auth code.
		deadline := time.Now().Add(writeWait)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeUnauthorized, "authentication failed"), deadline)
		_ = conn.Close()
		return
	}

	newSession(conn, h.hub, h.svc, identity).run()
}

// authenticate verifies the handshake token and the optional tenant
// parameter. A tenant that differs from the token's is only allowed for
// platform staff, mirroring the X-Tenant-ID override on the REST surface.
func (h *Handler) authenticate(r *http.Request) (auth.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if hdr := r.Header.Get("Authorization"); strings.HasPrefix(hdr, "Bearer ") {
			token = strings.TrimPrefix(hdr, "Bearer ")
		}
	}

	identity, err := auth.VerifyToken(h.secret, token)
	if err != nil {
		return auth.Identity{}, err
	}

	if tenant := r.URL.Query().Get("tenantId"); tenant != "" && tenant != identity.TenantID {
		if !identity.IsPlatformStaff() {
			return auth.Identity{}, auth.ErrInvalidToken
		}
		identity.TenantID = tenant
	}
	return identity, nil
}
