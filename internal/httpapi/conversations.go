package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/switchboard-io/switchboard-api/internal/apperr"
	"github.com/switchboard-io/switchboard-api/internal/auth"
	"github.com/switchboard-io/switchboard-api/internal/service/chatservice"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	limit := parseLimit(r.URL.Query().Get("limit"), 20, 100)
	cursor := r.URL.Query().Get("cursor")

	views, page, err := s.Chat.GetConversations(r.Context(), identity.UserID, limit, cursor)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeDataMeta(w, http.StatusOK, views, page)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())

	var in chatservice.CreateConversationInput
	if err := decodeBody(r, &in); err != nil {
		writeErr(w, r, err)
		return
	}

	view, err := s.Chat.CreateConversation(r.Context(), identity, in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, view)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	view, err := s.Chat.GetConversation(r.Context(), identity.UserID, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

func (s *Server) handleGetParticipants(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	views, err := s.Chat.GetParticipants(r.Context(), identity.UserID, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, views)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	if _, err := s.Chat.MarkAsRead(r.Context(), identity.UserID, id); err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"marked": true})
}

// pathUUID parses a UUID path parameter.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.KindValidation, "invalid %s", name).
			WithDetail("fields", []string{name})
	}
	return id, nil
}
