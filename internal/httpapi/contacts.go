package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/switchboard-io/switchboard-api/internal/auth"
)

func (s *Server) handleReceivedRequests(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	reqs, err := s.Chat.ReceivedContactRequests(r.Context(), identity.UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, reqs)
}

func (s *Server) handleSentRequests(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	reqs, err := s.Chat.SentContactRequests(r.Context(), identity.UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, reqs)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())

	var body struct {
		ToUserID string `json:"toUserId"`
		Message  string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, r, err)
		return
	}

	cr, err := s.Chat.CreateContactRequest(r.Context(), identity, body.ToUserID, body.Message)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, cr)
}

func (s *Server) handleRespondRequest(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var body struct {
		Action string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, r, err)
		return
	}

	cr, err := s.Chat.RespondContactRequest(r.Context(), identity.UserID, id, body.Action)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, cr)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())

	var body struct {
		UserID string `json:"userId"`
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, r, err)
		return
	}

	b, err := s.Chat.BlockUser(r.Context(), identity.UserID, body.UserID, body.Reason)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, b)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	target := chi.URLParam(r, "userId")

	if err := s.Chat.UnblockUser(r.Context(), identity.UserID, target); err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"unblocked": true})
}

func (s *Server) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	blocks, err := s.Chat.ListBlocked(r.Context(), identity.UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, blocks)
}

func (s *Server) handleCanMessage(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	target := chi.URLParam(r, "userId")

	decision, err := s.Chat.CanMessage(r.Context(), identity, target)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"canMessage":       decision.Allowed,
		"requiresApproval": decision.RequiresApproval,
		"reason":           decision.Reason,
	})
}
