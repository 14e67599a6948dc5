package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/switchboard-io/switchboard-api/internal/auth"
	"github.com/switchboard-io/switchboard-api/internal/service/chatservice"
)

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"), 50, 100)
	cursor := r.URL.Query().Get("cursor")

	views, page, err := s.Chat.GetMessages(r.Context(), identity.UserID, id, limit, cursor)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeDataMeta(w, http.StatusOK, views, page)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var in chatservice.SendMessageInput
	if err := decodeBody(r, &in); err != nil {
		writeErr(w, r, err)
		return
	}
	in.ConversationID = id

	view, err := s.Chat.SendMessage(r.Context(), identity, in)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	if s.Fanout != nil {
		participants, perr := s.Chat.ParticipantIDs(r.Context(), view.ConversationID)
		if perr != nil {
			log.Ctx(r.Context()).Warn().Err(perr).Msg("participant fanout lookup failed")
		}
		s.Fanout.BroadcastMessage(r.Context(), view, participants)
	}
	writeData(w, http.StatusCreated, view)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	convID, err := pathUUID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	msgID, err := pathUUID(r, "mid")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	view, err := s.Chat.GetMessage(r.Context(), identity.UserID, convID, msgID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	n, err := s.Chat.GetUnreadCount(r.Context(), identity.UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"unreadCount": n})
}
