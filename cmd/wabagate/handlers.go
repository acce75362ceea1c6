package main

import (
	"net/http"
	"strconv"

	"wabagate/internal/constants"
	apperrors "wabagate/internal/errors"
	"wabagate/internal/models"
	"wabagate/internal/service"
	"wabagate/internal/validation"

	"github.com/gorilla/mux"
)

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func tenantVar(r *http.Request) (string, error) {
	tenantID := mux.Vars(r)["tenantID"]
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return "", err
	}
	return tenantID, nil
}

// Account connection

func (s *Server) handleStoreTempToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req struct {
			TempToken string `json:"temp_token"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		status, err := s.deps.Connections.StoreTempToken(r.Context(), tenantID, req.TempToken)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleFinalize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status, err := s.deps.Connections.Finalize(r.Context(), tenantID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleManualToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req struct {
			AccessToken string `json:"access_token"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		status, err := s.deps.Connections.ManualToken(r.Context(), tenantID, req.AccessToken)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleVerifyPhone() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req struct {
			Code string `json:"code"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		status, err := s.deps.Connections.VerifyPhone(r.Context(), tenantID, req.Code)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleAccountStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status, err := s.deps.Connections.Status(r.Context(), tenantID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleDisconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.deps.Connections.Disconnect(r.Context(), tenantID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Templates

func (s *Server) handleListTemplates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		templates, err := s.deps.Connections.ListTemplates(r.Context(), tenantID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"templates": nonNil(templates)})
	}
}

func (s *Server) handleCreateTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req service.CreateTemplateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		tpl, err := s.deps.Connections.CreateTemplate(r.Context(), tenantID, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, tpl)
	}
}

func (s *Server) handleSyncTemplates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		templates, err := s.deps.Connections.SyncTemplates(r.Context(), tenantID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"templates": nonNil(templates)})
	}
}

// Inbox

func (s *Server) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		q := r.URL.Query()
		convs, err := s.deps.Messaging.ListConversations(r.Context(), tenantID, models.ConversationFilter{
			Status: models.ConversationStatus(q.Get("status")),
			Search: q.Get("q"),
			Offset: queryInt(r, "offset", 0),
			Limit:  queryInt(r, "limit", constants.DefaultPageSize),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": nonNil(convs)})
	}
}

func (s *Server) handleSearchMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantVar(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		query := r.URL.Query().Get("q")
		if query == "" {
			s.writeError(w, r, apperrors.NewValidationError("q", "search query is required"))
			return
		}
		msgs, err := s.deps.Messaging.Search(r.Context(), tenantID, query, queryInt(r, "limit", constants.DefaultPageSize))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": nonNil(msgs)})
	}
}

func (s *Server) handleReadThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		msgs, err := s.deps.Messaging.ReadThread(r.Context(), id, queryInt(r, "offset", 0), queryInt(r, "limit", constants.DefaultPageSize))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": nonNil(msgs)})
	}
}

func (s *Server) handleConversationStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status models.ConversationStatus `json:"status"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		conv, err := s.deps.Messaging.UpdateConversationStatus(r.Context(), mux.Vars(r)["id"], req.Status)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func (s *Server) handleAssign() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AgentID string `json:"agent_id"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		conv, err := s.deps.Messaging.AssignAgent(r.Context(), mux.Vars(r)["id"], req.AgentID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func (s *Server) handleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Messaging.MarkRead(r.Context(), mux.Vars(r)["id"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Sending

func (s *Server) handleSendText() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConversationID string `json:"conversation_id"`
			Body           string `json:"body"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		msg, err := s.deps.Messaging.SendText(r.Context(), req.ConversationID, req.Body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleSendTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SendTemplateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		msg, err := s.deps.Messaging.SendTemplate(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleEnqueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.EnqueueRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		item, err := s.deps.Messaging.Enqueue(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, item)
	}
}

func (s *Server) handleGetQueueItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := s.deps.Messaging.GetQueueItem(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// Realtime

func (s *Server) handleInboxStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.URL.Query().Get("tenant_id")
		if err := validation.ValidateTenantID(tenantID); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.deps.Hub.ServeTenant(w, r, tenantID)
	}
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
