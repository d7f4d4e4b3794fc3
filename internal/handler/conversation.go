package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lexcomms/internal/chat"
	"github.com/lexcomms/internal/middleware"
	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/repository"
)

type ConversationHandler struct {
	convRepo *repository.ConversationRepository
	chat     *chat.Service
}

func NewConversationHandler(convRepo *repository.ConversationRepository, chatSvc *chat.Service) *ConversationHandler {
	return &ConversationHandler{convRepo: convRepo, chat: chatSvc}
}

type createConversationRequest struct {
	Subject      string `json:"subject"`
	Participants []struct {
		UserID     string                `json:"user_id"`
		Role       model.ParticipantRole `json:"role"`
		NotifyMode model.NotifyMode      `json:"notify_mode"`
	} `json:"participants"`
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	orgID := middleware.GetOrgID(r.Context())

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject required")
		return
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Subject:   req.Subject,
		CreatedBy: userID,
		CreatedAt: now,
	}
	if err := h.convRepo.Create(r.Context(), conv); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	// The creator always joins as owner; the request lists the others.
	members := []model.Participant{{ConversationID: conv.ID, UserID: userID, Role: model.RoleOwner, NotifyMode: model.NotifyAll, JoinedAt: now}}
	for _, p := range req.Participants {
		if p.UserID == "" || p.UserID == userID {
			continue
		}
		role := p.Role
		if role == "" {
			role = model.RoleMember
		}
		mode := p.NotifyMode
		if mode == "" {
			mode = model.NotifyAll
		}
		members = append(members, model.Participant{ConversationID: conv.ID, UserID: p.UserID, Role: role, NotifyMode: mode, JoinedAt: now})
	}
	for i := range members {
		if err := h.convRepo.AddParticipant(r.Context(), &members[i]); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to add participant")
			return
		}
	}

	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	userID := middleware.GetUserID(r.Context())

	ok, err := h.convRepo.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}
	conv, err := h.convRepo.GetByID(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type postMessageRequest struct {
	ClientID string `json:"client_id"`
	Content  string `json:"content"`
}

// PostMessage ingests one message. Retrying with the same client_id returns
// the originally stored row, not a duplicate.
func (h *ConversationHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	userID := middleware.GetUserID(r.Context())

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	m, err := h.chat.Ingest(r.Context(), conversationID, req.ClientID, userID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyContent):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, chat.ErrNotParticipant):
			writeError(w, http.StatusForbidden, "not a participant")
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, repository.ErrConflict):
			writeError(w, http.StatusConflict, "sequence contention, retry")
		default:
			writeError(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetMessages is the catch-up read: everything after a known seq, in order.
func (h *ConversationHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	userID := middleware.GetUserID(r.Context())

	afterSeq := queryInt64(r, "after_seq", 0)
	limit := queryInt(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}

	messages, err := h.chat.Messages(r.Context(), conversationID, userID, afterSeq, limit)
	if err != nil {
		writeChatError(w, err, "failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type markReadRequest struct {
	Seq int64 `json:"seq"`
}

func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	userID := middleware.GetUserID(r.Context())

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.chat.AdvanceRead(r.Context(), conversationID, userID, req.Seq); err != nil {
		writeChatError(w, err, "failed to mark read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	userID := middleware.GetUserID(r.Context())

	count, err := h.chat.UnreadCount(r.Context(), conversationID, userID)
	if err != nil {
		writeChatError(w, err, "failed to count unread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": count})
}

type participantRequest struct {
	UserID     string                `json:"user_id"`
	Role       model.ParticipantRole `json:"role"`
	NotifyMode model.NotifyMode      `json:"notify_mode"`
}

func (h *ConversationHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	callerID := middleware.GetUserID(r.Context())

	ok, err := h.convRepo.IsParticipant(r.Context(), conversationID, callerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	if req.Role == "" {
		req.Role = model.RoleMember
	}
	if req.NotifyMode == "" {
		req.NotifyMode = model.NotifyAll
	}
	p := &model.Participant{
		ConversationID: conversationID,
		UserID:         req.UserID,
		Role:           req.Role,
		NotifyMode:     req.NotifyMode,
		JoinedAt:       time.Now().UTC(),
	}
	if err := h.convRepo.AddParticipant(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add participant")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ConversationHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	targetID := chi.URLParam(r, "userId")
	callerID := middleware.GetUserID(r.Context())

	ok, err := h.convRepo.IsParticipant(r.Context(), conversationID, callerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}
	if err := h.convRepo.RemoveParticipant(r.Context(), conversationID, targetID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "participant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove participant")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type notifyModeRequest struct {
	Mode model.NotifyMode `json:"mode"`
}

// SetNotifyMode switches the caller between all-messages and mentions-only
// fanout for this conversation.
func (h *ConversationHandler) SetNotifyMode(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	userID := middleware.GetUserID(r.Context())

	var req notifyModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Mode != model.NotifyAll && req.Mode != model.NotifyMentions {
		writeError(w, http.StatusBadRequest, "mode must be all or mentions")
		return
	}
	if err := h.convRepo.SetNotifyMode(r.Context(), conversationID, userID, req.Mode); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusForbidden, "not a participant")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to set notify mode")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeChatError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, chat.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "not a participant")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
