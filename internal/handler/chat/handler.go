package chat

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tavern-room/backend/internal/middleware"
	chatModel "github.com/zhouzirui/tavern-room/backend/internal/model/chat"
	chatService "github.com/zhouzirui/tavern-room/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-room/backend/internal/service/directory"
	"github.com/zhouzirui/tavern-room/backend/internal/service/identity"
	"github.com/zhouzirui/tavern-room/backend/internal/service/profile"
	"github.com/zhouzirui/tavern-room/backend/pkg/utils"
)

// Handler 聊天会话的HTTP处理器
type Handler struct {
	chatSvc  *chatService.Service
	auth     *middleware.Auth
	profiles profile.Store
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, auth *middleware.Auth, profiles profile.Store) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		auth:     auth,
		profiles: profiles,
	}
}

// RegisterRoutes 注册登录与会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Group(func(authed chi.Router) {
		authed.Use(h.auth.Require)
		authed.Get("/me", h.handleMe)
		authed.Post("/new_chat", h.handleNewChat)
		authed.Get("/chat_sessions", h.handleListSessions)
		authed.Get("/chat/{chatID}", h.handleHistory)
	})
}

type loginResponse struct {
	User      chatModel.Participant `json:"user"`
	Token     string                `json:"token"`
	ExpiresAt string                `json:"expires_at"`
}

// handleLogin 接收外部身份提供方已验证的资料并建立浏览器会话。
// 该接口信任调用方提交的邮箱，必须部署在完成 OAuth 校验的身份适配层之后，
// 并通过 CORS_ALLOWED_ORIGINS 限制可携带 cookie 的来源。
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload identity.LoginResult
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participant, err := identity.Normalize(payload)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// 用户资料写入失败不影响登录，/me 会退回令牌中的身份
	if _, err := h.profiles.Upsert(r.Context(), participant); err != nil {
		log.Printf("[auth] record profile for %s: %v", participant.Identity, err)
	}

	issuer := h.auth.Issuer()
	token, err := issuer.Issue(participant)
	if err != nil {
		log.Printf("[auth] issue token for %s: %v", participant.Identity, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	expires := issuer.Now().Add(issuer.TTL())
	h.auth.SetCookie(w, token, expires)
	utils.RespondJSON(w, http.StatusOK, loginResponse{
		User:      participant,
		Token:     token,
		ExpiresAt: expires.UTC().Format(time.RFC3339),
	})
}

// handleLogout 清除浏览器会话
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.auth.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleMe 返回当前用户的资料，包含首次登录时间
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFrom(r.Context())

	p, err := h.profiles.Get(r.Context(), principal.Participant.Identity)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		p = profile.FromParticipant(principal.Participant)
	case err != nil:
		log.Printf("[auth] load profile for %s: %v", principal.Participant.Identity, err)
		p = profile.FromParticipant(principal.Participant)
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

// handleNewChat 为当前用户创建一个私有会话
func (h *Handler) handleNewChat(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFrom(r.Context())

	sessionID, err := h.chatSvc.NewChat(r.Context(), principal.Participant)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID})
}

// handleListSessions 列出当前用户参与的会话，最近更新的在前
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFrom(r.Context())

	sessions, err := h.chatSvc.ListChats(r.Context(), principal.Participant)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, sessions)
}

// handleHistory 返回会话的完整有序消息记录
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	messages, err := h.chatSvc.History(r.Context(), chatID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "chat session not found")
	case errors.Is(err, directory.ErrMalformedSession):
		utils.RespondError(w, http.StatusBadRequest, "invalid chat session")
	case errors.Is(err, identity.ErrUnauthenticated), errors.Is(err, identity.ErrAuthExpired):
		middleware.RespondUnauthorized(w, err)
	default:
		log.Printf("[chat] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
