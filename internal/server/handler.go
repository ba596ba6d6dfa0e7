package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/AYUS2005/ChatSphere/internal/auth"
	"github.com/AYUS2005/ChatSphere/internal/config"
	"github.com/AYUS2005/ChatSphere/internal/metrics"
	"github.com/AYUS2005/ChatSphere/internal/service"
	"github.com/AYUS2005/ChatSphere/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。会话级越权判断都在这一层完成，
// service 层信任调用者已经校验过成员身份。
type Handler struct {
	cfg     config.Config
	userSvc *service.UserService
	convSvc *service.ConversationService
	msgSvc  *service.MessageService
	hub     *ws.Hub
}

func NewHandler(cfg config.Config, userSvc *service.UserService, convSvc *service.ConversationService, msgSvc *service.MessageService, hub *ws.Hub) *Handler {
	return &Handler{cfg: cfg, userSvc: userSvc, convSvc: convSvc, msgSvc: msgSvc, hub: hub}
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") || len(req.Email) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	user, err := h.userSvc.Register(req.Email, req.Password, strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName))
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email taken"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListConversations 返回当前用户的聚合会话列表。
func (h *Handler) ListConversations(c *gin.Context) {
	userID := auth.GetUserID(c)
	convs, err := h.convSvc.ListForUser(userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("list conversations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// CreateConversation 处理建群或多人会话创建请求。
func (h *Handler) CreateConversation(c *gin.Context) {
	var req struct {
		Name      *string  `json:"name"`
		IsGroup   bool     `json:"is_group"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.MemberIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "member_ids required"})
		return
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if len(trimmed) > 128 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation name"})
			return
		}
		req.Name = &trimmed
	}
	userID := auth.GetUserID(c)
	conv, err := h.convSvc.Create(userID, req.Name, req.IsGroup, req.MemberIDs)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGroupNameRequired), errors.Is(err, service.ErrDirectMemberCount):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			log.Error().Err(err).Str("user_id", userID).Msg("create conversation")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		}
		return
	}
	if ids, err := h.convSvc.MemberIDs(conv.ID); err == nil {
		h.hub.Notify(ids, ws.Event{Type: "sync", Scope: ws.ScopeConversations, ConversationID: conv.ID})
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// CreateDirectConversation 查找或创建与另一用户的单聊。
func (h *Handler) CreateDirectConversation(c *gin.Context) {
	var req struct {
		OtherUserID string `json:"other_user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.OtherUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	userID := auth.GetUserID(c)
	conv, created, err := h.convSvc.FindOrCreateDirect(userID, req.OtherUserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSelfConversation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			log.Error().Err(err).Str("user_id", userID).Str("other_user_id", req.OtherUserID).Msg("direct conversation")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		}
		return
	}
	if created {
		h.hub.Notify([]string{userID, req.OtherUserID}, ws.Event{Type: "sync", Scope: ws.ScopeConversations, ConversationID: conv.ID})
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "created": created})
}

// ListMessages 返回会话消息列表，升序交付，默认取最近 50 条。
func (h *Handler) ListMessages(c *gin.Context) {
	convID := c.Param("id")
	userID := auth.GetUserID(c)
	if !h.requireMembership(c, convID, userID) {
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	msgs, err := h.msgSvc.List(convID, limit)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", convID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// CreateMessage 向会话写入消息，发送者由鉴权上下文确定且自动计为已读。
func (h *Handler) CreateMessage(c *gin.Context) {
	convID := c.Param("id")
	userID := auth.GetUserID(c)
	if !h.requireMembership(c, convID, userID) {
		return
	}
	var req struct {
		Content     string `json:"content"`
		MessageType string `json:"message_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content required"})
		return
	}
	msg, err := h.msgSvc.Create(convID, userID, req.Content, req.MessageType)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidMessageType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrConversationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		default:
			log.Error().Err(err).Str("conversation_id", convID).Str("user_id", userID).Msg("create message")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create message"})
		}
		return
	}
	metrics.MessagesCreatedTotal.Inc()
	if ids, err := h.convSvc.MemberIDs(convID); err == nil {
		h.hub.Notify(ids, ws.Event{Type: "sync", Scope: ws.ScopeMessages, ConversationID: convID})
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// MarkMessageRead 幂等标记消息已读。
func (h *Handler) MarkMessageRead(c *gin.Context) {
	msgID := c.Param("id")
	userID := auth.GetUserID(c)
	msg, err := h.msgSvc.Get(msgID)
	if err != nil {
		if errors.Is(err, service.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		log.Error().Err(err).Str("message_id", msgID).Msg("mark read lookup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	if !h.requireMembership(c, msg.ConversationID, userID) {
		return
	}
	if err := h.msgSvc.MarkRead(msgID, userID); err != nil {
		log.Error().Err(err).Str("message_id", msgID).Str("user_id", userID).Msg("mark read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	metrics.ReceiptsMarkedTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListReadReceipts 返回某条消息的已读回执列表。
func (h *Handler) ListReadReceipts(c *gin.Context) {
	msgID := c.Param("id")
	userID := auth.GetUserID(c)
	msg, err := h.msgSvc.Get(msgID)
	if err != nil {
		if errors.Is(err, service.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		log.Error().Err(err).Str("message_id", msgID).Msg("receipts lookup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list receipts"})
		return
	}
	if !h.requireMembership(c, msg.ConversationID, userID) {
		return
	}
	receipts, err := h.msgSvc.Receipts(msgID)
	if err != nil {
		log.Error().Err(err).Str("message_id", msgID).Msg("list receipts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list receipts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": receipts})
}

// SetStatus 更新当前用户的在线状态。
func (h *Handler) SetStatus(c *gin.Context) {
	var req struct {
		IsOnline *bool `json:"is_online"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsOnline == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	userID := auth.GetUserID(c)
	if err := h.userSvc.SetStatus(userID, *req.IsOnline); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("set status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListUsers 返回可发起会话的用户列表（不含请求者本人）。
func (h *Handler) ListUsers(c *gin.Context) {
	userID := auth.GetUserID(c)
	users, err := h.userSvc.List(userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// SyncConfig 下发客户端的固定轮询间隔。
func (h *Handler) SyncConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"conversation_poll_seconds": h.cfg.ConversationPollSeconds,
		"message_poll_seconds":      h.cfg.MessagePollSeconds,
	})
}

// requireMembership 校验当前用户是会话成员，不是则用 403/404 结束请求并返回 false。
func (h *Handler) requireMembership(c *gin.Context, conversationID, userID string) bool {
	if _, err := h.convSvc.Exists(conversationID); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return false
		}
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("membership lookup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return false
	}
	ok, err := h.convSvc.IsMember(conversationID, userID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Str("user_id", userID).Msg("membership check")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return false
	}
	return true
}
