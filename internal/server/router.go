package server

import (
	"net/http"
	"time"

	"github.com/AYUS2005/ChatSphere/internal/auth"
	"github.com/AYUS2005/ChatSphere/internal/config"
	"github.com/AYUS2005/ChatSphere/internal/metrics"
	"github.com/AYUS2005/ChatSphere/internal/mw"
	"github.com/AYUS2005/ChatSphere/internal/service"
	"github.com/AYUS2005/ChatSphere/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及提示流端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(
		cfg,
		service.NewUserService(db, cfg),
		service.NewConversationService(db),
		service.NewMessageService(db),
		hub,
	)

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.GET("/conversations", h.ListConversations)
	authed.POST("/conversations", h.CreateConversation)
	authed.POST("/conversations/direct", h.CreateDirectConversation)
	authed.GET("/conversations/:id/messages", h.ListMessages)
	authed.POST("/conversations/:id/messages", h.CreateMessage)
	authed.POST("/messages/:id/read", h.MarkMessageRead)
	authed.GET("/messages/:id/receipts", h.ListReadReceipts)
	authed.POST("/users/status", h.SetStatus)
	authed.GET("/users", h.ListUsers)
	authed.GET("/sync", h.SyncConfig)

	r.GET("/ws", ws.Serve(hub, db, cfg))

	return r
}
