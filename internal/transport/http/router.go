package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsage/backend/internal/config"
	"mailsage/backend/internal/health"
	"mailsage/backend/internal/middleware"
	"mailsage/backend/internal/monitoring"
	"mailsage/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config    *config.Config
	Handler   *Handler
	WebSocket *websocket.Handler
	Health    *health.Checker
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery(deps.Metrics, deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	if deps.Metrics != nil {
		router.Use(middleware.HTTPMetrics(deps.Metrics))
	}

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range deps.Config.CORS.AllowedOrigins {
		if origin == "*" {
			// 通配来源与凭据互斥
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowOrigins = nil
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 运维端点
	if deps.Health != nil {
		router.GET("/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// 实时通知
	if deps.WebSocket != nil {
		router.GET("/v1/ws", deps.WebSocket.Serve())
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/accounts", deps.Handler.CreateAccount)

		account := v1.Group("/accounts/:accountId")
		{
			account.POST("/aliases", deps.Handler.AddAlias)
			account.POST("/forwarding-rules", deps.Handler.AddForwardingRule)
			account.POST("/scheduled-sends", deps.Handler.ScheduleSend)

			account.GET("/messages", deps.Handler.ListMessages)
			account.GET("/messages/:messageId", deps.Handler.GetMessage)
			account.GET("/messages/:messageId/raw", deps.Handler.GetRawMessage)
			account.POST("/messages/:messageId/read", deps.Handler.MarkMessageRead)
			account.POST("/messages/:messageId/move", deps.Handler.MoveMessage)
			account.GET("/messages/:messageId/attachments/:attachmentId", deps.Handler.GetAttachment)
		}
	}

	return router
}
