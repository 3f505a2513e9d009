package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nsxzhou1114/bloodlink-api/internal/config"
	"github.com/nsxzhou1114/bloodlink-api/internal/controller"
	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/internal/logger"
	"github.com/nsxzhou1114/bloodlink-api/internal/middleware"
	"github.com/nsxzhou1114/bloodlink-api/internal/service"
	"github.com/nsxzhou1114/bloodlink-api/pkg/websocket"
	"go.uber.org/zap"
)

// Deps 路由依赖
type Deps struct {
	Config        *config.Config
	Logger        *zap.SugaredLogger
	Tokens        middleware.TokenParser
	Hub           *websocket.Hub
	Notifications *service.NotificationService
	BloodRequests *service.BloodRequestService
	Comments      *service.CommentService
}

// New 创建 gin 引擎并注册全部路由
func New(deps *Deps) *gin.Engine {
	if deps.Config.App.Mode == gin.ReleaseMode || deps.Config.App.Mode == gin.TestMode {
		gin.SetMode(deps.Config.App.Mode)
	}
	r := gin.New()
	r.Use(logger.GinLogger(), gin.Recovery(), middleware.Cors(deps.Config.App.Cors))
	Setup(r, deps)
	return r
}

// Setup 设置API路由
func Setup(r *gin.Engine, deps *Deps) {
	dto.RegisterValidations()

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	// 实时连接
	wsPath := deps.Config.Realtime.Path
	if wsPath == "" {
		wsPath = "/api/ws"
	}
	wsApi := controller.NewWebSocketApi(deps.Logger, deps.Hub)
	r.GET(wsPath, middleware.WSAuth(deps.Tokens, deps.Logger), wsApi.HandleWebSocket)

	api := r.Group("/api")
	authed := api.Group("", middleware.JWTAuth(deps.Tokens, deps.Logger))

	// 实时连接统计
	authed.GET("/realtime/stats", wsApi.Stats)

	setupNotificationRoutes(authed, deps)
	setupBloodRequestRoutes(api, authed, deps)
	setupCommentRoutes(authed, deps)
}

// setupNotificationRoutes 设置通知相关路由
func setupNotificationRoutes(authed *gin.RouterGroup, deps *Deps) {
	notificationApi := controller.NewNotificationApi(deps.Logger, deps.Notifications)

	notificationRoutes := authed.Group("/notifications")
	{
		// 增量拉取
		notificationRoutes.GET("/after", notificationApi.ListAfter)
		// 分页列表
		notificationRoutes.GET("", notificationApi.List)
		notificationRoutes.GET("/unread-count", notificationApi.UnreadCount)
		notificationRoutes.PATCH("/mark-read/:id", notificationApi.MarkRead)
		notificationRoutes.PATCH("/mark-all-read", notificationApi.MarkAllRead)
		notificationRoutes.DELETE("/delete/:id", notificationApi.Delete)
		notificationRoutes.DELETE("/delete-all", notificationApi.DeleteAll)
	}
}

// setupBloodRequestRoutes 设置用血求助路由
func setupBloodRequestRoutes(api, authed *gin.RouterGroup, deps *Deps) {
	requestApi := controller.NewBloodRequestApi(deps.Logger, deps.BloodRequests)

	// 公开路由
	api.GET("/blood-requests/:id", requestApi.Get)

	requestRoutes := authed.Group("/blood-requests")
	{
		requestRoutes.POST("", requestApi.Create)
		requestRoutes.POST("/:id/volunteer", requestApi.Volunteer)
	}
}

// setupCommentRoutes 设置帖子与评论路由
func setupCommentRoutes(authed *gin.RouterGroup, deps *Deps) {
	commentApi := controller.NewCommentApi(deps.Logger, deps.Comments)

	authed.POST("/posts", commentApi.CreatePost)
	commentRoutes := authed.Group("/comments")
	{
		commentRoutes.POST("", commentApi.Create)
		commentRoutes.POST("/reply", commentApi.Reply)
	}
}
