package controller

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/nsxzhou1114/bloodlink-api/pkg/response"
	"github.com/nsxzhou1114/bloodlink-api/pkg/websocket"
	"go.uber.org/zap"
)

// WebSocketApi 实时连接控制器
type WebSocketApi struct {
	logger *zap.SugaredLogger
	hub    *websocket.Hub
}

// NewWebSocketApi 创建实时连接控制器
func NewWebSocketApi(logger *zap.SugaredLogger, hub *websocket.Hub) *WebSocketApi {
	return &WebSocketApi{logger: logger, hub: hub}
}

// HandleWebSocket 建立实时连接，身份由 WSAuth 中间件确定
func (api *WebSocketApi) HandleWebSocket(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}

	err = api.hub.ServeWS(c.Writer, c.Request, userID)
	switch {
	case err == nil:
	case errors.Is(err, websocket.ErrNotInitialized), errors.Is(err, websocket.ErrHubStopped):
		response.ServiceUnavailable(c, "实时推送暂不可用", err)
	default:
		// 升级失败时 upgrader 已写回错误响应
		api.logger.Warnf("用户 %d 建立实时连接失败: %v", userID, err)
	}
}

// Stats 获取实时连接统计
func (api *WebSocketApi) Stats(c *gin.Context) {
	response.Success(c, "获取成功", api.hub.Stats())
}
