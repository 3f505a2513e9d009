package controller

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nsxzhou1114/bloodlink-api/internal/middleware"
	"github.com/nsxzhou1114/bloodlink-api/internal/service"
	"github.com/nsxzhou1114/bloodlink-api/pkg/response"
	"go.uber.org/zap"
)

// getUserIDFromContext 从上下文中获取用户ID
func getUserIDFromContext(c *gin.Context) (uint, error) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		return 0, errors.New("用户未登录")
	}
	return userID, nil
}

// parseIDParam 解析路径中的ID参数
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "无效的ID", err)
		return 0, false
	}
	return uint(id), true
}

// handleServiceError 将服务层错误映射为HTTP响应
func handleServiceError(c *gin.Context, logger *zap.SugaredLogger, action string, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, action+"失败: 资源不存在", err)
	case errors.Is(err, service.ErrInvalidArgument):
		response.BadRequest(c, action+"失败: 参数不合法", err)
	case errors.Is(err, service.ErrConflict):
		response.Conflict(c, action+"失败: 重复操作", err)
	case errors.Is(err, service.ErrUnauthorized):
		response.Forbidden(c, action+"失败: 无权操作", err)
	default:
		logger.Errorf("%s失败: %v", action, err)
		response.InternalServerError(c, action+"失败", err)
	}
}
