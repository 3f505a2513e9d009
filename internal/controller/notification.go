package controller

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/internal/service"
	"github.com/nsxzhou1114/bloodlink-api/pkg/response"
	"go.uber.org/zap"
)

// NotificationApi 通知API控制器
type NotificationApi struct {
	logger        *zap.SugaredLogger
	notifications *service.NotificationService
}

// NewNotificationApi 创建通知API控制器
func NewNotificationApi(logger *zap.SugaredLogger, notifications *service.NotificationService) *NotificationApi {
	return &NotificationApi{logger: logger, notifications: notifications}
}

// ListAfter 增量拉取指定时间之后的通知，供客户端补齐离线期间的通知
func (api *NotificationApi) ListAfter(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}

	var req dto.NotificationAfterRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "参数错误", err)
		return
	}
	since, err := ParseSince(req.Time)
	if err != nil {
		response.BadRequest(c, "时间格式错误", err)
		return
	}

	list, err := api.notifications.ListAfter(c.Request.Context(), userID, since)
	if err != nil {
		handleServiceError(c, api.logger, "获取通知", err)
		return
	}
	response.Success(c, "获取成功", service.ToNotificationResponses(list))
}

// List 分页获取全部通知
func (api *NotificationApi) List(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}

	var req dto.NotificationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "参数错误", err)
		return
	}

	result, err := api.notifications.ListAll(c.Request.Context(), userID, req.Page, req.PageSize)
	if err != nil {
		handleServiceError(c, api.logger, "获取通知列表", err)
		return
	}
	response.Success(c, "获取成功", result)
}

// UnreadCount 获取未读通知数量
func (api *NotificationApi) UnreadCount(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}

	count, err := api.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, api.logger, "获取未读数量", err)
		return
	}
	response.Success(c, "获取成功", dto.NotificationUnreadCountResponse{Count: count})
}

// MarkRead 标记单条通知为已读
func (api *NotificationApi) MarkRead(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := api.notifications.MarkRead(c.Request.Context(), id, userID); err != nil {
		handleServiceError(c, api.logger, "标记已读", err)
		return
	}
	response.Success(c, "标记已读成功", nil)
}

// MarkAllRead 标记所有通知为已读
func (api *NotificationApi) MarkAllRead(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}

	n, err := api.notifications.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, api.logger, "标记所有已读", err)
		return
	}
	response.Success(c, "标记所有已读成功", gin.H{"updated": n})
}

// Delete 删除单条通知
func (api *NotificationApi) Delete(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := api.notifications.Delete(c.Request.Context(), id, userID); err != nil {
		handleServiceError(c, api.logger, "删除通知", err)
		return
	}
	response.Success(c, "删除成功", nil)
}

// DeleteAll 删除全部通知
func (api *NotificationApi) DeleteAll(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}

	n, err := api.notifications.DeleteAll(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, api.logger, "删除全部通知", err)
		return
	}
	response.Success(c, "删除成功", gin.H{"deleted": n})
}

// ParseSince 解析游标时间，支持 RFC3339 与毫秒时间戳
func ParseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("时间不能为空")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms < 0 {
			return time.Time{}, fmt.Errorf("无效的时间戳: %d", ms)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("无法解析时间 %q: %w", raw, err)
	}
	return t.UTC(), nil
}
