package dto

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationListRequest 通知列表请求
type NotificationListRequest struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// NotificationAfterRequest 增量拉取请求，time 为 RFC3339 时间或毫秒时间戳
type NotificationAfterRequest struct {
	Time string `form:"time" binding:"required"`
}

// NotificationResponse 通知响应，同时作为实时推送的数据体
type NotificationResponse struct {
	ID           uint           `json:"id"`
	RecipientID  uint           `json:"recipient_id"`
	Kind         string         `json:"kind"`
	Message      string         `json:"message"`
	RedirectPath string         `json:"redirect_path"`
	Payload      datatypes.JSON `json:"payload,omitempty"`
	ActorCount   int            `json:"actor_count"`
	IsRead       bool           `json:"is_read"`
	CreatedAt    time.Time      `json:"created_at"`
}

// NotificationListResponse 通知列表响应
type NotificationListResponse struct {
	Total       int64                  `json:"total"`
	UnreadCount int64                  `json:"unread_count"`
	Page        int                    `json:"page"`
	PageSize    int                    `json:"page_size"`
	List        []NotificationResponse `json:"list"`
}

// NotificationUnreadCountResponse 未读通知数量响应
type NotificationUnreadCountResponse struct {
	Count int64 `json:"count"`
}
