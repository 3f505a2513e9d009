package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationKind 通知类型
type NotificationKind string

const (
	// KindResourceRequest 用血求助匹配通知（广播类）
	KindResourceRequest NotificationKind = "resource_request"
	// KindComment 评论/回复通知（定向类）
	KindComment NotificationKind = "comment"
	// KindOther 其他通知，例如志愿者响应
	KindOther NotificationKind = "other"
)

// Valid 是否为合法的通知类型
func (k NotificationKind) Valid() bool {
	switch k {
	case KindResourceRequest, KindComment, KindOther:
		return true
	}
	return false
}

// Notification 通知模型
// 同一 (recipient_id, kind, redirect_path) 在聚合窗口内的事件合并为一条，窗口从最近一次合并起算
type Notification struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	RecipientID  uint             `gorm:"type:int(11);not null;index:idx_notification_bucket,priority:1;index:idx_notification_feed,priority:1" json:"recipient_id"`
	Kind         NotificationKind `gorm:"type:varchar(20);not null;index:idx_notification_bucket,priority:2" json:"kind"`
	RedirectPath string           `gorm:"type:varchar(255);not null;index:idx_notification_bucket,priority:3" json:"redirect_path"`
	Message      string           `gorm:"type:varchar(500);not null" json:"message"`
	Verb         string           `gorm:"type:varchar(200)" json:"-"`
	Payload      datatypes.JSON   `json:"payload"`
	ActorCount   int              `gorm:"type:int(11);not null;default:1" json:"actor_count"`
	IsRead       bool             `gorm:"not null;default:false;index" json:"is_read"`
	CreatedAt    time.Time        `gorm:"index:idx_notification_feed,priority:2;index:idx_notification_bucket,priority:4" json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TableName 指定表名
func (Notification) TableName() string {
	return "notifications"
}

// AfterFind 聚合桶中有多个参与者时改写展示文案
func (n *Notification) AfterFind(tx *gorm.DB) error {
	n.Message = n.DisplayMessage()
	return nil
}

// DisplayMessage 展示文案："{n} people <verb>"
func (n *Notification) DisplayMessage() string {
	if n.ActorCount > 1 && n.Verb != "" {
		return fmt.Sprintf("%d people %s", n.ActorCount, n.Verb)
	}
	return n.Message
}
