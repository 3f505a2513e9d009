package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"github.com/nsxzhou1114/bloodlink-api/pkg/cache"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultAggregationWindow = 5 * time.Minute
	defaultStoreTimeout      = 5 * time.Second
	defaultPageSize          = 20
	maxPageSize              = 100
	writeAttempts            = 3
)

// NotificationInput 待写入的通知
type NotificationInput struct {
	RecipientID  uint
	Kind         model.NotificationKind
	Message      string // 单个参与者时的文案
	Verb         string // 聚合后 "{n} people <verb>" 使用的动词短语
	RedirectPath string
	Payload      interface{}
}

// NotificationService 通知存储服务
type NotificationService struct {
	db      *gorm.DB
	logger  *zap.SugaredLogger
	window  time.Duration
	timeout time.Duration
	now     func() time.Time
	cache   cache.Cache
}

// NewNotificationService 创建通知服务实例
func NewNotificationService(db *gorm.DB, logger *zap.SugaredLogger, window, timeout time.Duration) *NotificationService {
	if window <= 0 {
		window = defaultAggregationWindow
	}
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &NotificationService{
		db:      db,
		logger:  logger,
		window:  window,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock 替换时钟，测试使用
func (s *NotificationService) WithClock(now func() time.Time) *NotificationService {
	s.now = func() time.Time { return now().UTC() }
	return s
}

// WithCache 启用未读数缓存
func (s *NotificationService) WithCache(c cache.Cache) *NotificationService {
	s.cache = c
	return s
}

// invalidate 未读数变化后推进版本，旧版本的缓存不再被读取，失败只记录日志
func (s *NotificationService) invalidate(ctx context.Context, recipientID uint) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Incr(ctx, cache.UnreadVersion(recipientID)); err != nil {
		s.logger.Warnf("推进未读数缓存版本失败: recipient=%d, err=%v", recipientID, err)
	}
}

// unreadCacheKey 当前版本的未读数缓存键，版本不存在时为 0
func (s *NotificationService) unreadCacheKey(ctx context.Context, recipientID uint) (string, error) {
	var version int64
	err := s.cache.GetJSON(ctx, cache.UnreadVersion(recipientID), &version)
	if err != nil && !cache.IsMiss(err) {
		return "", err
	}
	return cache.UnreadKey(recipientID, version), nil
}

// Window 聚合窗口长度
func (s *NotificationService) Window() time.Duration {
	return s.window
}

func (s *NotificationService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// WindowStart 聚合窗口的下界，created_at 晚于它的记录仍可合并
func (s *NotificationService) WindowStart(now time.Time) time.Time {
	return now.UTC().Add(-s.window)
}

// Write 写入通知，同一接收者、类型、跳转路径在窗口内的重复事件合并为一条并累加参与者数
// 合并时 created_at 刷新为当前时间，窗口随之后移
func (s *NotificationService) Write(ctx context.Context, in *NotificationInput) (*model.Notification, error) {
	if in == nil || in.RecipientID == 0 || !in.Kind.Valid() {
		return nil, ErrInvalidArgument
	}

	var payload datatypes.JSON
	if in.Payload != nil {
		raw, err := json.Marshal(in.Payload)
		if err != nil {
			return nil, fmt.Errorf("序列化通知载荷失败: %w", err)
		}
		payload = raw
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		stored *model.Notification
		err    error
	)
	// 并发写入同一窗口时 MySQL 可能以死锁回滚其中一个事务，重试即可
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		stored, err = s.mergeOrInsert(ctx, in, payload, s.now())
		if err == nil || ctx.Err() != nil {
			break
		}
		s.logger.Warnf("写入通知第 %d 次失败: recipient=%d, err=%v", attempt, in.RecipientID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("写入通知失败: %w", err)
	}
	s.invalidate(ctx, in.RecipientID)
	return stored, nil
}

// mergeOrInsert 在一个事务内先尝试合并窗口内的记录，没有命中再插入新记录
func (s *NotificationService) mergeOrInsert(ctx context.Context, in *NotificationInput, payload datatypes.JSON, now time.Time) (*model.Notification, error) {
	var stored model.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bucket := tx.Model(&model.Notification{}).
			Where("recipient_id = ? AND kind = ? AND redirect_path = ? AND created_at > ?",
				in.RecipientID, in.Kind, in.RedirectPath, s.WindowStart(now))

		result := bucket.Updates(map[string]interface{}{
			"actor_count": gorm.Expr("actor_count + ?", 1),
			"message":     in.Message,
			"verb":        in.Verb,
			"payload":     payload,
			"is_read":     false,
			"created_at":  now,
			"updated_at":  now,
		})
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected > 0 {
			return tx.Where("recipient_id = ? AND kind = ? AND redirect_path = ? AND created_at > ?",
				in.RecipientID, in.Kind, in.RedirectPath, s.WindowStart(now)).
				Order("created_at DESC, id DESC").
				First(&stored).Error
		}

		stored = model.Notification{
			RecipientID:  in.RecipientID,
			Kind:         in.Kind,
			RedirectPath: in.RedirectPath,
			Message:      in.Message,
			Verb:         in.Verb,
			Payload:      payload,
			ActorCount:   1,
			IsRead:       false,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.Create(&stored).Error
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// ListAfter 获取指定时间之后创建的通知，按创建时间倒序
func (s *NotificationService) ListAfter(ctx context.Context, recipientID uint, since time.Time) ([]model.Notification, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var list []model.Notification
	err := s.db.WithContext(ctx).
		Where("recipient_id = ? AND created_at > ?", recipientID, since.UTC()).
		Order("created_at DESC, id DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("查询通知失败: %w", err)
	}
	return list, nil
}

// ListAll 分页获取全部通知，附带总数与未读数
func (s *NotificationService) ListAll(ctx context.Context, recipientID uint, page, pageSize int) (*dto.NotificationListResponse, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.db.WithContext(ctx).Model(&model.Notification{}).Where("recipient_id = ?", recipientID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("统计通知数量失败: %w", err)
	}

	var unread int64
	if err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&unread).Error; err != nil {
		return nil, fmt.Errorf("统计未读通知失败: %w", err)
	}

	var list []model.Notification
	if err := query.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("查询通知列表失败: %w", err)
	}

	return &dto.NotificationListResponse{
		Total:       total,
		UnreadCount: unread,
		Page:        page,
		PageSize:    pageSize,
		List:        ToNotificationResponses(list),
	}, nil
}

// UnreadCount 获取未读通知数量
// 先读版本再查库，查库期间发生的变更会推进版本，回写的旧值落在旧版本键上
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID uint) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		count int64
		key   string
	)
	if s.cache != nil {
		k, err := s.unreadCacheKey(ctx, recipientID)
		if err == nil {
			key = k
			err = s.cache.GetJSON(ctx, key, &count)
			if err == nil {
				return count, nil
			}
		}
		if !cache.IsMiss(err) {
			s.logger.Warnf("读取未读数缓存失败: recipient=%d, err=%v", recipientID, err)
		}
	}

	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计未读通知失败: %w", err)
	}

	if key != "" {
		if err := s.cache.SetJSON(ctx, key, count, cache.UnreadCountExpiration); err != nil {
			s.logger.Warnf("写入未读数缓存失败: recipient=%d, err=%v", recipientID, err)
		}
	}
	return count, nil
}

// MarkRead 标记单条通知为已读，重复标记不报错
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID uint) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.ensureOwned(ctx, id, recipientID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Update("is_read", true).Error
	if err != nil {
		return fmt.Errorf("标记通知已读失败: %w", err)
	}
	s.invalidate(ctx, recipientID)
	return nil
}

// MarkAllRead 标记所有通知为已读，返回受影响条数
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID uint) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("标记所有通知已读失败: %w", result.Error)
	}
	s.invalidate(ctx, recipientID)
	return result.RowsAffected, nil
}

// Delete 删除单条通知
func (s *NotificationService) Delete(ctx context.Context, id, recipientID uint) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Delete(&model.Notification{})
	if result.Error != nil {
		return fmt.Errorf("删除通知失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.invalidate(ctx, recipientID)
	return nil
}

// DeleteAll 删除用户全部通知，返回删除条数
func (s *NotificationService) DeleteAll(ctx context.Context, recipientID uint) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Delete(&model.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("删除全部通知失败: %w", result.Error)
	}
	s.invalidate(ctx, recipientID)
	return result.RowsAffected, nil
}

// CleanupRead 清理早于指定时间的已读通知
func (s *NotificationService) CleanupRead(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, olderThan.UTC()).
		Delete(&model.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理已读通知失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ensureOwned 通知不存在或不属于该用户时返回 ErrNotFound
func (s *NotificationService) ensureOwned(ctx context.Context, id, recipientID uint) error {
	var n model.Notification
	err := s.db.WithContext(ctx).Select("id").
		Where("id = ? AND recipient_id = ?", id, recipientID).
		First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("查询通知失败: %w", err)
	}
	return nil
}

// ToNotificationResponse 转换为响应结构
func ToNotificationResponse(n *model.Notification) dto.NotificationResponse {
	return dto.NotificationResponse{
		ID:           n.ID,
		RecipientID:  n.RecipientID,
		Kind:         string(n.Kind),
		Message:      n.DisplayMessage(),
		RedirectPath: n.RedirectPath,
		Payload:      n.Payload,
		ActorCount:   n.ActorCount,
		IsRead:       n.IsRead,
		CreatedAt:    n.CreatedAt,
	}
}

// ToNotificationResponses 批量转换
func ToNotificationResponses(list []model.Notification) []dto.NotificationResponse {
	result := make([]dto.NotificationResponse, 0, len(list))
	for i := range list {
		result = append(result, ToNotificationResponse(&list[i]))
	}
	return result
}
