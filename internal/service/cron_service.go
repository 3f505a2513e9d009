package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// 表达式带秒字段，例如
// "0 */5 * * * *"  每隔5分钟
// "0 0 3 * * *"    每天凌晨3点

// CronService 定时任务
type CronService struct {
	cron          *cron.Cron
	notifications *NotificationService
	logger        *zap.SugaredLogger
	retention     time.Duration
}

// NewCronService 创建定时任务服务
func NewCronService(notifications *NotificationService, logger *zap.SugaredLogger, retentionDays int) *CronService {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &CronService{
		cron:          cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		notifications: notifications,
		logger:        logger,
		retention:     time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Start 注册任务并启动
func (s *CronService) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.CleanupReadNotifications); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Infof("定时任务已启动: 清理已读通知 (%s)", spec)
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *CronService) Stop() {
	<-s.cron.Stop().Done()
}

// CleanupReadNotifications 清理超过保留期的已读通知
func (s *CronService) CleanupReadNotifications() {
	before := time.Now().UTC().Add(-s.retention)
	removed, err := s.notifications.CleanupRead(context.Background(), before)
	if err != nil {
		s.logger.Errorf("清理已读通知失败: %v", err)
		return
	}
	s.logger.Infof("清理已读通知 %d 条 (早于 %s)", removed, before.Format(time.RFC3339))
}
