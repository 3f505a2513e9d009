package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"github.com/nsxzhou1114/bloodlink-api/pkg/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NotificationWriter 通知写入
type NotificationWriter interface {
	Write(ctx context.Context, in *NotificationInput) (*model.Notification, error)
}

// Pusher 实时推送
type Pusher interface {
	Push(ctx context.Context, recipientID uint, evt websocket.Event) (int, error)
}

// DeliveryGuard 保证同一事件只分发一次
type DeliveryGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisDeliveryGuard 基于 SETNX 的分发去重
type RedisDeliveryGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeliveryGuard 创建Redis分发去重
func NewRedisDeliveryGuard(client *redis.Client, ttl time.Duration) *RedisDeliveryGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeliveryGuard{client: client, ttl: ttl}
}

// Acquire 首次获取返回 true
func (g *RedisDeliveryGuard) Acquire(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, key, time.Now().UTC().Unix(), g.ttl).Result()
}

// Release 释放去重键，允许之后重新分发
func (g *RedisDeliveryGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, key).Err()
}

// DeliveryReport 一次分发的结果
type DeliveryReport struct {
	Tier        MatchTier
	Candidates  int
	Written     int
	Pushed      int // 推送调用成功的接收者数
	Connections int // 实际送达的连接数
	Skipped     bool
	Err         error // 逐个接收者的失败，用 multierr 合并
}

// Failed 失败的接收者数
func (r *DeliveryReport) Failed() int {
	return len(multierr.Errors(r.Err))
}

// ToResponse 转换为响应结构
func (r *DeliveryReport) ToResponse() *dto.DeliveryReportResponse {
	return &dto.DeliveryReportResponse{
		Tier:       string(r.Tier),
		Candidates: r.Candidates,
		Written:    r.Written,
		Pushed:     r.Pushed,
		Failed:     r.Failed(),
	}
}

// CommentEvent 新评论或回复
type CommentEvent struct {
	Comment *model.Comment
	Post    *model.Post
	Parent  *model.Comment // 顶层评论为 nil
	Actor   *model.User
}

// DeliveryOptions 分发配置
type DeliveryOptions struct {
	Workers    int
	NotifySelf bool
}

// DeliveryService 通知分发协调
type DeliveryService struct {
	store   NotificationWriter
	matcher *MatchEngine
	pusher  Pusher
	guard   DeliveryGuard
	logger  *zap.SugaredLogger
	opts    DeliveryOptions
}

// NewDeliveryService 创建分发服务，guard 可为 nil
func NewDeliveryService(store NotificationWriter, matcher *MatchEngine, pusher Pusher, guard DeliveryGuard, logger *zap.SugaredLogger, opts DeliveryOptions) *DeliveryService {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &DeliveryService{
		store:   store,
		matcher: matcher,
		pusher:  pusher,
		guard:   guard,
		logger:  logger,
		opts:    opts,
	}
}

// BloodRequestGuardKey 求助分发去重键
func BloodRequestGuardKey(requestID uint) string {
	return fmt.Sprintf("delivery:blood_request:%d", requestID)
}

// BroadcastBloodRequest 为新求助匹配献血者并逐个写入、推送
// 单个接收者失败不影响其他接收者，也不回滚已完成的分发
func (s *DeliveryService) BroadcastBloodRequest(ctx context.Context, req *model.BloodRequest) *DeliveryReport {
	report := &DeliveryReport{}

	acquired := false
	if s.guard != nil {
		ok, err := s.guard.Acquire(ctx, BloodRequestGuardKey(req.ID))
		switch {
		case err != nil:
			// 去重存储不可用时仍然分发
			s.logger.Warnf("求助 %d 分发去重检查失败: %v", req.ID, err)
		case !ok:
			s.logger.Infof("求助 %d 已分发过，跳过", req.ID)
			report.Skipped = true
			return report
		default:
			acquired = true
		}
	}

	result, err := s.matcher.Match(ctx, req)
	if err != nil {
		s.logger.Errorf("求助 %d 匹配献血者失败: %v", req.ID, err)
		report.Err = err
		// 尚未写入任何通知，释放去重键以便重试
		if acquired {
			if rerr := s.guard.Release(ctx, BloodRequestGuardKey(req.ID)); rerr != nil {
				s.logger.Warnf("求助 %d 释放分发去重键失败: %v", req.ID, rerr)
			}
		}
		return report
	}
	report.Tier = result.Tier
	report.Candidates = len(result.Candidates)
	if result.Empty() {
		return report
	}

	input := bloodRequestInput(req)

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(s.opts.Workers)
	for i := range result.Candidates {
		donorID := result.Candidates[i].ID
		g.Go(func() error {
			in := *input
			in.RecipientID = donorID
			written, conns, err := s.deliver(ctx, &in, websocket.EventBloodRequest)

			mu.Lock()
			defer mu.Unlock()
			if written {
				report.Written++
			}
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("献血者 %d: %w", donorID, err))
				return nil
			}
			report.Pushed++
			report.Connections += conns
			return nil
		})
	}
	_ = g.Wait()

	report.Err = errs
	if errs != nil {
		s.logger.Warnf("求助 %d 部分分发失败 (%d/%d): %v", req.ID, report.Failed(), report.Candidates, errs)
	}
	s.logger.Infof("求助 %d 分发完成: 层级=%s 候选=%d 写入=%d 推送=%d",
		req.ID, report.Tier, report.Candidates, report.Written, report.Pushed)
	return report
}

// NotifyComment 通知帖子作者或被回复的评论作者
// 返回 nil 表示无需通知（例如自己评论自己）
func (s *DeliveryService) NotifyComment(ctx context.Context, evt *CommentEvent) (*model.Notification, error) {
	if evt == nil || evt.Comment == nil || evt.Post == nil || evt.Actor == nil {
		return nil, ErrInvalidArgument
	}

	in := &NotificationInput{
		Kind: model.KindComment,
		Payload: map[string]interface{}{
			"post_id":    evt.Post.ID,
			"comment_id": evt.Comment.ID,
			"actor_id":   evt.Actor.ID,
			"excerpt":    excerpt(evt.Comment.Content, 80),
		},
	}
	if evt.Parent != nil {
		in.RecipientID = evt.Parent.UserID
		in.Verb = "replied to your comment"
		in.RedirectPath = fmt.Sprintf("/posts/%d/comments/%d", evt.Post.ID, evt.Parent.ID)
	} else {
		in.RecipientID = evt.Post.UserID
		in.Verb = "commented on your post"
		in.RedirectPath = fmt.Sprintf("/posts/%d", evt.Post.ID)
	}
	in.Message = evt.Actor.DisplayName() + " " + in.Verb

	if in.RecipientID == evt.Actor.ID && !s.opts.NotifySelf {
		return nil, nil
	}
	return s.notifyTarget(ctx, in, websocket.EventComment)
}

// NotifyVolunteer 通知求助发布者有志愿者响应
func (s *DeliveryService) NotifyVolunteer(ctx context.Context, req *model.BloodRequest, responder *model.User) (*model.Notification, error) {
	if req == nil || responder == nil {
		return nil, ErrInvalidArgument
	}
	if req.RequesterID == responder.ID && !s.opts.NotifySelf {
		return nil, nil
	}

	verb := "volunteered for your blood request"
	in := &NotificationInput{
		RecipientID:  req.RequesterID,
		Kind:         model.KindOther,
		Message:      responder.DisplayName() + " " + verb,
		Verb:         verb,
		RedirectPath: fmt.Sprintf("/blood-requests/%d", req.ID),
		Payload: map[string]interface{}{
			"blood_request_id": req.ID,
			"responder_id":     responder.ID,
		},
	}
	return s.notifyTarget(ctx, in, websocket.EventNotification)
}

// notifyTarget 定向通知：写入成功后推送，推送失败只记录日志
func (s *DeliveryService) notifyTarget(ctx context.Context, in *NotificationInput, eventType string) (*model.Notification, error) {
	n, err := s.store.Write(ctx, in)
	if err != nil {
		return nil, err
	}
	if _, err := s.pusher.Push(ctx, in.RecipientID, websocket.Event{Type: eventType, Data: ToNotificationResponse(n)}); err != nil {
		s.logger.Warnf("推送通知 %d 给用户 %d 失败: %v", n.ID, in.RecipientID, err)
	}
	return n, nil
}

// deliver 写入并推送给单个接收者
func (s *DeliveryService) deliver(ctx context.Context, in *NotificationInput, eventType string) (bool, int, error) {
	n, err := s.store.Write(ctx, in)
	if err != nil {
		return false, 0, fmt.Errorf("写入通知失败: %w", err)
	}
	conns, err := s.pusher.Push(ctx, in.RecipientID, websocket.Event{Type: eventType, Data: ToNotificationResponse(n)})
	if err != nil {
		return true, 0, fmt.Errorf("推送通知失败: %w", err)
	}
	return true, conns, nil
}

func bloodRequestInput(req *model.BloodRequest) *NotificationInput {
	place := req.Locality
	if req.Hospital != "" {
		place = req.Hospital + ", " + req.Locality
	}
	return &NotificationInput{
		Kind:         model.KindResourceRequest,
		Message:      fmt.Sprintf("%s blood needed at %s (%s urgency)", req.BloodGroup, place, req.Urgency),
		RedirectPath: fmt.Sprintf("/blood-requests/%d", req.ID),
		Payload: map[string]interface{}{
			"blood_request_id": req.ID,
			"blood_group":      req.BloodGroup,
			"urgency":          req.Urgency,
			"units":            req.Units,
			"locality":         req.Locality,
			"district":         req.District,
			"region":           req.Region,
		},
	}
}

// excerpt 按字符截断
func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
