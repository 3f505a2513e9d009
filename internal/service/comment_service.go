package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CommentNotifier 评论通知
type CommentNotifier interface {
	NotifyComment(ctx context.Context, evt *CommentEvent) (*model.Notification, error)
}

// CommentService 帖子与评论服务
type CommentService struct {
	db              *gorm.DB
	logger          *zap.SugaredLogger
	notifier        CommentNotifier
	policy          *bluemonday.Policy
	deliveryTimeout time.Duration
}

// NewCommentService 创建评论服务实例
func NewCommentService(db *gorm.DB, logger *zap.SugaredLogger, notifier CommentNotifier, deliveryTimeout time.Duration) *CommentService {
	if deliveryTimeout <= 0 {
		deliveryTimeout = 15 * time.Second
	}
	return &CommentService{
		db:              db,
		logger:          logger,
		notifier:        notifier,
		policy:          bluemonday.UGCPolicy(),
		deliveryTimeout: deliveryTimeout,
	}
}

// sanitize 清理用户输入中的危险HTML
func (s *CommentService) sanitize(content string) string {
	return strings.TrimSpace(s.policy.Sanitize(content))
}

// CreatePost 发布帖子
func (s *CommentService) CreatePost(ctx context.Context, userID uint, req *dto.PostCreateRequest) (*model.Post, error) {
	post := &model.Post{
		UserID:  userID,
		Title:   s.sanitize(req.Title),
		Content: s.sanitize(req.Content),
	}
	if post.Title == "" || post.Content == "" {
		return nil, ErrInvalidArgument
	}
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, fmt.Errorf("创建帖子失败: %w", err)
	}
	return post, nil
}

// Create 创建评论，ParentID 非空时为回复
func (s *CommentService) Create(ctx context.Context, userID uint, req *dto.CommentCreateRequest) (*model.Comment, error) {
	var post model.Post
	if err := s.db.WithContext(ctx).First(&post, req.PostID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("帖子不存在: %w", ErrNotFound)
		}
		return nil, err
	}

	var parent *model.Comment
	if req.ParentID != nil && *req.ParentID > 0 {
		var p model.Comment
		if err := s.db.WithContext(ctx).First(&p, *req.ParentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("回复的评论不存在: %w", ErrNotFound)
			}
			return nil, err
		}
		// 检查父评论是否属于同一帖子
		if p.PostID != post.ID {
			return nil, fmt.Errorf("不能回复其他帖子的评论: %w", ErrInvalidArgument)
		}
		parent = &p
	}

	content := s.sanitize(req.Content)
	if content == "" {
		return nil, ErrInvalidArgument
	}
	comment := &model.Comment{
		Content: content,
		PostID:  post.ID,
		UserID:  userID,
	}
	if parent != nil {
		comment.ParentID = &parent.ID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		// 更新帖子评论计数
		if err := tx.Model(&post).
			UpdateColumn("comment_count", gorm.Expr("comment_count + ?", 1)).
			Error; err != nil {
			return err
		}
		// 预加载用户信息
		return tx.Preload("User").First(comment, comment.ID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("创建评论失败: %w", err)
	}

	s.notify(ctx, comment, &post, parent)
	return comment, nil
}

// Reply 回复评论
func (s *CommentService) Reply(ctx context.Context, userID uint, req *dto.CommentReplyRequest) (*model.Comment, error) {
	var parent model.Comment
	if err := s.db.WithContext(ctx).First(&parent, req.CommentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("回复的评论不存在: %w", ErrNotFound)
		}
		return nil, err
	}

	return s.Create(ctx, userID, &dto.CommentCreateRequest{
		Content:  req.Content,
		PostID:   parent.PostID,
		ParentID: &parent.ID,
	})
}

// notify 同步分发通知，失败只记录日志，不影响评论创建
func (s *CommentService) notify(ctx context.Context, comment *model.Comment, post *model.Post, parent *model.Comment) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deliveryTimeout)
	defer cancel()

	actor := comment.User
	if actor.ID == 0 {
		actor.ID = comment.UserID
	}
	if _, err := s.notifier.NotifyComment(ctx, &CommentEvent{
		Comment: comment,
		Post:    post,
		Parent:  parent,
		Actor:   &actor,
	}); err != nil {
		s.logger.Errorf("评论 %d 通知分发失败: %v", comment.ID, err)
	}
}

// ToCommentResponse 转换为响应结构
func ToCommentResponse(c *model.Comment) *dto.CommentResponse {
	return &dto.CommentResponse{
		ID:        c.ID,
		Content:   c.Content,
		PostID:    c.PostID,
		UserID:    c.UserID,
		ParentID:  c.ParentID,
		CreatedAt: c.CreatedAt,
	}
}

// ToPostResponse 转换为帖子响应
func ToPostResponse(p *model.Post) *dto.PostResponse {
	return &dto.PostResponse{
		ID:           p.ID,
		Title:        p.Title,
		Content:      p.Content,
		UserID:       p.UserID,
		CommentCount: p.CommentCount,
		CreatedAt:    p.CreatedAt,
	}
}
