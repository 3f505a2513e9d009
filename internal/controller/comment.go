package controller

import (
	"github.com/gin-gonic/gin"
	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/internal/service"
	"github.com/nsxzhou1114/bloodlink-api/pkg/response"
	"go.uber.org/zap"
)

// CommentApi 帖子与评论控制器
type CommentApi struct {
	logger   *zap.SugaredLogger
	comments *service.CommentService
}

// NewCommentApi 创建评论API控制器
func NewCommentApi(logger *zap.SugaredLogger, comments *service.CommentService) *CommentApi {
	return &CommentApi{logger: logger, comments: comments}
}

// CreatePost 发布帖子
func (api *CommentApi) CreatePost(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}

	var req dto.PostCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误", err)
		return
	}

	post, err := api.comments.CreatePost(c.Request.Context(), userID, &req)
	if err != nil {
		handleServiceError(c, api.logger, "发布帖子", err)
		return
	}
	response.Success(c, "发布成功", service.ToPostResponse(post))
}

// Create 创建评论
func (api *CommentApi) Create(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}

	var req dto.CommentCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误", err)
		return
	}

	comment, err := api.comments.Create(c.Request.Context(), userID, &req)
	if err != nil {
		handleServiceError(c, api.logger, "创建评论", err)
		return
	}
	response.Success(c, "评论发布成功", gin.H{"comment": service.ToCommentResponse(comment)})
}

// Reply 回复评论
func (api *CommentApi) Reply(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}

	var req dto.CommentReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误", err)
		return
	}

	comment, err := api.comments.Reply(c.Request.Context(), userID, &req)
	if err != nil {
		handleServiceError(c, api.logger, "回复评论", err)
		return
	}
	response.Success(c, "回复成功", gin.H{"comment": service.ToCommentResponse(comment)})
}
