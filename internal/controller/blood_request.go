package controller

import (
	"github.com/gin-gonic/gin"
	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/internal/service"
	"github.com/nsxzhou1114/bloodlink-api/pkg/response"
	"go.uber.org/zap"
)

// BloodRequestApi 用血求助控制器
type BloodRequestApi struct {
	logger   *zap.SugaredLogger
	requests *service.BloodRequestService
}

// NewBloodRequestApi 创建用血求助控制器
func NewBloodRequestApi(logger *zap.SugaredLogger, requests *service.BloodRequestService) *BloodRequestApi {
	return &BloodRequestApi{logger: logger, requests: requests}
}

// Create 发布求助，响应中附带分发结果
func (api *BloodRequestApi) Create(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}

	var req dto.BloodRequestCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误", err)
		return
	}

	br, report, err := api.requests.Create(c.Request.Context(), userID, &req)
	if err != nil {
		handleServiceError(c, api.logger, "发布求助", err)
		return
	}
	response.Success(c, "发布成功", gin.H{
		"request":  service.ToBloodRequestResponse(br),
		"delivery": report.ToResponse(),
	})
}

// Get 获取求助详情
func (api *BloodRequestApi) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	br, err := api.requests.GetByID(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, api.logger, "获取求助", err)
		return
	}
	response.Success(c, "获取成功", service.ToBloodRequestResponse(br))
}

// Volunteer 响应求助
func (api *BloodRequestApi) Volunteer(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "需要登录", err)
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.VolunteerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "参数错误", err)
			return
		}
	}

	br, err := api.requests.Volunteer(c.Request.Context(), id, userID, &req)
	if err != nil {
		handleServiceError(c, api.logger, "响应求助", err)
		return
	}
	response.Success(c, "响应成功", service.ToBloodRequestResponse(br))
}
