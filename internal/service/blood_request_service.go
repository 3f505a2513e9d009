package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BloodRequestDelivery 求助相关的通知分发
type BloodRequestDelivery interface {
	BroadcastBloodRequest(ctx context.Context, req *model.BloodRequest) *DeliveryReport
	NotifyVolunteer(ctx context.Context, req *model.BloodRequest, responder *model.User) (*model.Notification, error)
}

// BloodRequestService 用血求助服务
type BloodRequestService struct {
	db              *gorm.DB
	logger          *zap.SugaredLogger
	delivery        BloodRequestDelivery
	deliveryTimeout time.Duration
}

// NewBloodRequestService 创建求助服务实例
func NewBloodRequestService(db *gorm.DB, logger *zap.SugaredLogger, delivery BloodRequestDelivery, deliveryTimeout time.Duration) *BloodRequestService {
	if deliveryTimeout <= 0 {
		deliveryTimeout = 15 * time.Second
	}
	return &BloodRequestService{
		db:              db,
		logger:          logger,
		delivery:        delivery,
		deliveryTimeout: deliveryTimeout,
	}
}

// Create 发布求助并同步分发给匹配的献血者
// 分发失败不影响求助本身的创建
func (s *BloodRequestService) Create(ctx context.Context, userID uint, req *dto.BloodRequestCreateRequest) (*model.BloodRequest, *DeliveryReport, error) {
	br := &model.BloodRequest{
		BloodGroup:  req.BloodGroup,
		Urgency:     req.Urgency,
		RequesterID: userID,
		Units:       req.Units,
		Hospital:    req.Hospital,
		Note:        req.Note,
		Location: model.Location{
			Locality: req.Locality,
			District: req.District,
			Region:   req.Region,
		},
	}
	if br.Urgency == "" {
		br.Urgency = model.UrgencyMedium
	}
	if br.Units <= 0 {
		br.Units = 1
	}

	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(br).Error; err != nil {
		return nil, nil, fmt.Errorf("创建求助失败: %w", err)
	}
	s.logger.Infof("用户 %d 发布求助 %d (%s, %s)", userID, br.ID, br.BloodGroup, br.Locality)

	if s.delivery == nil {
		return br, &DeliveryReport{}, nil
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deliveryTimeout)
	defer cancel()
	report := s.delivery.BroadcastBloodRequest(dctx, br)
	return br, report, nil
}

// GetByID 获取求助详情
func (s *BloodRequestService) GetByID(ctx context.Context, id uint) (*model.BloodRequest, error) {
	var br model.BloodRequest
	err := s.db.WithContext(ctx).
		Preload("Volunteers.Responder").
		First(&br, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询求助失败: %w", err)
	}
	return &br, nil
}

// Volunteer 献血者响应求助，并通知求助发布者
func (s *BloodRequestService) Volunteer(ctx context.Context, requestID, responderID uint, req *dto.VolunteerRequest) (*model.BloodRequest, error) {
	br, err := s.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if br.RequesterID == responderID {
		return nil, fmt.Errorf("不能响应自己的求助: %w", ErrInvalidArgument)
	}
	for _, v := range br.Volunteers {
		if v.ResponderID == responderID {
			return nil, ErrConflict
		}
	}

	var responder model.User
	if err := s.db.WithContext(ctx).First(&responder, responderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	volunteer := &model.Volunteer{
		RequestID:            br.ID,
		ResponderID:          responderID,
		SharesContactDetails: req.SharesContactDetails,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(volunteer).Error; err != nil {
		return nil, fmt.Errorf("登记志愿者失败: %w", err)
	}

	if s.delivery != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deliveryTimeout)
		defer cancel()
		if _, err := s.delivery.NotifyVolunteer(dctx, br, &responder); err != nil {
			s.logger.Errorf("求助 %d 志愿者通知失败: %v", br.ID, err)
		}
	}

	return s.GetByID(ctx, requestID)
}

// ToBloodRequestResponse 转换为响应结构，未同意公开联系方式的志愿者不返回电话
func ToBloodRequestResponse(br *model.BloodRequest) *dto.BloodRequestResponse {
	resp := &dto.BloodRequestResponse{
		ID:          br.ID,
		BloodGroup:  br.BloodGroup,
		Urgency:     br.Urgency,
		Locality:    br.Locality,
		District:    br.District,
		Region:      br.Region,
		RequesterID: br.RequesterID,
		Units:       br.Units,
		Hospital:    br.Hospital,
		Note:        br.Note,
		Volunteers:  make([]dto.VolunteerResponse, 0, len(br.Volunteers)),
		CreatedAt:   br.CreatedAt,
	}
	for _, v := range br.Volunteers {
		item := dto.VolunteerResponse{
			ResponderID:          v.ResponderID,
			SharesContactDetails: v.SharesContactDetails,
			Name:                 v.Responder.DisplayName(),
		}
		if v.SharesContactDetails {
			item.Phone = v.Responder.Phone
		}
		resp.Volunteers = append(resp.Volunteers, item)
	}
	return resp
}
