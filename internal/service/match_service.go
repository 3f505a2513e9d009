package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"go.uber.org/zap"
)

// MatchTier 匹配层级
type MatchTier string

const (
	TierLocality MatchTier = "locality"
	TierDistrict MatchTier = "district"
	TierRegion   MatchTier = "region"
)

// DonorFilter 献血者查询条件
type DonorFilter struct {
	BloodGroup string
	Tier       MatchTier
	Value      string // 对应层级的地址取值
	ExcludeIDs []uint
}

// MatchScope 级联中的一层
type MatchScope struct {
	Tier   MatchTier
	Filter DonorFilter
}

// MatchResult 匹配结果，Tier 为空表示没有任何层级命中
type MatchResult struct {
	Tier       MatchTier
	Candidates []model.User
}

// Empty 是否为空结果
func (r *MatchResult) Empty() bool {
	return len(r.Candidates) == 0
}

// DonorFinder 按条件查询献血者
type DonorFinder interface {
	FindDonors(ctx context.Context, filter DonorFilter) ([]model.User, error)
}

// BuildScopes 按 locality -> district -> region 顺序构建级联，地址为空的层级跳过
func BuildScopes(req *model.BloodRequest) []MatchScope {
	tiers := []struct {
		tier  MatchTier
		value string
	}{
		{TierLocality, req.Locality},
		{TierDistrict, req.District},
		{TierRegion, req.Region},
	}

	scopes := make([]MatchScope, 0, len(tiers))
	for _, t := range tiers {
		if t.value == "" {
			continue
		}
		scopes = append(scopes, MatchScope{
			Tier: t.tier,
			Filter: DonorFilter{
				BloodGroup: req.BloodGroup,
				Tier:       t.tier,
				Value:      t.value,
				ExcludeIDs: []uint{req.RequesterID},
			},
		})
	}
	return scopes
}

// Cascade 依次查询各层级，返回第一个非空层级的结果，不合并多层结果
func Cascade(ctx context.Context, finder DonorFinder, scopes []MatchScope) (*MatchResult, error) {
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		donors, err := finder.FindDonors(ctx, scope.Filter)
		if err != nil {
			return nil, fmt.Errorf("查询 %s 层级献血者失败: %w", scope.Tier, err)
		}
		if len(donors) > 0 {
			return &MatchResult{Tier: scope.Tier, Candidates: donors}, nil
		}
	}
	return &MatchResult{}, nil
}

// MatchEngine 献血者匹配引擎
type MatchEngine struct {
	finder  DonorFinder
	logger  *zap.SugaredLogger
	timeout time.Duration
}

// NewMatchEngine 创建匹配引擎
func NewMatchEngine(finder DonorFinder, logger *zap.SugaredLogger, timeout time.Duration) *MatchEngine {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MatchEngine{finder: finder, logger: logger, timeout: timeout}
}

// Match 为求助匹配献血者，超时按无候选处理
func (e *MatchEngine) Match(ctx context.Context, req *model.BloodRequest) (*MatchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := Cascade(ctx, e.finder, BuildScopes(req))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warnf("求助 %d 匹配超时，按无候选处理", req.ID)
			return &MatchResult{}, nil
		}
		return nil, err
	}

	if result.Empty() {
		e.logger.Infof("求助 %d (%s) 没有匹配到献血者", req.ID, req.BloodGroup)
	} else {
		e.logger.Infof("求助 %d (%s) 在 %s 层级匹配到 %d 名献血者", req.ID, req.BloodGroup, result.Tier, len(result.Candidates))
	}
	return result, nil
}
