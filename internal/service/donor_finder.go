package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"gorm.io/gorm"
)

// GormDonorFinder 基于MySQL用户表查询献血者
type GormDonorFinder struct {
	db *gorm.DB
}

// NewGormDonorFinder 创建MySQL献血者查询
func NewGormDonorFinder(db *gorm.DB) *GormDonorFinder {
	return &GormDonorFinder{db: db}
}

// tierColumn 层级对应的用户表字段
func tierColumn(tier MatchTier) (string, error) {
	switch tier {
	case TierLocality:
		return "locality", nil
	case TierDistrict:
		return "district", nil
	case TierRegion:
		return "region", nil
	}
	return "", fmt.Errorf("未知的匹配层级 %q: %w", tier, ErrInvalidArgument)
}

// FindDonors 查询指定层级的献血者
func (f *GormDonorFinder) FindDonors(ctx context.Context, filter DonorFilter) ([]model.User, error) {
	column, err := tierColumn(filter.Tier)
	if err != nil {
		return nil, err
	}

	query := f.db.WithContext(ctx).
		Where("is_donor = ? AND blood_group = ?", true, filter.BloodGroup).
		Where(column+" = ?", filter.Value)
	if len(filter.ExcludeIDs) > 0 {
		query = query.Where("id NOT IN ?", filter.ExcludeIDs)
	}

	var donors []model.User
	if err := query.Order("id ASC").Find(&donors).Error; err != nil {
		return nil, err
	}
	return donors, nil
}

// ESDonorFinder 基于Elasticsearch献血者索引查询，命中后回表加载用户
type ESDonorFinder struct {
	client *elasticsearch.Client
	db     *gorm.DB
	index  string
	size   int
}

// NewESDonorFinder 创建ES献血者查询
func NewESDonorFinder(client *elasticsearch.Client, db *gorm.DB, index string) *ESDonorFinder {
	if index == "" {
		index = model.ESDonor{}.ESIndexName()
	}
	return &ESDonorFinder{client: client, db: db, index: index, size: 1000}
}

// FindDonors 使用 term 查询匹配血型与层级地址
func (f *ESDonorFinder) FindDonors(ctx context.Context, filter DonorFilter) ([]model.User, error) {
	column, err := tierColumn(filter.Tier)
	if err != nil {
		return nil, err
	}

	boolQuery := map[string]interface{}{
		"filter": []map[string]interface{}{
			{"term": map[string]interface{}{"blood_group": filter.BloodGroup}},
			{"term": map[string]interface{}{column: filter.Value}},
		},
	}
	if len(filter.ExcludeIDs) > 0 {
		boolQuery["must_not"] = []map[string]interface{}{
			{"terms": map[string]interface{}{"user_id": filter.ExcludeIDs}},
		}
	}
	query := map[string]interface{}{
		"size":    f.size,
		"query":   map[string]interface{}{"bool": boolQuery},
		"_source": []string{"user_id"},
		"sort":    []map[string]interface{}{{"user_id": "asc"}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("构建ES查询失败: %w", err)
	}

	res, err := f.client.Search(
		f.client.Search.WithContext(ctx),
		f.client.Search.WithIndex(f.index),
		f.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("ES查询失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("ES查询返回错误: %s", res.String())
	}

	var body struct {
		Hits struct {
			Hits []struct {
				Source model.ESDonor `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("解析ES响应失败: %w", err)
	}
	if len(body.Hits.Hits) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(body.Hits.Hits))
	for _, hit := range body.Hits.Hits {
		ids = append(ids, hit.Source.UserID)
	}

	// 索引可能滞后，回表时再次确认献血者状态
	var donors []model.User
	if err := f.db.WithContext(ctx).
		Where("id IN ? AND is_donor = ?", ids, true).
		Order("id ASC").
		Find(&donors).Error; err != nil {
		return nil, fmt.Errorf("加载献血者失败: %w", err)
	}
	return donors, nil
}
