package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DonorIndexService 将献血者资料同步到Elasticsearch
type DonorIndexService struct {
	db        *gorm.DB
	es        *elasticsearch.Client
	index     string
	logger    *zap.SugaredLogger
	batchSize int
}

// NewDonorIndexService 创建献血者索引服务
func NewDonorIndexService(db *gorm.DB, es *elasticsearch.Client, index string, logger *zap.SugaredLogger) *DonorIndexService {
	if index == "" {
		index = model.ESDonor{}.ESIndexName()
	}
	return &DonorIndexService{db: db, es: es, index: index, logger: logger, batchSize: 500}
}

// EnsureIndex 索引不存在时创建
func (s *DonorIndexService) EnsureIndex(ctx context.Context) error {
	return model.InitESIndex(ctx, s.es, s.index, model.ESDonor{})
}

// IndexDonor 写入或覆盖单个献血者文档
func (s *DonorIndexService) IndexDonor(ctx context.Context, u *model.User) error {
	doc, err := json.Marshal(model.NewESDonor(u))
	if err != nil {
		return fmt.Errorf("序列化献血者 %d 失败: %w", u.ID, err)
	}
	res, err := s.es.Index(
		s.index,
		bytes.NewReader(doc),
		s.es.Index.WithContext(ctx),
		s.es.Index.WithDocumentID(donorDocID(u.ID)),
	)
	if err != nil {
		return fmt.Errorf("写入献血者 %d 到ES失败: %w", u.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("写入献血者 %d 到ES返回错误: %s", u.ID, res.String())
	}
	return nil
}

// SyncAll 清空索引后按批写入全部献血者，返回写入数量
func (s *DonorIndexService) SyncAll(ctx context.Context) (int, error) {
	if err := s.EnsureIndex(ctx); err != nil {
		return 0, err
	}

	// 先清空索引中的所有文档
	res, err := s.es.DeleteByQuery(
		[]string{s.index},
		strings.NewReader(`{"query": {"match_all": {}}}`),
		s.es.DeleteByQuery.WithContext(ctx),
		s.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("清空献血者索引失败: %w", err)
	}
	res.Body.Close()

	indexed := 0
	var donors []model.User
	result := s.db.WithContext(ctx).
		Where("is_donor = ?", true).
		FindInBatches(&donors, s.batchSize, func(tx *gorm.DB, batch int) error {
			for i := range donors {
				if err := s.IndexDonor(ctx, &donors[i]); err != nil {
					s.logger.Warnf("同步献血者失败: %v", err)
					continue
				}
				indexed++
			}
			return nil
		})
	if result.Error != nil {
		return indexed, fmt.Errorf("读取献血者失败: %w", result.Error)
	}

	// 刷新索引，确保数据可搜索
	refresh, err := s.es.Indices.Refresh(
		s.es.Indices.Refresh.WithContext(ctx),
		s.es.Indices.Refresh.WithIndex(s.index),
	)
	if err != nil {
		return indexed, fmt.Errorf("刷新献血者索引失败: %w", err)
	}
	refresh.Body.Close()

	s.logger.Infof("献血者索引同步完成，共 %d 条", indexed)
	return indexed, nil
}

func donorDocID(userID uint) string {
	return fmt.Sprintf("donor_%d", userID)
}
