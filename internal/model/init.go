package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"gorm.io/gorm"
)

// ESModel 定义支持Elasticsearch操作的模型接口
type ESModel interface {
	ESIndexName() string
	ESMapping() string
}

// 需要自动迁移的模型列表
var models = []interface{}{
	&User{},
	&Post{},
	&Comment{},
	&BloodRequest{},
	&Volunteer{},
	&Notification{},
}

// InitTables 初始化数据库表
func InitTables(db *gorm.DB) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("自动迁移数据库表失败: %w", err)
	}
	return nil
}

// InitESIndex 索引不存在时按映射创建
func InitESIndex(ctx context.Context, client *elasticsearch.Client, indexName string, m ESModel) error {
	if indexName == "" {
		indexName = m.ESIndexName()
	}

	resp, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引 %s 是否存在时出错: %w", indexName, err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		return nil
	}

	createResp, err := client.Indices.Create(
		indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(m.ESMapping())),
	)
	if err != nil {
		return fmt.Errorf("创建索引 %s 失败: %w", indexName, err)
	}
	defer createResp.Body.Close()
	if createResp.IsError() {
		return fmt.Errorf("创建索引 %s 返回错误: %s", indexName, createResp.String())
	}
	return nil
}
