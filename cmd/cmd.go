package cmd

import (
	"fmt"
	"os"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/nsxzhou1114/bloodlink-api/internal/config"
	"github.com/nsxzhou1114/bloodlink-api/internal/database"
	"github.com/nsxzhou1114/bloodlink-api/internal/logger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var configPath string

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "bloodlink-api",
	Short: "献血互助通知服务",
	Long:  `献血互助平台的通知分发服务：匹配献血者、持久化通知并通过实时连接推送`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config", "配置文件路径")
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// initConfigAndLogger 加载配置并初始化日志
func initConfigAndLogger() (*config.Config, error) {
	if err := config.Init(configPath); err != nil {
		return nil, fmt.Errorf("配置初始化失败: %w", err)
	}
	if err := logger.Init(&config.GetConfig().Log); err != nil {
		return nil, fmt.Errorf("日志初始化失败: %w", err)
	}
	return config.GetConfig(), nil
}

// stores 服务端依赖的存储连接
type stores struct {
	db    *gorm.DB
	redis *redis.Client
	es    *elasticsearch.Client // 未启用时为 nil
}

func (s *stores) close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = database.Close(s.db)
	}
}

// openStores 按需建立连接，withRedis 为 false 时跳过 Redis
func openStores(cfg *config.Config, withRedis bool) (*stores, error) {
	s := &stores{}
	db, err := database.NewMySQL(&cfg.MySQL)
	if err != nil {
		return nil, err
	}
	s.db = db

	if withRedis {
		client, err := database.NewRedis(&cfg.Redis)
		if err != nil {
			s.close()
			return nil, err
		}
		s.redis = client
	}

	if cfg.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(&cfg.Elasticsearch)
		if err != nil {
			s.close()
			return nil, err
		}
		s.es = es
	}
	return s, nil
}
