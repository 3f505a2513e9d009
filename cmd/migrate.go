package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/logger"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"github.com/nsxzhou1114/bloodlink-api/internal/service"
	"github.com/spf13/cobra"
)

// migrateCmd 建表与建立索引
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "初始化数据库表与献血者索引",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := initConfigAndLogger()
		if err != nil {
			return err
		}
		st, err := openStores(cfg, false)
		if err != nil {
			return err
		}
		defer st.close()

		if err := model.InitTables(st.db); err != nil {
			return fmt.Errorf("初始化数据库表失败: %w", err)
		}
		fmt.Println("数据库表初始化完成")

		if st.es == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		idx := service.NewDonorIndexService(st.db, st.es, cfg.Elasticsearch.DonorIndex, logger.Named("donor_index"))
		if err := idx.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("初始化献血者索引失败: %w", err)
		}
		fmt.Println("献血者索引初始化完成")
		return nil
	},
}

// syncDonorsCmd 全量同步献血者到ES
// 示例：./bloodlink-api migrate sync-donors
var syncDonorsCmd = &cobra.Command{
	Use:   "sync-donors",
	Short: "全量同步献血者资料到Elasticsearch",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := initConfigAndLogger()
		if err != nil {
			return err
		}
		if !cfg.Elasticsearch.Enabled {
			return fmt.Errorf("elasticsearch 未启用")
		}
		st, err := openStores(cfg, false)
		if err != nil {
			return err
		}
		defer st.close()

		idx := service.NewDonorIndexService(st.db, st.es, cfg.Elasticsearch.DonorIndex, logger.Named("donor_index"))
		n, err := idx.SyncAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("同步完成，共 %d 名献血者\n", n)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(syncDonorsCmd)
	rootCmd.AddCommand(migrateCmd)
}
