package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"github.com/nsxzhou1114/bloodlink-api/pkg/websocket"
	"github.com/spf13/cobra"
)

// statsCmd 统计命令
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "显示在线房间与通知统计",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := initConfigAndLogger()
		if err != nil {
			return err
		}
		st, err := openStores(cfg, true)
		if err != nil {
			return err
		}
		defer st.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		rooms, err := websocket.NewRedisPresenceStore(st.redis).Snapshot(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(rooms))
		total := 0
		for name, n := range rooms {
			names = append(names, name)
			total += n
		}
		sort.Strings(names)

		fmt.Println("📡 在线房间")
		fmt.Printf("房间数: %d, 连接数: %d\n", len(rooms), total)
		for _, name := range names {
			fmt.Printf("  %-24s %d\n", name, rooms[name])
		}

		var all, unread, donors int64
		db := st.db.WithContext(ctx)
		if err := db.Model(&model.Notification{}).Count(&all).Error; err != nil {
			return err
		}
		if err := db.Model(&model.Notification{}).Where("is_read = ?", false).Count(&unread).Error; err != nil {
			return err
		}
		if err := db.Model(&model.User{}).Where("is_donor = ?", true).Count(&donors).Error; err != nil {
			return err
		}
		fmt.Println("📬 通知")
		fmt.Printf("总数: %d, 未读: %d\n", all, unread)
		fmt.Printf("献血者: %d\n", donors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
