package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/logger"
	"github.com/nsxzhou1114/bloodlink-api/pkg/syncagent"
	"github.com/spf13/cobra"
)

var (
	listenToken       string
	listenRecipientID uint
	listenOpenList    bool
)

// listenCmd 以客户端身份订阅通知
// 示例：./bloodlink-api listen --token <jwt> --recipient 42
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "以客户端身份同步并打印通知",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := initConfigAndLogger()
		if err != nil {
			return err
		}
		cc := cfg.Client
		if listenToken != "" {
			cc.Token = listenToken
		}
		if listenRecipientID != 0 {
			cc.RecipientID = listenRecipientID
		}

		transports := make([]syncagent.Transport, 0, len(cc.Transports))
		for _, t := range cc.Transports {
			transports = append(transports, syncagent.Transport(t))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sessions := make(chan syncagent.Transport, 1)
		agent, err := syncagent.New(syncagent.Options{
			BaseURL:           cc.BaseURL,
			WSURL:             cc.WSURL,
			Token:             cc.Token,
			RecipientID:       cc.RecipientID,
			Transports:        transports,
			ReconnectAttempts: cc.ReconnectAttempts,
			ReconnectDelay:    cc.ReconnectDelay,
			StableAfter:       cc.StableAfter,
			DebounceWindow:    cc.DebounceWindow,
			PollInterval:      cc.PollInterval,
			Cursor:            syncagent.NewFileCursorStore(cc.CursorFile),
			Logger:            logger.Named("syncagent"),
			OnSession: func(mode syncagent.Transport) {
				select {
				case sessions <- mode:
				default:
				}
			},
		})
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- agent.Run(ctx) }()

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		var seen int64
		printed := make(map[uint]int)
		for {
			select {
			case err := <-errCh:
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			case mode := <-sessions:
				fmt.Printf("🔌 已连接 (%s)，游标: %s\n", mode, agent.LastCheckedAt().Format(time.RFC3339))
				if listenOpenList {
					page, err := agent.OpenFullList(ctx)
					if err != nil {
						fmt.Printf("打开通知列表失败: %v\n", err)
						continue
					}
					fmt.Printf("📬 共 %d 条通知，未读 %d 条\n", page.Total, page.UnreadCount)
				}
			case <-ticker.C:
				v := agent.Cache().Version()
				if v == seen {
					continue
				}
				seen = v
				for _, n := range agent.Cache().List() {
					if printed[n.ID] == n.ActorCount {
						continue
					}
					printed[n.ID] = n.ActorCount
					fmt.Printf("[%s] #%d %s -> %s\n", n.CreatedAt.Local().Format("15:04:05"), n.ID, n.Message, n.RedirectPath)
				}
			}
		}
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenToken, "token", "", "访问令牌，覆盖 client.token")
	listenCmd.Flags().UintVar(&listenRecipientID, "recipient", 0, "接收者ID，覆盖 client.recipient_id")
	listenCmd.Flags().BoolVar(&listenOpenList, "open-list", false, "连接后打开完整列表并推进游标")
	rootCmd.AddCommand(listenCmd)
}
