package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/config"
	"github.com/nsxzhou1114/bloodlink-api/internal/logger"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"github.com/nsxzhou1114/bloodlink-api/internal/router"
	"github.com/nsxzhou1114/bloodlink-api/internal/service"
	"github.com/nsxzhou1114/bloodlink-api/pkg/auth"
	"github.com/nsxzhou1114/bloodlink-api/pkg/cache"
	"github.com/nsxzhou1114/bloodlink-api/pkg/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serveCmd 启动服务命令
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动HTTP与实时推送服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		return startServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// startServer 组装依赖并启动HTTP服务，收到信号后优雅关闭
func startServer() error {
	cfg, err := initConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStores(cfg, true)
	if err != nil {
		return err
	}
	defer st.close()

	if err := model.InitTables(st.db); err != nil {
		return fmt.Errorf("初始化数据库表失败: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := cfg.Realtime
	hub := websocket.NewHub(websocket.Config{
		AllowedOrigins: rt.AllowedOrigins,
		RoomPrefix:     rt.RoomPrefix,
		PingInterval:   rt.PingInterval,
		PingTimeout:    rt.PingTimeout,
		WriteTimeout:   rt.WriteTimeout,
		IdleTimeout:    rt.IdleTimeout,
		SendBuffer:     rt.SendBuffer,
		MaxMessageSize: rt.MaxMessageSize,
		MachineID:      rt.MachineID,
	}, logger.Named("realtime"), websocket.NewRedisPresenceStore(st.redis))
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("启动实时推送失败: %w", err)
	}
	defer hub.Stop()

	nc := cfg.Notification
	notifications := service.NewNotificationService(st.db, logger.Named("notification"), nc.AggregationWindow, nc.StoreTimeout).
		WithCache(cache.NewRedisCache(st.redis))

	var finder service.DonorFinder = service.NewGormDonorFinder(st.db)
	if cfg.Match.Backend == "es" && st.es != nil {
		finder = service.NewESDonorFinder(st.es, st.db, cfg.Elasticsearch.DonorIndex)
	}
	matcher := service.NewMatchEngine(finder, logger.Named("match"), cfg.Match.Timeout)
	delivery := service.NewDeliveryService(
		notifications,
		matcher,
		hub,
		service.NewRedisDeliveryGuard(st.redis, nc.GuardTTL),
		logger.Named("delivery"),
		service.DeliveryOptions{Workers: nc.FanoutWorkers, NotifySelf: nc.NotifySelf},
	)

	cronSvc := service.NewCronService(notifications, logger.Named("cron"), nc.RetentionDays)
	if err := cronSvc.Start(nc.CleanupSpec); err != nil {
		return fmt.Errorf("启动定时任务失败: %w", err)
	}
	defer cronSvc.Stop()

	config.Watch(func(newCfg *config.Config, err error) {
		if err != nil {
			logger.Errorf("配置重新加载失败: %v", err)
			return
		}
		logger.Info("配置文件已更新，连接类配置需重启后生效",
			zap.String("log_level", newCfg.Log.Level),
			zap.Bool("notify_self", newCfg.Notification.NotifySelf))
	})

	engine := router.New(&router.Deps{
		Config:        cfg,
		Logger:        logger.Named("http"),
		Tokens:        auth.NewManager(cfg.JWT.SecretKey, cfg.JWT.Issuer, time.Duration(cfg.JWT.AccessExpireSeconds)*time.Second),
		Hub:           hub,
		Notifications: notifications,
		BloodRequests: service.NewBloodRequestService(st.db, logger.Named("blood_request"), delivery, nc.DeliveryTimeout),
		Comments:      service.NewCommentService(st.db, logger.Named("comment"), delivery, nc.DeliveryTimeout),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("服务已启动", zap.String("addr", srv.Addr), zap.String("ws", rt.Path))

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP服务启动失败: %w", err)
	case <-ctx.Done():
	}
	logger.Info("关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务关闭异常", zap.Error(err))
	}
	logger.Info("服务已关闭")
	return nil
}
