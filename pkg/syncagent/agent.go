package syncagent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go"
	gws "github.com/gorilla/websocket"
	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/pkg/websocket"
	"go.uber.org/zap"
)

// ErrNoTransport 所有传输方式均不可用
var ErrNoTransport = errors.New("no transport available")

// Options 同步代理配置
type Options struct {
	BaseURL           string // REST 地址，例如 http://localhost:8080/api
	WSURL             string // 实时连接地址，例如 ws://localhost:8080/api/ws
	Token             string
	RecipientID       uint
	Transports        []Transport // 按优先级排列，失败后依次降级
	ReconnectAttempts uint
	ReconnectDelay    time.Duration
	StableAfter       time.Duration // 会话持续超过该时长才视为稳定，短于它的断开计入重连次数
	DebounceWindow    time.Duration
	PollInterval      time.Duration
	FullListPageSize  int

	Cursor     CursorStore
	HTTPClient *http.Client
	Dialer     *gws.Dialer
	Logger     *zap.SugaredLogger

	// OnSession 每次完成连接与补齐后回调
	OnSession func(mode Transport)
}

func (o Options) withDefaults() Options {
	if len(o.Transports) == 0 {
		o.Transports = []Transport{TransportWebSocket, TransportPolling}
	}
	if o.ReconnectAttempts == 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.StableAfter <= 0 {
		o.StableAfter = 30 * time.Second
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 100 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.FullListPageSize <= 0 {
		o.FullListPageSize = 20
	}
	if o.Cursor == nil {
		o.Cursor = NewMemoryCursorStore(time.Time{})
	}
	if o.Dialer == nil {
		o.Dialer = &gws.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Agent 客户端通知同步代理
type Agent struct {
	opts     Options
	api      *APIClient
	cache    *Cache
	debounce *Debouncer
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu            sync.RWMutex
	lastCheckedAt time.Time
	mode          Transport
}

// New 创建同步代理并加载游标
func New(opts Options) (*Agent, error) {
	opts = opts.withDefaults()
	if opts.RecipientID == 0 {
		return nil, errors.New("recipient id is required")
	}

	a := &Agent{
		opts:   opts,
		api:    NewAPIClient(opts.BaseURL, opts.Token, opts.HTTPClient),
		cache:  NewCache(),
		logger: opts.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	a.debounce = NewDebouncer(opts.DebounceWindow, func(batch []dto.NotificationResponse) {
		a.cache.Merge(batch...)
	})

	cursor, err := opts.Cursor.Load()
	if err != nil {
		return nil, err
	}
	a.lastCheckedAt = cursor
	return a, nil
}

// Cache 本地缓存
func (a *Agent) Cache() *Cache {
	return a.cache
}

// API REST 客户端
func (a *Agent) API() *APIClient {
	return a.api
}

// LastCheckedAt 当前游标
func (a *Agent) LastCheckedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastCheckedAt
}

// Mode 当前使用的传输方式，未连接时为空
func (a *Agent) Mode() Transport {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

func (a *Agent) setMode(m Transport) {
	a.mu.Lock()
	a.mode = m
	a.mu.Unlock()
}

// Run 连接并保持同步，直到 ctx 取消或所有传输方式都不可用
// 某种方式重试耗尽后永久降级到下一种。会话断开后等待 ReconnectDelay 再在同一方式上重连，
// 连续 ReconnectAttempts 次会话都没能稳定下来同样视为该方式不可用
func (a *Agent) Run(ctx context.Context) error {
	defer a.debounce.Flush()

	var unstable uint
	for i := 0; i < len(a.opts.Transports); {
		mode := a.opts.Transports[i]
		sess, err := a.connect(ctx, mode)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warnf("传输方式 %s 不可用，降级: %v", mode, err)
			i++
			unstable = 0
			continue
		}

		started := time.Now()
		a.setMode(mode)
		if err := a.catchUp(ctx); err != nil {
			a.logger.Warnf("补齐通知失败，稍后重试: %v", err)
		}
		if a.opts.OnSession != nil {
			a.opts.OnSession(mode)
		}

		err = sess.serve(ctx, a.handle)
		sess.close()
		a.debounce.Flush()
		a.setMode("")
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(started) < a.opts.StableAfter {
			unstable++
		} else {
			unstable = 0
		}
		if unstable >= a.opts.ReconnectAttempts {
			a.logger.Warnf("传输方式 %s 连续 %d 次会话很快断开，降级: %v", mode, unstable, err)
			i++
			unstable = 0
			continue
		}

		a.logger.Infof("会话结束，%s 后重新连接 (%s): %v", a.opts.ReconnectDelay, mode, err)
		if err := sleepContext(ctx, a.opts.ReconnectDelay); err != nil {
			return err
		}
	}
	return ErrNoTransport
}

// sleepContext 等待 d 或 ctx 取消
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// connect 按固定间隔重试建立会话
func (a *Agent) connect(ctx context.Context, mode Transport) (session, error) {
	var sess session
	err := retry.Do(
		func() error {
			s, err := a.open(ctx, mode)
			if err != nil {
				return err
			}
			sess = s
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(a.opts.ReconnectAttempts),
		retry.Delay(a.opts.ReconnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Debugf("%s 第 %d 次连接失败: %v", mode, n+1, err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (a *Agent) open(ctx context.Context, mode Transport) (session, error) {
	switch mode {
	case TransportWebSocket:
		return dialWebSocket(ctx, a.opts.Dialer, a.opts.WSURL, a.opts.Token, a.opts.RecipientID)
	case TransportPolling:
		if err := probePolling(ctx, a.api); err != nil {
			return nil, err
		}
		return &pollSession{api: a.api, interval: a.opts.PollInterval, since: a.LastCheckedAt}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", mode)
	}
}

// catchUp 拉取游标之后的通知并按ID合并，不推进游标
func (a *Agent) catchUp(ctx context.Context) error {
	list, err := a.api.ListAfter(ctx, a.LastCheckedAt())
	if err != nil {
		return err
	}
	added := a.cache.Merge(list...)
	a.logger.Infof("补齐通知 %d 条，新增 %d 条", len(list), added)
	return nil
}

// handle 广播类推送走防抖，其余立即合并
func (a *Agent) handle(eventType string, list []dto.NotificationResponse) {
	if eventType == websocket.EventBloodRequest {
		for _, n := range list {
			a.debounce.Schedule(n)
		}
		return
	}
	a.cache.Merge(list...)
}

// OpenFullList 打开完整通知列表：拉取第一页并将游标推进到当前时间
func (a *Agent) OpenFullList(ctx context.Context) (*dto.NotificationListResponse, error) {
	now := a.now()
	page, err := a.api.List(ctx, 1, a.opts.FullListPageSize)
	if err != nil {
		return nil, err
	}
	a.cache.Merge(page.List...)

	if err := a.opts.Cursor.Save(now); err != nil {
		return page, fmt.Errorf("保存游标失败: %w", err)
	}
	a.mu.Lock()
	a.lastCheckedAt = now
	a.mu.Unlock()
	return page, nil
}

// MarkRead 标记已读，服务端成功后更新本地缓存
func (a *Agent) MarkRead(ctx context.Context, id uint) error {
	if err := a.api.MarkRead(ctx, id); err != nil {
		return err
	}
	a.cache.MarkRead(id)
	return nil
}

// MarkAllRead 全部标记已读
func (a *Agent) MarkAllRead(ctx context.Context) error {
	if err := a.api.MarkAllRead(ctx); err != nil {
		return err
	}
	a.cache.MarkAllRead()
	return nil
}
