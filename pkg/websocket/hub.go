package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotInitialized Hub 尚未 Start
	ErrNotInitialized = errors.New("realtime hub not initialized")
	// ErrHubStopped Hub 已经 Stop
	ErrHubStopped = errors.New("realtime hub stopped")
	// ErrUnauthorized 连接试图加入不属于自己的房间
	ErrUnauthorized = errors.New("connection may only join its own room")
	// ErrConnectionNotFound 连接不存在或已断开
	ErrConnectionNotFound = errors.New("connection not found")
)

// Config Hub 配置
type Config struct {
	AllowedOrigins []string
	RoomPrefix     string
	PingInterval   time.Duration
	PingTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	SendBuffer     int
	MaxMessageSize int64
	MachineID      int64
}

func (c Config) withDefaults() Config {
	if c.RoomPrefix == "" {
		c.RoomPrefix = "user:"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	return c
}

// Stats 统计信息
type Stats struct {
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int   `json:"active_connections"`
	Rooms             int   `json:"rooms"`
	MessagesPushed    int64 `json:"messages_pushed"`
	MessagesDropped   int64 `json:"messages_dropped"`
}

// Hub 实时推送中心，按接收者维护房间
type Hub struct {
	cfg      Config
	logger   *zap.SugaredLogger
	presence PresenceStore
	upgrader websocket.Upgrader
	node     *snowflake.Node

	mu      sync.RWMutex
	started bool
	stopped bool
	conns   map[string]*Client
	rooms   map[string]map[string]*Client
	cancel  context.CancelFunc
	done    chan struct{}

	totalConns atomic.Int64
	pushed     atomic.Int64
	dropped    atomic.Int64
}

// NewHub 创建 Hub，presence 可为 nil
func NewHub(cfg Config, logger *zap.SugaredLogger, presence PresenceStore) *Hub {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &Hub{
		cfg:      cfg,
		logger:   logger,
		presence: presence,
		conns:    make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Start 启动 Hub，重复调用无副作用
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}
	node, err := snowflake.NewNode(h.cfg.MachineID)
	if err != nil {
		return fmt.Errorf("创建消息ID生成器失败: %w", err)
	}
	h.node = node

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.started = true
	go h.run(ctx)

	h.logger.Infof("实时推送中心已启动，房间前缀 %q", h.cfg.RoomPrefix)
	return nil
}

// Stop 关闭 Hub 并断开所有连接
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started || h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.cancel()
	clients := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.disconnect(c, "hub stopped")
	}
	<-h.done
	h.logger.Info("实时推送中心已关闭")
}

// ready 调用方需持有锁
func (h *Hub) ready() error {
	if !h.started {
		return ErrNotInitialized
	}
	if h.stopped {
		return ErrHubStopped
	}
	return nil
}

// RoomName 接收者对应的房间名
func (h *Hub) RoomName(recipientID uint) string {
	return fmt.Sprintf("%s%d", h.cfg.RoomPrefix, recipientID)
}

// ServeWS 升级 HTTP 连接并登记为已认证接收者的连接
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, recipientID uint) error {
	h.mu.RLock()
	err := h.ready()
	h.mu.RUnlock()
	if err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("WebSocket升级失败: %w", err)
	}

	client := newClient(uuid.NewString(), recipientID, conn, h)
	if err := h.register(client); err != nil {
		_ = conn.Close()
		return err
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// register 登记连接，状态 Connecting -> Connected
func (h *Hub) register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ready(); err != nil {
		return err
	}
	h.conns[c.ID] = c
	c.state.Store(int32(StateConnected))
	h.totalConns.Add(1)
	h.logger.Infof("用户 %d 已连接 (conn=%s)，当前连接数: %d", c.RecipientID, c.ID, len(h.conns))
	return nil
}

// JoinRoom 将连接加入接收者房间，返回房间当前成员数
func (h *Hub) JoinRoom(connID string, recipientID uint) (int, error) {
	h.mu.Lock()
	if err := h.ready(); err != nil {
		h.mu.Unlock()
		return 0, err
	}
	c, ok := h.conns[connID]
	if !ok || c.State() != StateConnected {
		h.mu.Unlock()
		return 0, ErrConnectionNotFound
	}
	if c.RecipientID != recipientID {
		h.mu.Unlock()
		return 0, ErrUnauthorized
	}

	room := h.RoomName(recipientID)
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[connID] = c
	c.rooms[room] = struct{}{}
	count := len(members)
	h.mu.Unlock()

	h.syncPresence(room, count)
	return count, nil
}

// Push 向接收者房间内所有连接投递事件，返回投递成功的连接数
// 发送缓冲已满的连接会被跳过
func (h *Hub) Push(ctx context.Context, recipientID uint, evt Event) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := h.ready(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	room := h.RoomName(recipientID)
	members := h.rooms[room]
	if len(members) == 0 {
		return 0, nil
	}

	data, err := h.encode(evt)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, c := range members {
		select {
		case c.send <- data:
			delivered++
		default:
			h.dropped.Add(1)
			h.logger.Warnf("连接 %s 发送缓冲已满，丢弃 %s 事件", c.ID, evt.Type)
		}
	}
	h.pushed.Add(int64(delivered))
	return delivered, nil
}

// sendTo 直接向单个连接发送事件
func (h *Hub) sendTo(c *Client, evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.node == nil || c.State() != StateConnected {
		return
	}
	data, err := h.encode(evt)
	if err != nil {
		h.logger.Errorf("编码 %s 事件失败: %v", evt.Type, err)
		return
	}
	select {
	case c.send <- data:
	default:
		h.dropped.Add(1)
	}
}

// encode 调用方需持有锁，保证 node 已初始化
func (h *Hub) encode(evt Event) ([]byte, error) {
	env := &Envelope{
		Type:      evt.Type,
		Data:      evt.Data,
		Timestamp: time.Now().UnixMilli(),
		MessageID: h.node.Generate().String(),
	}
	return env.ToJSON()
}

// disconnect 注销连接并通知剩余成员，重复调用无副作用
func (h *Hub) disconnect(c *Client, reason string) {
	h.mu.Lock()
	if c.State() == StateDisconnected {
		h.mu.Unlock()
		return
	}
	c.state.Store(int32(StateDisconnected))
	delete(h.conns, c.ID)

	counts := make(map[string]int, len(c.rooms))
	for room := range c.rooms {
		members := h.rooms[room]
		delete(members, c.ID)
		counts[room] = len(members)
		if len(members) == 0 {
			delete(h.rooms, room)
			continue
		}
		if h.node == nil {
			continue
		}
		data, err := h.encode(Event{Type: EventRoomMembers, Data: RoomInfo{Room: room, Count: len(members)}})
		if err != nil {
			continue
		}
		for _, other := range members {
			select {
			case other.send <- data:
			default:
			}
		}
	}
	c.rooms = make(map[string]struct{})
	// 只在写锁下关闭 send，保证 Push 不会向已关闭的通道写入
	close(c.send)
	remaining := len(h.conns)
	h.mu.Unlock()

	for room, count := range counts {
		h.syncPresence(room, count)
	}
	h.logger.Infof("用户 %d 已断开 (conn=%s, reason=%s)，当前连接数: %d", c.RecipientID, c.ID, reason, remaining)
}

// run 定期清理不活跃的连接
func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.sweep(now)
		}
	}
}

func (h *Hub) sweepInterval() time.Duration {
	interval := h.cfg.IdleTimeout / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval <= 0 {
		interval = time.Second
	}
	return interval
}

// sweep 断开空闲超过 IdleTimeout 的连接
func (h *Hub) sweep(now time.Time) int {
	h.mu.RLock()
	var idle []*Client
	for _, c := range h.conns {
		if c.idleSince(now) > h.cfg.IdleTimeout {
			idle = append(idle, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range idle {
		h.disconnect(c, "idle timeout")
	}
	if len(idle) > 0 {
		h.logger.Infof("清理不活跃连接 %d 个", len(idle))
	}
	return len(idle)
}

// Stats 获取统计信息
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		TotalConnections:  h.totalConns.Load(),
		ActiveConnections: len(h.conns),
		Rooms:             len(h.rooms),
		MessagesPushed:    h.pushed.Load(),
		MessagesDropped:   h.dropped.Load(),
	}
}

// RoomSize 房间当前成员数
func (h *Hub) RoomSize(recipientID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[h.RoomName(recipientID)])
}

func (h *Hub) syncPresence(room string, count int) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.presence.SetRoomCount(ctx, room, count); err != nil {
		h.logger.Warnf("同步房间 %s 在线状态失败: %v", room, err)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	h.logger.Warnf("拒绝来源 %s 的WebSocket连接", origin)
	return false
}
