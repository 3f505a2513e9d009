package websocket

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState 连接状态
type ConnState int32

const (
	// StateConnecting 已升级但尚未登记到 Hub
	StateConnecting ConnState = iota
	// StateConnected 已登记，可加入 0..n 个房间
	StateConnected
	// StateDisconnected 终态
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Client 表示一个WebSocket客户端连接
type Client struct {
	ID          string // 连接唯一标识符
	RecipientID uint   // 认证后的用户ID

	conn  *websocket.Conn
	send  chan []byte
	hub   *Hub
	state atomic.Int32

	// 以下字段由 hub.mu 保护
	rooms map[string]struct{}

	activeMu   sync.Mutex
	lastActive time.Time
}

func newClient(id string, recipientID uint, conn *websocket.Conn, hub *Hub) *Client {
	c := &Client{
		ID:          id,
		RecipientID: recipientID,
		conn:        conn,
		send:        make(chan []byte, hub.cfg.SendBuffer),
		hub:         hub,
		rooms:       make(map[string]struct{}),
		lastActive:  time.Now(),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State 当前连接状态
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// readPump 处理从客户端读取消息，退出即断开
func (c *Client) readPump() {
	reason := "client closed"
	defer func() {
		c.hub.disconnect(c, reason)
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PingTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				reason = err.Error()
			}
			return
		}

		c.touch()
		if len(message) > 0 {
			c.handleMessage(message)
		}
	}
}

// writePump 处理向客户端发送消息
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		// 关闭底层连接使 readPump 退出并完成注销
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(message []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.hub.sendTo(c, Event{Type: EventError, Data: ErrorInfo{Request: "unknown", Message: "invalid message"}})
		return
	}

	switch msg.Type {
	case InboundJoinRoom:
		count, err := c.hub.JoinRoom(c.ID, msg.RecipientID)
		if err != nil {
			c.hub.sendTo(c, Event{Type: EventError, Data: ErrorInfo{Request: InboundJoinRoom, Message: err.Error()}})
			return
		}
		c.hub.sendTo(c, Event{Type: EventRoomJoined, Data: RoomInfo{Room: c.hub.RoomName(msg.RecipientID), Count: count}})
	case InboundPing:
		c.hub.sendTo(c, Event{Type: EventPong})
	}
}

// touch 更新最后活跃时间并顺延读超时
func (c *Client) touch() {
	c.activeMu.Lock()
	c.lastActive = time.Now()
	c.activeMu.Unlock()
	if c.conn != nil {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PingTimeout))
	}
}

// idleSince 距离上次活跃的时长
func (c *Client) idleSince(now time.Time) time.Duration {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	return now.Sub(c.lastActive)
}
