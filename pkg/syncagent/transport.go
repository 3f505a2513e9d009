package syncagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/pkg/websocket"
)

// Transport 传输方式
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportPolling   Transport = "polling"
)

// ErrJoinRejected 服务端拒绝加入房间
var ErrJoinRejected = errors.New("join room rejected")

// inbound 服务端推送，data 延迟解析
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// session 一次已建立的会话，serve 阻塞直到会话结束
type session interface {
	serve(ctx context.Context, handle func(eventType string, list []dto.NotificationResponse)) error
	close()
}

// wsSession WebSocket 会话
type wsSession struct {
	conn *gws.Conn
}

// dialWebSocket 建立连接并加入自己的房间，收到 roomJoined 才算连接成功
func dialWebSocket(ctx context.Context, dialer *gws.Dialer, wsURL, token string, recipientID uint) (*wsSession, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("无效的地址 %q: %w", wsURL, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("连接失败 (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("连接失败: %w", err)
	}

	if err := conn.WriteJSON(websocket.InboundMessage{Type: websocket.InboundJoinRoom, RecipientID: recipientID}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("发送加入房间请求失败: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("等待加入房间确认失败: %w", err)
		}
		switch msg.Type {
		case websocket.EventRoomJoined:
			_ = conn.SetReadDeadline(time.Time{})
			return &wsSession{conn: conn}, nil
		case websocket.EventError:
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrJoinRejected, string(msg.Data))
		}
	}
}

func (s *wsSession) serve(ctx context.Context, handle func(string, []dto.NotificationResponse)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(gws.CloseMessage,
				gws.FormatCloseMessage(gws.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = s.conn.Close()
		case <-done:
		}
	}()

	for {
		var msg inbound
		if err := s.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("连接中断: %w", err)
		}
		switch msg.Type {
		case websocket.EventBloodRequest, websocket.EventComment, websocket.EventNotification:
			var n dto.NotificationResponse
			if err := json.Unmarshal(msg.Data, &n); err != nil || n.ID == 0 {
				continue
			}
			handle(msg.Type, []dto.NotificationResponse{n})
		}
	}
}

func (s *wsSession) close() {
	_ = s.conn.Close()
}

// pollSession 轮询会话，定期增量拉取
type pollSession struct {
	api      *APIClient
	interval time.Duration
	since    func() time.Time
}

// probePolling 用未读数接口确认服务可达且令牌有效
func probePolling(ctx context.Context, api *APIClient) error {
	_, err := api.UnreadCount(ctx)
	return err
}

func (s *pollSession) serve(ctx context.Context, handle func(string, []dto.NotificationResponse)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			list, err := s.api.ListAfter(ctx, s.since())
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("轮询失败: %w", err)
			}
			if len(list) > 0 {
				handle("", list)
			}
		}
	}
}

func (s *pollSession) close() {}
