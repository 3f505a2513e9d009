package websocket

import (
	"encoding/json"
)

// 推送事件类型
const (
	// EventBloodRequest 匹配到的用血求助（广播类）
	EventBloodRequest = "bloodRequest"
	// EventComment 评论/回复通知（定向类）
	EventComment = "comment"
	// EventNotification 其他定向通知
	EventNotification = "notification"
	// EventRoomJoined 加入房间的确认
	EventRoomJoined = "roomJoined"
	// EventRoomMembers 房间成员数变化
	EventRoomMembers = "roomMembers"
	// EventPong 心跳响应
	EventPong = "pong"
	// EventError 客户端请求处理失败
	EventError = "error"
)

// 客户端上行消息类型
const (
	InboundJoinRoom = "joinRoom"
	InboundPing     = "ping"
)

// Event 推送给房间的事件
type Event struct {
	Type string
	Data interface{}
}

// Envelope 下行消息外层结构
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// ToJSON 将消息转换为JSON
func (m *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InboundMessage 客户端上行消息
type InboundMessage struct {
	Type        string `json:"type"`
	RecipientID uint   `json:"recipientId,omitempty"`
}

// RoomInfo 房间信息，用于 roomJoined 与 roomMembers 事件
type RoomInfo struct {
	Room  string `json:"room"`
	Count int    `json:"count"`
}

// ErrorInfo 错误事件数据
type ErrorInfo struct {
	Request string `json:"request"`
	Message string `json:"message"`
}
