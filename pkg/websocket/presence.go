package websocket

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// PresenceKey 在线房间成员数的 Redis 哈希键
const PresenceKey = "realtime:presence"

// PresenceStore 房间在线人数镜像
type PresenceStore interface {
	SetRoomCount(ctx context.Context, room string, count int) error
	Snapshot(ctx context.Context) (map[string]int, error)
}

// RedisPresenceStore 基于Redis哈希的在线状态存储
type RedisPresenceStore struct {
	client *redis.Client
	key    string
}

// NewRedisPresenceStore 创建Redis在线状态存储
func NewRedisPresenceStore(client *redis.Client) *RedisPresenceStore {
	return &RedisPresenceStore{client: client, key: PresenceKey}
}

// SetRoomCount 写入房间成员数，0 表示删除
func (s *RedisPresenceStore) SetRoomCount(ctx context.Context, room string, count int) error {
	if count <= 0 {
		return s.client.HDel(ctx, s.key, room).Err()
	}
	return s.client.HSet(ctx, s.key, room, count).Err()
}

// Snapshot 读取全部房间成员数
func (s *RedisPresenceStore) Snapshot(ctx context.Context) (map[string]int, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	result := make(map[string]int, len(raw))
	for room, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		result[room] = n
	}
	return result, nil
}
