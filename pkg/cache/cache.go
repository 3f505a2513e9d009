package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss 缓存未命中
var ErrMiss = errors.New("cache miss")

// Cache 缓存接口
type Cache interface {
	// Get 获取缓存，未命中返回 ErrMiss
	Get(ctx context.Context, key string) (string, error)

	// Set 设置缓存
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error

	// Delete 删除缓存
	Delete(ctx context.Context, keys ...string) error

	// Incr 自增计数，键不存在时从 0 开始
	Incr(ctx context.Context, key string) (int64, error)

	// GetJSON 获取JSON格式的缓存并反序列化
	GetJSON(ctx context.Context, key string, dest interface{}) error

	// SetJSON 序列化为JSON并设置缓存
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// 缓存键
const (
	UnreadCountKey   = "notification:unread:%d:v%d" // 用户未读通知数，按版本区分
	UnreadVersionKey = "notification:unread:ver:%d" // 用户未读数版本，每次变更自增
)

// 过期时间
const (
	UnreadCountExpiration = 10 * time.Minute
)

// UnreadKey 用户某一版本的未读数缓存键
func UnreadKey(recipientID uint, version int64) string {
	return fmt.Sprintf(UnreadCountKey, recipientID, version)
}

// UnreadVersion 用户未读数版本键
func UnreadVersion(recipientID uint) string {
	return fmt.Sprintf(UnreadVersionKey, recipientID)
}

// IsMiss 判断是否为未命中
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss) || errors.Is(err, redis.Nil)
}
