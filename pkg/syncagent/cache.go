package syncagent

import (
	"sort"
	"sync"

	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
)

// Cache 本地通知缓存，按通知ID去重
type Cache struct {
	mu      sync.RWMutex
	items   map[uint]dto.NotificationResponse
	version int64
}

// NewCache 创建空缓存
func NewCache() *Cache {
	return &Cache{items: make(map[uint]dto.NotificationResponse)}
}

// Merge 一次提交合并一批通知，返回新增条数
// 已存在的ID只在来者更新（聚合人数更多或时间更晚）时覆盖，不会产生第二条
func (c *Cache) Merge(list ...dto.NotificationResponse) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, n := range list {
		old, ok := c.items[n.ID]
		if !ok {
			c.items[n.ID] = n
			added++
			continue
		}
		if n.ActorCount > old.ActorCount || n.CreatedAt.After(old.CreatedAt) {
			c.items[n.ID] = n
		}
	}
	c.version++
	return added
}

// MarkRead 本地标记已读
func (c *Cache) MarkRead(id uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.items[id]
	if !ok {
		return false
	}
	n.IsRead = true
	c.items[id] = n
	c.version++
	return true
}

// MarkAllRead 本地全部标记已读
func (c *Cache) MarkAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, n := range c.items {
		n.IsRead = true
		c.items[id] = n
	}
	c.version++
}

// Get 按ID读取
func (c *Cache) Get(id uint) (dto.NotificationResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.items[id]
	return n, ok
}

// List 按创建时间倒序返回快照
func (c *Cache) List() []dto.NotificationResponse {
	c.mu.RLock()
	list := make([]dto.NotificationResponse, 0, len(c.items))
	for _, n := range c.items {
		list = append(list, n)
	}
	c.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Len 缓存条数
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Unread 未读条数
func (c *Cache) Unread() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, item := range c.items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// Version 已提交的更新次数
func (c *Cache) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
