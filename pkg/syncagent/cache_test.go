package syncagent

import (
	"testing"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/stretchr/testify/assert"
)

func TestCacheMergeIsSetUnion(t *testing.T) {
	c := NewCache()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := dto.NotificationResponse{ID: 1, ActorCount: 1, CreatedAt: t0}
	b := dto.NotificationResponse{ID: 2, ActorCount: 1, CreatedAt: t0.Add(time.Minute)}

	assert.Equal(t, 2, c.Merge(a, b))
	assert.Equal(t, 0, c.Merge(a))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(2), c.Version())

	// 旧数据不会覆盖新数据
	stale := a
	stale.Message = "stale"
	stale.CreatedAt = t0.Add(-time.Minute)
	c.Merge(stale)
	got, _ := c.Get(1)
	assert.Empty(t, got.Message)

	bumped := a
	bumped.ActorCount = 3
	bumped.Message = "3 people commented on your post"
	c.Merge(bumped)
	got, _ = c.Get(1)
	assert.Equal(t, 3, got.ActorCount)

	list := c.List()
	assert.Equal(t, uint(2), list[0].ID)
	assert.Equal(t, uint(1), list[1].ID)
}

func TestCacheMarkRead(t *testing.T) {
	c := NewCache()
	c.Merge(dto.NotificationResponse{ID: 1}, dto.NotificationResponse{ID: 2})
	assert.Equal(t, 2, c.Unread())
	assert.True(t, c.MarkRead(1))
	assert.False(t, c.MarkRead(9))
	assert.Equal(t, 1, c.Unread())
	c.MarkAllRead()
	assert.Equal(t, 0, c.Unread())
}
