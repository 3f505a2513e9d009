package syncagent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CursorStore 持久化 lastCheckedAt
type CursorStore interface {
	Load() (time.Time, error)
	Save(t time.Time) error
}

// MemoryCursorStore 进程内游标
type MemoryCursorStore struct {
	mu sync.Mutex
	t  time.Time
}

// NewMemoryCursorStore 以初始值创建
func NewMemoryCursorStore(initial time.Time) *MemoryCursorStore {
	return &MemoryCursorStore{t: initial}
}

func (s *MemoryCursorStore) Load() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t, nil
}

func (s *MemoryCursorStore) Save(t time.Time) error {
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
	return nil
}

type cursorFile struct {
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// FileCursorStore 以JSON文件保存游标，文件不存在视为零值
type FileCursorStore struct {
	path string
	mu   sync.Mutex
}

// NewFileCursorStore 创建文件游标
func NewFileCursorStore(path string) *FileCursorStore {
	return &FileCursorStore{path: path}
}

func (s *FileCursorStore) Load() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("读取游标文件失败: %w", err)
	}
	var f cursorFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return time.Time{}, fmt.Errorf("解析游标文件失败: %w", err)
	}
	return f.LastCheckedAt.UTC(), nil
}

// Save 先写临时文件再改名，避免写一半的文件
func (s *FileCursorStore) Save(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(cursorFile{LastCheckedAt: t.UTC()})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建游标目录失败: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("写入游标文件失败: %w", err)
	}
	return os.Rename(tmp, s.path)
}
