package syncagent

import (
	"sync"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
)

// DebounceState 防抖状态
type DebounceState int

const (
	DebounceIdle DebounceState = iota
	DebouncePending
)

// String 状态名
func (s DebounceState) String() string {
	if s == DebouncePending {
		return "pending"
	}
	return "idle"
}

// Debouncer 合并窗口内同类推送，窗口结束时一次提交
// Idle -> Pending(timer) -> Idle，Pending 期间再次 Schedule 只追加不重复计时
type Debouncer struct {
	window time.Duration
	commit func([]dto.NotificationResponse)

	mu      sync.Mutex
	state   DebounceState
	pending []dto.NotificationResponse
	timer   *time.Timer
}

// NewDebouncer 创建防抖器
func NewDebouncer(window time.Duration, commit func([]dto.NotificationResponse)) *Debouncer {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &Debouncer{window: window, commit: commit}
}

// Schedule 加入一条待提交通知
func (d *Debouncer) Schedule(n dto.NotificationResponse) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, n)
	if d.state == DebouncePending {
		return
	}
	d.state = DebouncePending
	d.timer = time.AfterFunc(d.window, d.fire)
}

// State 当前状态
func (d *Debouncer) State() DebounceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Flush 立即提交待处理通知，会话结束时使用
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.fire()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.state = DebounceIdle
	d.timer = nil
	d.mu.Unlock()

	if len(batch) > 0 {
		d.commit(batch)
	}
}
