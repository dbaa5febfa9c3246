package notify

import (
	"log"
	"sync"
	"time"
)

// Level 通知级别
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice 面向用户的临时通知（前端的 toast）
type Notice struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier 向用户展示通知
type Notifier interface {
	Notify(n Notice)
}

// Info 创建提示通知
func Info(title, message string) Notice {
	return Notice{Level: LevelInfo, Title: title, Message: message}
}

// Warning 创建警告通知
func Warning(title, message string) Notice {
	return Notice{Level: LevelWarning, Title: title, Message: message}
}

// Error 创建错误通知
func Error(title, message string) Notice {
	return Notice{Level: LevelError, Title: title, Message: message}
}

// LogNotifier 将通知写入标准日志
type LogNotifier struct{}

// Notify 实现 Notifier 接口
func (LogNotifier) Notify(n Notice) {
	log.Printf("[notify] %s: %s - %s", n.Level, n.Title, n.Message)
}

// Hub 记录每条通知并分发给订阅者（例如 SSE 连接）
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(Notice)
}

// NewHub 创建通知中心
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]func(Notice))}
}

// Notify 实现 Notifier 接口
func (h *Hub) Notify(n Notice) {
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}
	LogNotifier{}.Notify(n)

	h.mu.RLock()
	subs := make([]func(Notice), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()

	for _, fn := range subs {
		fn(n)
	}
}

// Subscribe 订阅后续通知，返回取消函数
func (h *Hub) Subscribe(fn func(Notice)) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}
