package realtime

import (
	"log"
	"sync"
)

// Handler 接收注册类型的事件
type Handler func(Event)

type handlerEntry struct {
	id uint64
	fn Handler
}

// handlerRegistry 按事件类型保存处理器，保持注册顺序。
type handlerRegistry struct {
	mu     sync.Mutex
	nextID uint64
	byKind map[EventKind][]handlerEntry
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{byKind: make(map[EventKind][]handlerEntry)}
}

// on 注册处理器，返回只移除本次注册的闭包。
func (r *handlerRegistry) on(kind EventKind, fn Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.byKind[kind] = append(r.byKind[kind], handlerEntry{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(kind, id) })
	}
}

func (r *handlerRegistry) remove(kind EventKind, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.byKind[kind]
	for i, entry := range entries {
		if entry.id == id {
			// 复制切片，正在分发的快照不受影响
			next := make([]handlerEntry, 0, len(entries)-1)
			next = append(next, entries[:i]...)
			next = append(next, entries[i+1:]...)
			if len(next) == 0 {
				delete(r.byKind, kind)
			} else {
				r.byKind[kind] = next
			}
			return
		}
	}
}

func (r *handlerRegistry) snapshot(kind EventKind) []handlerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byKind[kind]
}

func (r *handlerRegistry) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKind[kind])
}

// dispatch 调用 evt.Kind 对应的处理器，panic 的处理器仅记录日志并跳过。
func (r *handlerRegistry) dispatch(source string, evt Event) {
	for _, entry := range r.snapshot(evt.Kind) {
		invokeHandler(source, evt.Kind, entry.fn, evt)
	}
}

func invokeHandler(source string, kind EventKind, fn Handler, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[realtime] %s handler for %s failed: %v", source, kind, rec)
		}
	}()
	fn(evt)
}
