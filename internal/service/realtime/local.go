package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/collab-copilot/backend/internal/model/meeting"
)

// DefaultLocalDelay 模拟聊天服务器的网络延迟
const DefaultLocalDelay = 100 * time.Millisecond

type delivery struct {
	due time.Time
	evt Event
}

// LocalChannel 在进程内模拟聊天服务器的事件协议，不产生任何网络访问。
type LocalChannel struct {
	delay    time.Duration
	handlers *handlerRegistry

	mu           sync.Mutex
	connected    bool
	messages     map[string][]meeting.Message
	participants map[string][]meeting.Participant
	queue        []delivery

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLocalChannel 启动模拟器，事件投递延迟 delay。
// delay 非正数时使用 DefaultLocalDelay（配置层会拒绝 0）。
func NewLocalChannel(delay time.Duration) *LocalChannel {
	if delay <= 0 {
		delay = DefaultLocalDelay
	}
	l := &LocalChannel{
		delay:        delay,
		handlers:     newHandlerRegistry(),
		messages:     make(map[string][]meeting.Message),
		participants: make(map[string][]meeting.Participant),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	go l.dispatchLoop()
	return l
}

// Name 实现 Transport 接口
func (l *LocalChannel) Name() string { return TransportLocal }

// Connect 将模拟器标记为已连接，不会失败。
func (l *LocalChannel) Connect(_ context.Context) error {
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	log.Println("[realtime] local channel connected")
	return nil
}

// Disconnect 将模拟器标记为未连接
func (l *LocalChannel) Disconnect() {
	l.mu.Lock()
	wasConnected := l.connected
	l.connected = false
	l.mu.Unlock()
	if wasConnected {
		log.Println("[realtime] local channel disconnected")
	}
}

// IsConnected 实现 Transport 接口
func (l *LocalChannel) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// On 实现 Transport 接口
func (l *LocalChannel) On(kind EventKind, h Handler) func() {
	return l.handlers.on(kind, h)
}

// Emit 同步记录事件的协议副作用，并安排延迟回显。
func (l *LocalChannel) Emit(evt Event) error {
	switch evt.Kind {
	case EventSendMessage:
		if evt.Message == nil {
			return nil
		}
		msg := *evt.Message
		l.mu.Lock()
		l.messages[msg.MeetingID] = append(l.messages[msg.MeetingID], msg)
		l.mu.Unlock()
		l.schedule(MessageEvent(EventNewMessage, msg))

	case EventRegisterParticipant:
		if evt.Participant == nil {
			return nil
		}
		p := *evt.Participant
		l.mu.Lock()
		list := l.participants[p.MeetingID]
		if meeting.HasParticipant(list, p.Email, p.ID) {
			l.mu.Unlock()
			return nil
		}
		l.participants[p.MeetingID] = append(list, p)
		l.mu.Unlock()
		l.schedule(RosterEvent(EventNewParticipant, meeting.ParticipantEvent{
			Type:        meeting.ParticipantJoined,
			MeetingID:   p.MeetingID,
			Participant: &p,
		}))

	default:
		l.schedule(evt)
	}
	return nil
}

// Messages 返回模拟服务器中该会议消息记录的副本
func (l *LocalChannel) Messages(meetingID string) []meeting.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]meeting.Message(nil), l.messages[meetingID]...)
}

// Participants 返回模拟服务器中该会议名单的副本
func (l *LocalChannel) Participants(meetingID string) []meeting.Participant {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]meeting.Participant(nil), l.participants[meetingID]...)
}

// Close 停止分发协程，未投递的事件会被丢弃。
func (l *LocalChannel) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

func (l *LocalChannel) schedule(evt Event) {
	l.mu.Lock()
	l.queue = append(l.queue, delivery{due: time.Now().Add(l.delay), evt: evt})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop 按先进先出顺序投递到期的事件
func (l *LocalChannel) dispatchLoop() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			select {
			case <-l.done:
				return
			case <-l.wake:
				continue
			}
		}
		next := l.queue[0]
		l.mu.Unlock()

		if wait := time.Until(next.due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-l.done:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		l.mu.Lock()
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.handlers.dispatch(TransportLocal, next.evt)
	}
}
