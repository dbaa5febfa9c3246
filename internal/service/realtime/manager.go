package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/collab-copilot/backend/internal/model/meeting"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/notify"
)

// DefaultConnectTimeout 远程连接尝试的超时时间，超时后回退到本地通道。
const DefaultConnectTimeout = 5 * time.Second

// 订阅方事件类型
const (
	kindMessage     EventKind = "manager.message"
	kindParticipant EventKind = "manager.participant"
	kindStatus      EventKind = "manager.status"
)

// RemoteFactory 为指定身份创建远程传输
type RemoteFactory func(identity ConnectOptions) (Transport, error)

// ManagerConfig 连接管理器配置
type ManagerConfig struct {
	ServerURL      string
	ConnectTimeout time.Duration
	Remote         RemoteOptions
	LocalMode      bool
	// Dial 自定义远程传输的创建方式，默认连接 ServerURL 的 websocket。
	Dial RemoteFactory
}

// Manager 持有唯一的活动传输，对外提供与传输无关的事件接口。
type Manager struct {
	cfg      ManagerConfig
	dial     RemoteFactory
	local    *LocalChannel
	notifier notify.Notifier
	subs     *handlerRegistry

	mu         sync.Mutex
	active     Transport
	bindings   []func()
	identity   *ConnectOptions
	localMode  bool
	generation uint64
}

// NewManager 创建连接管理器。local 为 nil 时使用默认模拟器，
// notifier 为 nil 时通知写入日志。
func NewManager(cfg ManagerConfig, local *LocalChannel, notifier notify.Notifier) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if local == nil {
		local = NewLocalChannel(DefaultLocalDelay)
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	m := &Manager{
		cfg:       cfg,
		local:     local,
		notifier:  notifier,
		subs:      newHandlerRegistry(),
		localMode: cfg.LocalMode,
	}

	m.dial = cfg.Dial
	if m.dial == nil {
		if cfg.ServerURL == "" {
			log.Println("[realtime] no chat server url configured, using local mode")
			m.localMode = true
		}
		m.dial = func(identity ConnectOptions) (Transport, error) {
			return NewRemoteTransport(cfg.ServerURL, identity, cfg.Remote)
		}
	}
	return m
}

// Connect 为 opts 建立连接并阻塞到连接可用。远程失败、重试耗尽或超时
// 都会回退到本地通道，因此只有参数无效、尝试已过期或模拟器失败时
// 才返回 false。
func (m *Manager) Connect(ctx context.Context, opts ConnectOptions) bool {
	if err := opts.Validate(); err != nil {
		log.Printf("[realtime] connect rejected: %v", err)
		return false
	}

	m.mu.Lock()
	m.generation++
	gen := m.generation
	identity := opts
	m.identity = &identity
	localMode := m.localMode
	prev := m.detachLocked()
	m.mu.Unlock()

	if prev != nil {
		prev.Disconnect()
	}

	if localMode {
		log.Printf("[realtime] local mode, connecting meeting=%s via local channel", opts.MeetingID)
		return m.activateLocal(ctx, gen)
	}

	remote, err := m.dial(opts)
	if err != nil {
		return m.fallback(ctx, gen, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	log.Printf("[realtime] connecting meeting=%s user=%s to chat server", opts.MeetingID, opts.UserID)
	if err := remote.Connect(attemptCtx); err != nil {
		remote.Disconnect()
		return m.fallback(ctx, gen, err)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		log.Println("[realtime] discarding superseded remote connection")
		remote.Disconnect()
		return false
	}
	m.bindLocked(remote)
	m.mu.Unlock()

	if !remote.IsConnected() {
		m.transportLost(remote, ErrNotConnected)
		return m.fallback(ctx, gen, ErrNotConnected)
	}

	log.Printf("[realtime] connected meeting=%s to chat server", opts.MeetingID)
	m.broadcastStatus(true)
	return true
}

func (m *Manager) fallback(ctx context.Context, gen uint64, cause error) bool {
	log.Printf("[realtime] chat server unavailable, falling back to local channel: %v", cause)

	if !m.activateLocal(ctx, gen) {
		return false
	}
	m.notifier.Notify(notify.Info("Local mode", "Chat server unavailable. Messages are shared through this session only."))
	return true
}

func (m *Manager) activateLocal(ctx context.Context, gen uint64) bool {
	if err := m.local.Connect(ctx); err != nil {
		log.Printf("[realtime] local channel failed to connect: %v", err)
		return false
	}

	m.mu.Lock()
	if m.generation != gen {
		if m.active != Transport(m.local) {
			m.local.Disconnect()
		}
		m.mu.Unlock()
		return false
	}
	m.bindLocked(m.local)
	m.mu.Unlock()

	m.broadcastStatus(true)
	return true
}

// bindLocked 将 t 设为活动传输并挂上转发处理器
func (m *Manager) bindLocked(t Transport) {
	if prev := m.detachLocked(); prev != nil && prev != t {
		prev.Disconnect()
	}

	m.active = t
	m.bindings = []func(){
		t.On(EventNewMessage, func(evt Event) {
			if evt.Message == nil || !m.isActive(t) {
				return
			}
			m.subs.dispatch("manager", Event{Kind: kindMessage, Message: evt.Message})
		}),
		t.On(EventNewParticipant, m.forwardRoster(t)),
		t.On(EventParticipantLeft, m.forwardRoster(t)),
		t.On(EventDisconnect, func(evt Event) {
			m.transportLost(t, evt.Err)
		}),
	}
}

func (m *Manager) forwardRoster(t Transport) Handler {
	return func(evt Event) {
		if evt.Roster == nil || !m.isActive(t) {
			return
		}
		m.subs.dispatch("manager", Event{Kind: kindParticipant, Roster: evt.Roster})
	}
}

// detachLocked 移除活动传输上的转发处理器并返回该传输
func (m *Manager) detachLocked() Transport {
	for _, unsubscribe := range m.bindings {
		unsubscribe()
	}
	m.bindings = nil
	prev := m.active
	m.active = nil
	return prev
}

func (m *Manager) isActive(t Transport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active == t
}

// transportLost 处理远程连接自行断开
func (m *Manager) transportLost(t Transport, cause error) {
	m.mu.Lock()
	if m.active != t {
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	m.mu.Unlock()

	log.Printf("[realtime] %s transport disconnected: %v", t.Name(), cause)
	m.broadcastStatus(false)
	m.notifier.Notify(notify.Warning("Disconnected", "Lost connection to the chat server."))
}

// Disconnect 断开活动传输并清除保存的身份
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	prev := m.detachLocked()
	m.identity = nil
	m.mu.Unlock()

	if prev != nil {
		prev.Disconnect()
		log.Printf("[realtime] disconnected %s transport", prev.Name())
	}
	m.broadcastStatus(false)
}

// Reconnect 先强制本地模式，再用保存的身份重新连接。
func (m *Manager) Reconnect(ctx context.Context) bool {
	m.mu.Lock()
	identity := m.identity
	m.mu.Unlock()

	if identity == nil {
		log.Println("[realtime] reconnect skipped: no previous connection")
		return false
	}

	m.SetLocalMode(true)
	return m.Connect(ctx, *identity)
}

// SendMessage 附加当前会议 id 后转发消息。没有可用传输时
// 最后尝试启用一次本地通道。
func (m *Manager) SendMessage(msg meeting.Message) bool {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	t, meetingID := m.ensureTransport()
	if t == nil {
		log.Printf("[realtime] send message %s failed: no transport", msg.ID)
		return false
	}
	if meetingID != "" {
		msg.MeetingID = meetingID
	}

	if err := t.Emit(MessageEvent(EventSendMessage, msg)); err != nil {
		log.Printf("[realtime] send message %s failed: %v", msg.ID, err)
		return false
	}
	return true
}

// RegisterParticipant 在当前会议中登记参与者，回退策略同 SendMessage。
func (m *Manager) RegisterParticipant(p meeting.Participant) bool {
	t, meetingID := m.ensureTransport()
	if t == nil {
		log.Printf("[realtime] register participant %s failed: no transport", p.Email)
		return false
	}
	if meetingID != "" {
		p.MeetingID = meetingID
	}

	if err := t.Emit(ParticipantEvent(p)); err != nil {
		log.Printf("[realtime] register participant %s failed: %v", p.Email, err)
		return false
	}
	return true
}

func (m *Manager) ensureTransport() (Transport, string) {
	m.mu.Lock()
	t := m.active
	gen := m.generation
	var meetingID string
	if m.identity != nil {
		meetingID = m.identity.MeetingID
	}
	m.mu.Unlock()

	if t != nil && t.IsConnected() {
		return t, meetingID
	}

	log.Println("[realtime] no live transport, activating local channel")
	if !m.activateLocal(context.Background(), gen) {
		return nil, ""
	}
	return m.local, meetingID
}

// OnMessage 订阅收到的消息，调用返回的函数即取消订阅。
func (m *Manager) OnMessage(fn func(meeting.Message)) func() {
	return m.subs.on(kindMessage, func(evt Event) {
		fn(*evt.Message)
	})
}

// OnParticipant 订阅参与者加入与离开事件
func (m *Manager) OnParticipant(fn func(meeting.ParticipantEvent)) func() {
	return m.subs.on(kindParticipant, func(evt Event) {
		fn(*evt.Roster)
	})
}

// OnConnectionStatus 订阅连接状态变化
func (m *Manager) OnConnectionStatus(fn func(bool)) func() {
	return m.subs.on(kindStatus, func(evt Event) {
		fn(evt.Err == nil)
	})
}

func (m *Manager) broadcastStatus(connected bool) {
	evt := Event{Kind: kindStatus}
	if !connected {
		evt.Err = ErrNotConnected
	}
	m.subs.dispatch("manager", evt)
}

// IsConnected 返回活动传输的实时连接状态
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	t := m.active
	m.mu.Unlock()
	return t != nil && t.IsConnected()
}

// TransportName 返回 "remote"、"local"，无活动传输时返回空字符串。
func (m *Manager) TransportName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.Name()
}

// SetLocalMode 设置跳过远程连接的本地模式开关
func (m *Manager) SetLocalMode(enabled bool) {
	m.mu.Lock()
	m.localMode = enabled
	m.mu.Unlock()
	log.Printf("[realtime] local mode set to %t", enabled)
}

// LocalMode 返回本地模式开关
func (m *Manager) LocalMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localMode
}

// Close 断开连接并停止本地通道的分发协程
func (m *Manager) Close() {
	m.Disconnect()
	m.local.Close()
}
