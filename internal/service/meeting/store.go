package meeting

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/collab-copilot/backend/internal/model/meeting"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/notify"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/realtime"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/session"
)

const (
	displayTimeLayout = "15:04"
	storageTimeout    = 3 * time.Second
)

// Connector Store 依赖的连接管理器能力
type Connector interface {
	Connect(ctx context.Context, opts realtime.ConnectOptions) bool
	Disconnect()
	IsConnected() bool
	SendMessage(msg meeting.Message) bool
	RegisterParticipant(p meeting.Participant) bool
	OnMessage(fn func(meeting.Message)) func()
	OnParticipant(fn func(meeting.ParticipantEvent)) func()
	OnConnectionStatus(fn func(bool)) func()
}

// User Store 连接时使用的本地用户
type User struct {
	ID   string
	Name string
}

// Store 是当前会议参与者名单与消息记录的唯一数据源。
type Store struct {
	conn     Connector
	storage  session.Storage
	notifier notify.Notifier
	user     User

	mu            sync.Mutex
	state         meeting.State
	subscriptions []func()
	attachEpoch   uint64

	listenersMu sync.RWMutex
	nextID      uint64
	listeners   map[uint64]func(meeting.State)
}

// NewStore 创建持有默认未开始会议的 Store
func NewStore(conn Connector, storage session.Storage, notifier notify.Notifier, user User) *Store {
	if storage == nil {
		storage = session.NewMemoryStorage()
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Store{
		conn:      conn,
		storage:   storage,
		notifier:  notifier,
		user:      user,
		state:     meeting.DefaultState(),
		listeners: make(map[uint64]func(meeting.State)),
	}
}

// Restore 从存储恢复会议状态，进行中的会议会重新订阅并连接。
func (s *Store) Restore(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, storageTimeout)
	data, err := s.storage.Load(loadCtx, StorageKey)
	cancel()
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	state, err := DecodeState(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	state.IsConnected = false
	s.state = state
	snapshot := s.commitLocked()
	s.mu.Unlock()
	s.publish(snapshot)

	log.Printf("[meeting] restored meeting=%s active=%t messages=%d", state.MeetingID, state.IsActive, len(state.Messages))
	if state.IsActive {
		s.attach(ctx, state.MeetingID)
	}
	return nil
}

// SetMeetingActive 开始或暂停会议。开始时补齐会议 id 与开始时间并发起连接；
// 暂停时保留两者，直到 ResetMeeting。
func (s *Store) SetMeetingActive(ctx context.Context, active bool, name string) {
	s.mu.Lock()
	if name != "" {
		s.state.MeetingName = name
	}
	wasActive := s.state.IsActive
	if active {
		if s.state.MeetingID == "" {
			s.state.MeetingID = uuid.NewString()
		}
		if s.state.StartTime == nil {
			now := time.Now().UTC()
			s.state.StartTime = &now
		}
	}
	s.state.IsActive = active
	meetingID := s.state.MeetingID
	snapshot := s.commitLocked()
	s.mu.Unlock()
	s.publish(snapshot)

	switch {
	case active && !wasActive:
		log.Printf("[meeting] meeting=%s started", meetingID)
		s.attach(ctx, meetingID)
	case !active && wasActive:
		log.Printf("[meeting] meeting=%s paused", meetingID)
		s.detach()
	}
}

// attach 订阅连接事件并以本地用户身份连接
func (s *Store) attach(ctx context.Context, meetingID string) {
	s.mu.Lock()
	s.unsubscribeLocked()
	s.subscriptions = []func(){
		s.conn.OnMessage(s.receiveMessage),
		s.conn.OnParticipant(s.receiveParticipant),
		s.conn.OnConnectionStatus(s.receiveStatus),
	}
	epoch := s.attachEpoch
	s.mu.Unlock()

	connected := s.conn.Connect(ctx, realtime.ConnectOptions{
		MeetingID: meetingID,
		UserID:    s.user.ID,
		UserName:  s.user.Name,
	})

	// 连接期间会议可能已被暂停、结束或重新开始，过期结果直接丢弃
	s.mu.Lock()
	current := s.attachEpoch == epoch && s.state.IsActive && s.state.MeetingID == meetingID
	s.mu.Unlock()
	if !current {
		log.Printf("[meeting] ignoring connect result for stale meeting=%s", meetingID)
		return
	}

	if !connected {
		s.notifier.Notify(notify.Error("Connection failed", "Could not join the meeting chat."))
	}
	s.receiveStatus(s.conn.IsConnected())
}

func (s *Store) detach() {
	s.mu.Lock()
	s.unsubscribeLocked()
	s.mu.Unlock()
}

// unsubscribeLocked 取消订阅，并使进行中的 attach 失效。
func (s *Store) unsubscribeLocked() {
	s.attachEpoch++
	for _, unsubscribe := range s.subscriptions {
		unsubscribe()
	}
	s.subscriptions = nil
}

// AddMessage 乐观追加消息并转发，返回是否追加成功。
func (s *Store) AddMessage(msg meeting.Message) bool {
	s.mu.Lock()
	if !s.state.IsActive {
		s.mu.Unlock()
		log.Println("[meeting] warning: cannot add message, meeting is not active")
		return false
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if meeting.HasMessage(s.state.Messages, msg.ID) {
		s.mu.Unlock()
		return false
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().Format(displayTimeLayout)
	}
	msg.MeetingID = s.state.MeetingID
	s.state.Messages = append(s.state.Messages, msg)
	snapshot := s.commitLocked()
	s.mu.Unlock()
	s.publish(snapshot)

	if !s.conn.SendMessage(msg) {
		s.notifier.Notify(notify.Error("Message not delivered", "Your message is shown locally but could not be sent."))
	}
	return true
}

// AddParticipant 邮箱不在名单中时追加参与者并转发
func (s *Store) AddParticipant(p meeting.Participant) bool {
	s.mu.Lock()
	if !s.state.IsActive {
		s.mu.Unlock()
		log.Println("[meeting] warning: cannot add participant, meeting is not active")
		return false
	}
	if meeting.HasParticipantEmail(s.state.Participants, p.Email) {
		s.mu.Unlock()
		return false
	}
	p.MeetingID = s.state.MeetingID
	s.state.Participants = append(s.state.Participants, p)
	snapshot := s.commitLocked()
	s.mu.Unlock()
	s.publish(snapshot)

	if !s.conn.RegisterParticipant(p) {
		s.notifier.Notify(notify.Error("Invite not delivered", "The participant was added locally but could not be announced."))
	}
	return true
}

func (s *Store) receiveMessage(msg meeting.Message) {
	s.mu.Lock()
	if msg.MeetingID != s.state.MeetingID {
		s.mu.Unlock()
		log.Printf("[meeting] dropping message %s for meeting=%s", msg.ID, msg.MeetingID)
		return
	}
	if meeting.HasMessage(s.state.Messages, msg.ID) {
		s.mu.Unlock()
		return
	}
	s.state.Messages = append(s.state.Messages, msg)
	snapshot := s.commitLocked()
	s.mu.Unlock()
	s.publish(snapshot)
}

func (s *Store) receiveParticipant(evt meeting.ParticipantEvent) {
	s.mu.Lock()
	switch evt.Type {
	case meeting.ParticipantJoined:
		p := evt.Participant
		if p == nil || meeting.HasParticipant(s.state.Participants, p.Email, p.ID) {
			s.mu.Unlock()
			return
		}
		s.state.Participants = append(s.state.Participants, *p)
	case meeting.ParticipantLeft:
		if evt.ParticipantID == "" {
			s.mu.Unlock()
			return
		}
		kept := s.state.Participants[:0:0]
		for _, p := range s.state.Participants {
			if p.ID != evt.ParticipantID {
				kept = append(kept, p)
			}
		}
		s.state.Participants = kept
	default:
		s.mu.Unlock()
		return
	}
	snapshot := s.commitLocked()
	s.mu.Unlock()
	s.publish(snapshot)
}

func (s *Store) receiveStatus(connected bool) {
	s.mu.Lock()
	if s.state.IsConnected == connected {
		s.mu.Unlock()
		return
	}
	s.state.IsConnected = connected
	snapshot := s.commitLocked()
	s.mu.Unlock()
	s.publish(snapshot)
}

// SetRecording 切换录制状态
func (s *Store) SetRecording(recording bool) {
	s.mu.Lock()
	s.state.IsRecording = recording
	snapshot := s.commitLocked()
	s.mu.Unlock()
	s.publish(snapshot)
}

// ResetMeeting 断开连接、恢复默认会议并清除持久化状态
func (s *Store) ResetMeeting(ctx context.Context) {
	s.detach()
	s.conn.Disconnect()

	s.mu.Lock()
	previous := s.state.MeetingID
	s.state = meeting.DefaultState()
	snapshot := s.state.Clone()
	deleteCtx, cancel := context.WithTimeout(ctx, storageTimeout)
	if err := s.storage.Delete(deleteCtx, StorageKey); err != nil {
		log.Printf("[meeting] failed to clear persisted state: %v", err)
	}
	cancel()
	s.mu.Unlock()
	s.publish(snapshot)

	log.Printf("[meeting] meeting=%s ended", previous)
}

// User 返回 Store 连接使用的身份
func (s *Store) User() User {
	return s.user
}

// Snapshot 返回当前状态的副本
func (s *Store) Snapshot() meeting.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe 订阅状态变化，调用返回的函数即取消订阅。
func (s *Store) Subscribe(fn func(meeting.State)) func() {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// commitLocked 持久化状态并返回给监听者的快照，存储错误只记录日志。
func (s *Store) commitLocked() meeting.State {
	snapshot := s.state.Clone()

	data, err := EncodeState(snapshot)
	if err != nil {
		log.Printf("[meeting] failed to encode state: %v", err)
		return snapshot
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := s.storage.Save(ctx, StorageKey, data); err != nil {
		log.Printf("[meeting] failed to persist state: %v", err)
	}
	return snapshot
}

func (s *Store) publish(state meeting.State) {
	s.listenersMu.RLock()
	listeners := make([]func(meeting.State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(state)
	}
}
