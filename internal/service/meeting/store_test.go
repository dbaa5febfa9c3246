package meeting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/collab-copilot/backend/internal/model/meeting"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/notify"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/realtime"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/session"
)

// fakeConnector 记录发出的调用，并允许测试同步推送事件。
type fakeConnector struct {
	mu            sync.Mutex
	connected     bool
	connectOpts   []realtime.ConnectOptions
	sent          []meeting.Message
	registered    []meeting.Participant
	sendFails     bool
	disconnects   int
	onMessage     map[int]func(meeting.Message)
	onRoster      map[int]func(meeting.ParticipantEvent)
	onStatus      map[int]func(bool)
	nextHandlerID int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		onMessage: make(map[int]func(meeting.Message)),
		onRoster:  make(map[int]func(meeting.ParticipantEvent)),
		onStatus:  make(map[int]func(bool)),
	}
}

func (f *fakeConnector) Connect(_ context.Context, opts realtime.ConnectOptions) bool {
	f.mu.Lock()
	f.connectOpts = append(f.connectOpts, opts)
	f.connected = true
	f.mu.Unlock()
	f.pushStatus(true)
	return true
}

func (f *fakeConnector) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
	f.pushStatus(false)
}

func (f *fakeConnector) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConnector) SendMessage(msg meeting.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return !f.sendFails
}

func (f *fakeConnector) RegisterParticipant(p meeting.Participant) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, p)
	return true
}

func (f *fakeConnector) OnMessage(fn func(meeting.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandlerID++
	id := f.nextHandlerID
	f.onMessage[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.onMessage, id)
		f.mu.Unlock()
	}
}

func (f *fakeConnector) OnParticipant(fn func(meeting.ParticipantEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandlerID++
	id := f.nextHandlerID
	f.onRoster[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.onRoster, id)
		f.mu.Unlock()
	}
}

func (f *fakeConnector) OnConnectionStatus(fn func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandlerID++
	id := f.nextHandlerID
	f.onStatus[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.onStatus, id)
		f.mu.Unlock()
	}
}

func (f *fakeConnector) pushMessage(msg meeting.Message) {
	f.mu.Lock()
	handlers := make([]func(meeting.Message), 0, len(f.onMessage))
	for _, fn := range f.onMessage {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(msg)
	}
}

func (f *fakeConnector) pushRoster(evt meeting.ParticipantEvent) {
	f.mu.Lock()
	handlers := make([]func(meeting.ParticipantEvent), 0, len(f.onRoster))
	for _, fn := range f.onRoster {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(evt)
	}
}

func (f *fakeConnector) pushStatus(connected bool) {
	f.mu.Lock()
	handlers := make([]func(bool), 0, len(f.onStatus))
	for _, fn := range f.onStatus {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(connected)
	}
}

func (f *fakeConnector) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.onMessage) + len(f.onRoster) + len(f.onStatus)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (r *recordingNotifier) Notify(n notify.Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

var testUser = User{ID: "u1", Name: "Ana"}

func newActiveStore(t *testing.T) (*Store, *fakeConnector, *session.MemoryStorage, *recordingNotifier) {
	t.Helper()
	conn := newFakeConnector()
	storage := session.NewMemoryStorage()
	notifier := &recordingNotifier{}
	store := NewStore(conn, storage, notifier, testUser)
	store.SetMeetingActive(context.Background(), true, "Weekly sync")
	return store, conn, storage, notifier
}

func TestSetMeetingActiveAssignsIdentityOnce(t *testing.T) {
	store, conn, _, _ := newActiveStore(t)

	state := store.Snapshot()
	if !state.IsActive || state.MeetingID == "" || state.StartTime == nil {
		t.Fatalf("expected active meeting with id and start time, got %+v", state)
	}
	if state.MeetingName != "Weekly sync" {
		t.Fatalf("unexpected name %q", state.MeetingName)
	}
	if !state.IsConnected {
		t.Fatal("expected connected flag after activation")
	}
	if len(conn.connectOpts) != 1 || conn.connectOpts[0].MeetingID != state.MeetingID || conn.connectOpts[0].UserName != "Ana" {
		t.Fatalf("unexpected connect calls %+v", conn.connectOpts)
	}

	store.SetMeetingActive(context.Background(), false, "")
	paused := store.Snapshot()
	if paused.IsActive || paused.MeetingID != state.MeetingID || !paused.StartTime.Equal(*state.StartTime) {
		t.Fatalf("pause should keep id and start time, got %+v", paused)
	}
	if conn.handlerCount() != 0 {
		t.Fatalf("expected subscriptions dropped on pause, %d left", conn.handlerCount())
	}

	store.SetMeetingActive(context.Background(), true, "")
	resumed := store.Snapshot()
	if resumed.MeetingID != state.MeetingID || !resumed.StartTime.Equal(*state.StartTime) {
		t.Fatalf("resume should keep identity, got %+v", resumed)
	}
}

func TestAddMessageIsIdempotent(t *testing.T) {
	store, conn, _, _ := newActiveStore(t)
	meetingID := store.Snapshot().MeetingID

	msg := meeting.Message{ID: "msg1", Content: "hi", Sender: "u1", Timestamp: "10:00"}
	if !store.AddMessage(msg) {
		t.Fatal("expected first add to append")
	}
	if store.AddMessage(msg) {
		t.Fatal("expected duplicate add to be ignored")
	}

	if got := len(store.Snapshot().Messages); got != 1 {
		t.Fatalf("expected 1 message, got %d", got)
	}
	if len(conn.sent) != 1 || conn.sent[0].MeetingID != meetingID {
		t.Fatalf("expected one forwarded message tagged with meeting id, got %+v", conn.sent)
	}

	// 传输层回显不应重复乐观追加的消息
	conn.pushMessage(conn.sent[0])
	if got := len(store.Snapshot().Messages); got != 1 {
		t.Fatalf("echo duplicated message, log has %d", got)
	}
}

func TestAddMessageFillsIDAndTimestamp(t *testing.T) {
	store, _, _, _ := newActiveStore(t)

	store.AddMessage(meeting.Message{Content: "no id"})
	msg := store.Snapshot().Messages[0]
	if msg.ID == "" || msg.Timestamp == "" {
		t.Fatalf("expected generated id and timestamp, got %+v", msg)
	}
}

func TestAddMessageInactiveIsNoop(t *testing.T) {
	conn := newFakeConnector()
	store := NewStore(conn, nil, nil, testUser)

	if store.AddMessage(meeting.Message{ID: "msg1"}) {
		t.Fatal("expected no-op while inactive")
	}
	if store.AddParticipant(meeting.Participant{Email: "a@b.com"}) {
		t.Fatal("expected no-op while inactive")
	}
	if len(conn.sent) != 0 || len(conn.registered) != 0 {
		t.Fatal("nothing should be forwarded while inactive")
	}
}

func TestAddMessageSendFailureKeepsOptimisticAppend(t *testing.T) {
	store, conn, _, notifier := newActiveStore(t)
	conn.sendFails = true

	store.AddMessage(meeting.Message{ID: "msg1", Content: "hi"})

	if got := len(store.Snapshot().Messages); got != 1 {
		t.Fatalf("expected optimistic append to stay, got %d", got)
	}
	if len(notifier.notices) != 1 || notifier.notices[0].Level != notify.LevelError {
		t.Fatalf("expected one error notice, got %+v", notifier.notices)
	}
}

func TestInboundMessageFromOtherMeetingIsDropped(t *testing.T) {
	store, conn, _, _ := newActiveStore(t)
	meetingID := store.Snapshot().MeetingID

	conn.pushMessage(meeting.Message{ID: "foreign", MeetingID: meetingID + "-other"})
	conn.pushMessage(meeting.Message{ID: "mine", MeetingID: meetingID})
	conn.pushMessage(meeting.Message{ID: "mine", MeetingID: meetingID})

	msgs := store.Snapshot().Messages
	if len(msgs) != 1 || msgs[0].ID != "mine" {
		t.Fatalf("unexpected log %+v", msgs)
	}
}

func TestParticipantDedup(t *testing.T) {
	store, conn, _, _ := newActiveStore(t)
	meetingID := store.Snapshot().MeetingID

	for i := 0; i < 3; i++ {
		store.AddParticipant(meeting.Participant{Email: "a@b.com", Name: "A"})
	}
	if got := len(store.Snapshot().Participants); got != 1 {
		t.Fatalf("expected 1 participant after local adds, got %d", got)
	}
	if len(conn.registered) != 1 || conn.registered[0].MeetingID != meetingID {
		t.Fatalf("expected one registration tagged with meeting id, got %+v", conn.registered)
	}

	remote := meeting.Participant{Email: "b@b.com", Name: "B", ID: "p2"}
	for i := 0; i < 3; i++ {
		conn.pushRoster(meeting.ParticipantEvent{Type: meeting.ParticipantJoined, MeetingID: meetingID, Participant: &remote})
	}
	// 本地添加的回显带有相同的 (email, id)
	echo := conn.registered[0]
	conn.pushRoster(meeting.ParticipantEvent{Type: meeting.ParticipantJoined, MeetingID: meetingID, Participant: &echo})

	roster := store.Snapshot().Participants
	if len(roster) != 2 {
		t.Fatalf("expected 2 participants, got %+v", roster)
	}

	conn.pushRoster(meeting.ParticipantEvent{Type: meeting.ParticipantLeft, ParticipantID: "p2"})
	roster = store.Snapshot().Participants
	if len(roster) != 1 || roster[0].Email != "a@b.com" {
		t.Fatalf("expected p2 removed, got %+v", roster)
	}
}

func TestResetMeetingClearsEverything(t *testing.T) {
	store, conn, storage, _ := newActiveStore(t)
	store.AddMessage(meeting.Message{ID: "msg1", Content: "hi"})
	store.AddParticipant(meeting.Participant{Email: "a@b.com", Name: "A"})

	if _, err := storage.Load(context.Background(), StorageKey); err != nil {
		t.Fatalf("expected persisted state before reset: %v", err)
	}

	store.ResetMeeting(context.Background())

	state := store.Snapshot()
	if state.IsActive || state.MeetingID != "" || len(state.Messages) != 0 || len(state.Participants) != 0 {
		t.Fatalf("expected default state, got %+v", state)
	}
	if conn.IsConnected() || conn.disconnects != 1 {
		t.Fatalf("expected one disconnect, got %d", conn.disconnects)
	}
	if _, err := storage.Load(context.Background(), StorageKey); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected storage cleared, got %v", err)
	}
}

func TestRestoreRehydratesActiveMeeting(t *testing.T) {
	store, _, storage, _ := newActiveStore(t)
	store.AddMessage(meeting.Message{ID: "msg1", Content: "hi"})
	before := store.Snapshot()

	conn := newFakeConnector()
	reloaded := NewStore(conn, storage, nil, testUser)
	if err := reloaded.Restore(context.Background()); err != nil {
		t.Fatalf("Restore err: %v", err)
	}

	after := reloaded.Snapshot()
	if after.MeetingID != before.MeetingID || len(after.Messages) != 1 {
		t.Fatalf("unexpected restored state %+v", after)
	}
	if after.StartTime == nil || !after.StartTime.Equal(*before.StartTime) {
		t.Fatalf("start time not restored: %v vs %v", after.StartTime, before.StartTime)
	}
	if len(conn.connectOpts) != 1 || conn.connectOpts[0].MeetingID != before.MeetingID {
		t.Fatalf("expected reconnect for active meeting, got %+v", conn.connectOpts)
	}
}

func TestRestoreWithoutStoredState(t *testing.T) {
	store := NewStore(newFakeConnector(), session.NewMemoryStorage(), nil, testUser)
	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("Restore err: %v", err)
	}
	if store.Snapshot().IsActive {
		t.Fatal("expected default state")
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	store, _, _, _ := newActiveStore(t)

	var got []meeting.State
	unsubscribe := store.Subscribe(func(state meeting.State) { got = append(got, state) })
	store.SetRecording(true)
	unsubscribe()
	store.SetRecording(false)

	if len(got) != 1 || !got[0].IsRecording {
		t.Fatalf("unexpected snapshots %+v", got)
	}
}

func TestStoreWithManagerLocalRoundTrip(t *testing.T) {
	local := realtime.NewLocalChannel(5 * time.Millisecond)
	manager := realtime.NewManager(realtime.ManagerConfig{LocalMode: true}, local, nil)
	t.Cleanup(manager.Close)

	store := NewStore(manager, session.NewMemoryStorage(), nil, testUser)
	store.SetMeetingActive(context.Background(), true, "")
	if !store.Snapshot().IsConnected {
		t.Fatal("expected connected through local channel")
	}

	store.AddMessage(meeting.Message{ID: "msg1", Content: "hi", Sender: "u1"})
	store.AddParticipant(meeting.Participant{Email: "a@b.com", Name: "A"})

	meetingID := store.Snapshot().MeetingID
	deadline := time.Now().Add(2 * time.Second)
	for len(local.Messages(meetingID)) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// 等待超过模拟延迟，确保回显已合并
	time.Sleep(50 * time.Millisecond)

	state := store.Snapshot()
	if len(state.Messages) != 1 || len(state.Participants) != 1 {
		t.Fatalf("echo not deduplicated: %+v", state)
	}

	store.ResetMeeting(context.Background())
	if manager.IsConnected() {
		t.Fatal("expected manager disconnected after reset")
	}
}

// stalledTransport 的连接尝试直到超时才返回。
type stalledTransport struct{}

func (stalledTransport) Name() string { return realtime.TransportRemote }
func (stalledTransport) Connect(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
func (stalledTransport) Disconnect()                                    {}
func (stalledTransport) IsConnected() bool                              { return false }
func (stalledTransport) On(realtime.EventKind, realtime.Handler) func() { return func() {} }
func (stalledTransport) Emit(realtime.Event) error                      { return realtime.ErrNotConnected }

func (r *recordingNotifier) errorNotices() []notify.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notice
	for _, n := range r.notices {
		if n.Level == notify.LevelError {
			out = append(out, n)
		}
	}
	return out
}

func TestStaleConnectResultIsIgnored(t *testing.T) {
	tests := []struct {
		name   string
		leave  func(*Store)
		active bool
	}{
		{name: "reset", leave: func(s *Store) { s.ResetMeeting(context.Background()) }},
		{name: "pause", leave: func(s *Store) { s.SetMeetingActive(context.Background(), false, "") }},
		{name: "restart", leave: func(s *Store) {
			s.SetMeetingActive(context.Background(), false, "")
			s.SetMeetingActive(context.Background(), true, "")
		}, active: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			manager := realtime.NewManager(realtime.ManagerConfig{
				ConnectTimeout: 200 * time.Millisecond,
				Dial: func(realtime.ConnectOptions) (realtime.Transport, error) {
					return stalledTransport{}, nil
				},
			}, realtime.NewLocalChannel(5*time.Millisecond), notifier)
			t.Cleanup(manager.Close)

			store := NewStore(manager, session.NewMemoryStorage(), notifier, testUser)

			done := make(chan struct{})
			go func() {
				store.SetMeetingActive(context.Background(), true, "Late")
				close(done)
			}()

			time.Sleep(50 * time.Millisecond)
			tt.leave(store)

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("activation did not return")
			}

			if errs := notifier.errorNotices(); len(errs) != 0 {
				t.Fatalf("expected no error notices for a meeting that moved on, got %+v", errs)
			}
			// 重新开始的会议由第二次连接回退到本地通道
			state := store.Snapshot()
			if state.IsActive != tt.active || state.IsConnected != tt.active {
				t.Fatalf("expected active=connected=%t, got active=%t connected=%t", tt.active, state.IsActive, state.IsConnected)
			}
		})
	}
}
