package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/zhouzirui/collab-copilot/backend/internal/model/meeting"
)

// EventKind 聊天协议中的事件名
type EventKind string

const (
	EventSendMessage         EventKind = "send_message"
	EventNewMessage          EventKind = "new_message"
	EventRegisterParticipant EventKind = "register_participant"
	EventNewParticipant      EventKind = "new_participant"
	EventParticipantLeft     EventKind = "participant_left"

	// 传输生命周期事件
	EventConnect      EventKind = "connect"
	EventDisconnect   EventKind = "disconnect"
	EventConnectError EventKind = "connect_error"
)

// Event 是投递给处理器的事件，只有与 Kind 对应的字段会被填充。
type Event struct {
	Kind        EventKind
	Message     *meeting.Message
	Participant *meeting.Participant
	Roster      *meeting.ParticipantEvent
	Err         error
	Raw         json.RawMessage
}

// Envelope 与聊天服务器交换的 websocket 帧
type Envelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessageEvent 构造 new_message/send_message 事件
func MessageEvent(kind EventKind, msg meeting.Message) Event {
	return Event{Kind: kind, Message: &msg}
}

// ParticipantEvent 构造 register_participant 事件
func ParticipantEvent(p meeting.Participant) Event {
	return Event{Kind: EventRegisterParticipant, Participant: &p}
}

// RosterEvent 构造 new_participant/participant_left 事件
func RosterEvent(kind EventKind, evt meeting.ParticipantEvent) Event {
	return Event{Kind: kind, Roster: &evt}
}

// payload 返回写入 Envelope.Data 的内容
func (e Event) payload() any {
	switch {
	case e.Message != nil:
		return e.Message
	case e.Participant != nil:
		return e.Participant
	case e.Roster != nil:
		return e.Roster
	case len(e.Raw) > 0:
		return e.Raw
	}
	return nil
}

// EncodeEnvelope 序列化发出的事件
func EncodeEnvelope(evt Event) ([]byte, error) {
	env := Envelope{Event: evt.Kind}
	if p := evt.payload(); p != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", evt.Kind, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeEnvelope 将收到的帧解析为事件，未知类型保留原始数据。
func DecodeEnvelope(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Event{}, fmt.Errorf("decode envelope: missing event name")
	}

	evt := Event{Kind: env.Event, Raw: env.Data}
	switch env.Event {
	case EventNewMessage, EventSendMessage:
		var msg meeting.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		evt.Message = &msg
	case EventRegisterParticipant:
		var p meeting.Participant
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		evt.Participant = &p
	case EventNewParticipant, EventParticipantLeft:
		var roster meeting.ParticipantEvent
		if err := json.Unmarshal(env.Data, &roster); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if roster.Type == "" {
			roster.Type = string(env.Event)
		}
		evt.Roster = &roster
	}
	return evt, nil
}
