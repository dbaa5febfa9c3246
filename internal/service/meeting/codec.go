package meeting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zhouzirui/collab-copilot/backend/internal/model/meeting"
)

// StorageKey 会议记录在会话存储中的固定键
const StorageKey = "collab_copilot_meeting_state"

// persistedState 会话存储中的序列化结构
type persistedState struct {
	IsActive     bool                  `json:"isActive"`
	MeetingName  string                `json:"meetingName"`
	MeetingID    string                `json:"meetingId"`
	Messages     []meeting.Message     `json:"messages"`
	Participants []meeting.Participant `json:"participants"`
	StartTime    *string               `json:"startTime"`
	IsRecording  bool                  `json:"isRecording"`
	IsConnected  bool                  `json:"isConnected"`
}

// EncodeState 序列化会议状态，开始时间写为 ISO-8601 字符串。
func EncodeState(state meeting.State) ([]byte, error) {
	p := persistedState{
		IsActive:     state.IsActive,
		MeetingName:  state.MeetingName,
		MeetingID:    state.MeetingID,
		Messages:     state.Messages,
		Participants: state.Participants,
		IsRecording:  state.IsRecording,
		IsConnected:  state.IsConnected,
	}
	if p.Messages == nil {
		p.Messages = []meeting.Message{}
	}
	if p.Participants == nil {
		p.Participants = []meeting.Participant{}
	}
	if state.StartTime != nil {
		iso := state.StartTime.UTC().Format(time.RFC3339Nano)
		p.StartTime = &iso
	}
	return json.Marshal(p)
}

// DecodeState 是 EncodeState 的逆操作，缺失的集合解码为空。
func DecodeState(data []byte) (meeting.State, error) {
	var p persistedState
	if err := json.Unmarshal(data, &p); err != nil {
		return meeting.State{}, fmt.Errorf("decode meeting state: %w", err)
	}

	state := meeting.DefaultState()
	state.IsActive = p.IsActive
	state.MeetingID = p.MeetingID
	state.IsRecording = p.IsRecording
	state.IsConnected = p.IsConnected
	if p.MeetingName != "" {
		state.MeetingName = p.MeetingName
	}
	if p.Messages != nil {
		state.Messages = p.Messages
	}
	if p.Participants != nil {
		state.Participants = p.Participants
	}
	if p.StartTime != nil && *p.StartTime != "" {
		start, err := time.Parse(time.RFC3339Nano, *p.StartTime)
		if err != nil {
			return meeting.State{}, fmt.Errorf("decode meeting start time %q: %w", *p.StartTime, err)
		}
		state.StartTime = &start
	}
	return state, nil
}
