package meeting

import "time"

// State 当前会议的内存视图，由会话 Store 持有。
type State struct {
	IsActive     bool
	MeetingName  string
	MeetingID    string
	Messages     []Message
	Participants []Participant
	StartTime    *time.Time
	IsRecording  bool
	IsConnected  bool
}

// DefaultMeetingName 用户命名前使用的默认会议名
const DefaultMeetingName = "Untitled Meeting"

// DefaultState 返回未开始的空会议
func DefaultState() State {
	return State{
		MeetingName:  DefaultMeetingName,
		Messages:     []Message{},
		Participants: []Participant{},
	}
}

// Clone 返回深拷贝，可以安全地交给读取方。
func (s State) Clone() State {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Participants = append([]Participant(nil), s.Participants...)
	if s.StartTime != nil {
		t := *s.StartTime
		out.StartTime = &t
	}
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	if out.Participants == nil {
		out.Participants = []Participant{}
	}
	return out
}
