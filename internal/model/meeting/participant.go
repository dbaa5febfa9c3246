package meeting

// 名单事件在协议中的类型标识
const (
	ParticipantJoined = "new_participant"
	ParticipantLeft   = "participant_left"
)

// Participant 会议参与者。Email 是会话内的实际唯一键。
type Participant struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	ID        string `json:"id,omitempty"`
	MeetingID string `json:"meetingId,omitempty"`
}

// ParticipantEvent 覆盖聊天服务器推送的两种名单通知：
// {type:'new_participant', meetingId, participant} 与 {type:'participant_left', participantId}。
type ParticipantEvent struct {
	Type          string       `json:"type"`
	MeetingID     string       `json:"meetingId,omitempty"`
	Participant   *Participant `json:"participant,omitempty"`
	ParticipantID string       `json:"participantId,omitempty"`
}

// HasParticipantEmail 判断名单中是否已有该邮箱
func HasParticipantEmail(roster []Participant, email string) bool {
	for _, p := range roster {
		if p.Email == email {
			return true
		}
	}
	return false
}

// HasParticipant 按 (email, id) 匹配，合并远端加入事件时使用。
func HasParticipant(roster []Participant, email, id string) bool {
	for _, p := range roster {
		if p.Email == email && p.ID == id {
			return true
		}
	}
	return false
}
