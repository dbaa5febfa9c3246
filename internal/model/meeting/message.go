package meeting

// Message 会议中的一条聊天消息，结构与聊天服务器的协议负载一致。
type Message struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name,omitempty"`
	Timestamp  string `json:"timestamp"`
	IsAI       bool   `json:"isAI"`
	MeetingID  string `json:"meeting_id,omitempty"`
}

// HasMessage 判断消息记录中是否已有该 id
func HasMessage(log []Message, id string) bool {
	for _, msg := range log {
		if msg.ID == id {
			return true
		}
	}
	return false
}
