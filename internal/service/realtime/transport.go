package realtime

import (
	"context"
	"errors"
)

// TransportName 返回的传输名称
const (
	TransportRemote = "remote"
	TransportLocal  = "local"
)

var (
	ErrNotConnected   = errors.New("transport not connected")
	ErrInvalidOptions = errors.New("meetingId, userId and userName are required")
)

// Transport 聊天协议的一种传输方式：远程 socket 或本地模拟器。
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	On(kind EventKind, h Handler) func()
	Emit(evt Event) error
}

// ConnectOptions 标识连接期间本地用户所在的会议
type ConnectOptions struct {
	MeetingID string `json:"meetingId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
}

// Validate 要求所有字段非空
func (o ConnectOptions) Validate() error {
	if o.MeetingID == "" || o.UserID == "" || o.UserName == "" {
		return ErrInvalidOptions
	}
	return nil
}
