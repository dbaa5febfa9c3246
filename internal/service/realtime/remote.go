package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RemoteOptions 远程聊天连接配置选项
type RemoteOptions struct {
	HandshakeTimeout time.Duration // 单次握手超时
	ReadTimeout      time.Duration // 读取超时时间
	WriteTimeout     time.Duration // 写入超时时间
	PingInterval     time.Duration // Ping间隔
	MaxRetries       int           // 最大重试次数
	RetryDelay       time.Duration // 重试基础间隔
}

// DefaultRemoteOptions 默认远程连接选项
func DefaultRemoteOptions() RemoteOptions {
	return RemoteOptions{
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
		MaxRetries:       3,
		RetryDelay:       time.Second,
	}
}

// RemoteTransport 通过 websocket 与聊天服务器通信
type RemoteTransport struct {
	endpoint string
	opts     RemoteOptions
	handlers *handlerRegistry

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	writeMu sync.Mutex
}

// NewRemoteTransport 为指定身份创建连接 baseURL 的传输
func NewRemoteTransport(baseURL string, identity ConnectOptions, opts RemoteOptions) (*RemoteTransport, error) {
	endpoint, err := buildEndpoint(baseURL, identity)
	if err != nil {
		return nil, err
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &RemoteTransport{
		endpoint: endpoint,
		opts:     opts,
		handlers: newHandlerRegistry(),
	}, nil
}

func buildEndpoint(baseURL string, identity ConnectOptions) (string, error) {
	if baseURL == "" {
		return "", errors.New("chat server url is empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid chat server url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported chat server scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("meetingId", identity.MeetingID)
	q.Set("userId", identity.UserID)
	q.Set("userName", identity.UserName)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Name 实现 Transport 接口
func (r *RemoteTransport) Name() string { return TransportRemote }

// Connect 连接聊天服务器，最多重试 MaxRetries 次。每次失败触发 connect_error，
// 成功触发 connect，整个过程受 ctx 约束。
func (r *RemoteTransport) Connect(ctx context.Context) error {
	var lastErr error

	for i := 0; i < r.opts.MaxRetries; i++ {
		conn, err := r.dial(ctx)
		if err == nil {
			r.attach(conn)
			r.handlers.dispatch(TransportRemote, Event{Kind: EventConnect})
			return nil
		}

		lastErr = err
		r.handlers.dispatch(TransportRemote, Event{Kind: EventConnectError, Err: err})

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if i == r.opts.MaxRetries-1 || !IsRetryableError(err) {
			break
		}

		retryDelay := time.Duration(i+1) * r.opts.RetryDelay
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return fmt.Errorf("failed to connect after %d attempts, last error: %w", r.opts.MaxRetries, lastErr)
}

func (r *RemoteTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: r.opts.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, r.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (r *RemoteTransport) attach(conn *websocket.Conn) {
	loopCtx, cancel := context.WithCancel(context.Background())

	conn.SetReadDeadline(time.Now().Add(r.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(r.opts.ReadTimeout))
		return nil
	})

	r.mu.Lock()
	r.conn = conn
	r.connected = true
	r.cancel = cancel
	r.mu.Unlock()

	go r.readLoop(loopCtx, conn)
	go r.pingLoop(loopCtx, conn)
}

// readLoop 按到达顺序分发消息，直到连接失败。
func (r *RemoteTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("[realtime] remote read error: %v", err)
				}
				r.lost(conn, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(r.opts.ReadTimeout))

		evt, err := DecodeEnvelope(frame)
		if err != nil {
			log.Printf("[realtime] dropping malformed frame: %v", err)
			continue
		}
		r.handlers.dispatch(TransportRemote, evt)
	}
}

// pingLoop 定期发送ping消息
func (r *RemoteTransport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(r.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(r.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			r.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// lost 处理底层连接意外断开
func (r *RemoteTransport) lost(conn *websocket.Conn, err error) {
	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		return
	}
	r.conn = nil
	r.connected = false
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	_ = conn.Close()
	r.handlers.dispatch(TransportRemote, Event{Kind: EventDisconnect, Err: err})
}

// Disconnect 关闭连接，主动关闭不触发 disconnect 事件。
func (r *RemoteTransport) Disconnect() {
	r.mu.Lock()
	conn := r.conn
	cancel := r.cancel
	r.conn = nil
	r.connected = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return
	}

	r.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(r.opts.WriteTimeout))
	r.writeMu.Unlock()
	_ = conn.Close()
}

// IsConnected 实现 Transport 接口
func (r *RemoteTransport) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// On 实现 Transport 接口
func (r *RemoteTransport) On(kind EventKind, h Handler) func() {
	return r.handlers.on(kind, h)
}

// Emit 将事件写入聊天服务器
func (r *RemoteTransport) Emit(evt Event) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := EncodeEnvelope(evt)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(r.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s: %w", evt.Kind, err)
	}
	return nil
}

// IsRetryableError 判断错误是否可重试
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var closeErr *websocket.CloseError
	return !errors.As(err, &closeErr)
}
