package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"

	"tigersync/protocol"
)

var (
	// ErrSendAbandoned 写入持续 would-block，重试耗尽后放弃该封包；连接保留
	ErrSendAbandoned = errors.New("send abandoned after retries")
	// ErrConnFatal 不可恢复的写错误；会话需要拆除
	ErrConnFatal = errors.New("fatal connection error")
)

// Transport 会话底层的字节流；net.Conn 直接满足，WebSocket 由 wsTransport 适配
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() net.Addr
}

// sendPolicy 写入的背压策略
type sendPolicy struct {
	timeout time.Duration
	retries int
	delay   time.Duration
}

// ClientConn 一个客户端连接：写端串行化 + 读端的单个未完成读
type ClientConn struct {
	id atomic.Int32 // 注册后由 Broadcaster 写入

	t       Transport
	policy  sendPolicy
	metrics *Metrics

	writeMu deadlock.Mutex
	stalled bool // 上一个封包重试耗尽；持有 writeMu 时访问

	closeOnce sync.Once
	closed    atomic.Bool

	// 读端状态：只被持有该连接 completion 的 worker 访问
	buf    []byte
	framer protocol.Framer
	rearm  chan struct{}
}

// NewClientConn 包装底层连接
func NewClientConn(t Transport, cfg Config, m *Metrics) *ClientConn {
	cfg = cfg.normalize()
	return &ClientConn{
		t: t,
		policy: sendPolicy{
			timeout: cfg.SendTimeout,
			retries: cfg.SendRetries,
			delay:   cfg.SendRetryDelay,
		},
		metrics: m,
		buf:     make([]byte, cfg.ReadBufferSize),
		rearm:   make(chan struct{}, 1),
	}
}

// ID 会话 ID；未注册时为 0
func (c *ClientConn) ID() SessionID { return SessionID(c.id.Load()) }

// RemoteAddr 对端地址（日志用）
func (c *ClientConn) RemoteAddr() string {
	if a := c.t.RemoteAddr(); a != nil {
		return a.String()
	}
	return "unknown"
}

// Send 写出一个完整封包。
// 超时且一个字节都没写出视为 would-block，有限次重试后返回 ErrSendAbandoned；
// 上一个封包已被放弃时只尝试一次，避免慢接收方拖住整轮广播。
// 部分写出后超时会破坏对端拆包，与其它错误一样按 ErrConnFatal 处理。
func (c *ClientConn) Send(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("%w: connection closed", ErrConnFatal)
	}

	retries := c.policy.retries
	if c.stalled {
		retries = 0
	}
	for attempt := 0; ; attempt++ {
		_ = c.t.SetWriteDeadline(time.Now().Add(c.policy.timeout))
		n, err := c.t.Write(b)
		if err == nil && n == len(b) {
			c.stalled = false
			c.metrics.AddSent(n)
			return nil
		}
		if err == nil {
			err = fmt.Errorf("short write %d/%d", n, len(b))
		}
		if !isTimeout(err) || n > 0 {
			return fmt.Errorf("%w: %v", ErrConnFatal, err)
		}
		if attempt >= retries {
			c.stalled = true
			c.metrics.IncSendAbandoned()
			return ErrSendAbandoned
		}
		c.metrics.IncSendRetry()
		time.Sleep(c.policy.delay)
	}
}

// Close 关闭底层连接；多次调用安全，会让阻塞中的 Read 返回错误
func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.t.Close()
	})
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
