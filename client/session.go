package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"tigersync/protocol"
)

const (
	// SendInterval 本地玩家姿态上报周期（按帧间隔累加，不是每帧发送）
	SendInterval = 100 * time.Millisecond
	// DefaultWriteTimeout 单次写的期限
	DefaultWriteTimeout = 50 * time.Millisecond
)

// ErrNotConnected 连接已断开
var ErrNotConnected = errors.New("not connected")

// Option Session 可选项
type Option func(*Session)

// WithLogger 默认不输出日志
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithInterpolationWindow 老虎插值窗口，默认 100ms
func WithInterpolationWindow(d time.Duration) Option {
	return func(s *Session) { s.window = d }
}

// WithSendInterval 上报周期，默认 SendInterval
func WithSendInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.sendInterval = float32(d.Seconds())
		}
	}
}

// WithInboxSize 接收队列长度，默认 256
func WithInboxSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.inboxSize = n
		}
	}
}

// Session 客户端网络会话。
// Run 在独立协程里收包并投递到 inbox；Update 在帧协程里消费 inbox、推进插值、按周期上报。
type Session struct {
	conn net.Conn
	log  *zap.SugaredLogger
	repl *Replicator

	window       time.Duration
	sendInterval float32
	inboxSize    int
	inbox        chan protocol.Packet

	myID      atomic.Int32 // 0 表示尚未收到自己的 PlayerSpawn
	connected atomic.Bool

	writeMu deadlock.Mutex
	sendAcc float32 // 只在帧协程访问

	closeOnce sync.Once
}

// Dial 连接服务端（只连接一次，不自动重连）
func Dial(ctx context.Context, addr string, scene SceneGraph, opts ...Option) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewSession(conn, scene, opts...), nil
}

// NewSession 在已建立的连接上创建会话
func NewSession(conn net.Conn, scene SceneGraph, opts ...Option) *Session {
	s := &Session{
		conn:         conn,
		log:          zap.NewNop().Sugar(),
		window:       DefaultInterpWindow,
		sendInterval: float32(SendInterval.Seconds()),
		inboxSize:    256,
	}
	for _, o := range opts {
		o(s)
	}
	s.inbox = make(chan protocol.Packet, s.inboxSize)
	s.repl = NewReplicator(scene, float32(s.window.Seconds()), s.log)
	s.connected.Store(true)
	return s
}

// MyID 服务端分配给本客户端的 ID；0 表示未知
func (s *Session) MyID() int32 { return s.myID.Load() }

func (s *Session) Connected() bool { return s.connected.Load() }

func (s *Session) Replicator() *Replicator { return s.repl }

// Run 收包循环：同一时刻只有一个未完成的读，阻塞直到连接关闭或 ctx 取消。
// 对端正常关闭返回 nil。
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	defer s.connected.Store(false)

	var framer protocol.Framer
	buf := make([]byte, protocol.MaxFrameSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			framer.Write(buf[:n])
			// 清掉本次读到的字节，避免短读时残留旧数据
			clear(buf[:n])
			if perr := s.drain(ctx, &framer); perr != nil {
				return perr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || ctx.Err() != nil {
				s.log.Infof("[Network] connection closed: %v", err)
				return nil
			}
			s.log.Warnf("[Network] receive failed: %v", err)
			return fmt.Errorf("receive: %w", err)
		}
		if n == 0 {
			s.log.Info("[Network] zero-length read, disconnected")
			return nil
		}
	}
}

func (s *Session) drain(ctx context.Context, f *protocol.Framer) error {
	for {
		p, err := f.Next()
		switch {
		case err == nil:
			select {
			case s.inbox <- p:
			case <-ctx.Done():
				return nil
			}
		case errors.Is(err, protocol.ErrNeedMore):
			return nil
		default:
			s.log.Warnf("[Network] malformed packet dropped: %v", err)
		}
	}
}

// Update 每帧调用一次：处理收到的封包 → 推进插值 → 按周期上报本地姿态
func (s *Session) Update(dt float32, local Transform) {
	s.processInbox()
	s.repl.Advance(dt)

	if !s.connected.Load() {
		return
	}
	s.sendAcc += dt
	if s.sendAcc < s.sendInterval {
		return
	}
	s.sendAcc -= s.sendInterval
	if s.sendAcc >= s.sendInterval {
		// 长帧之后不补发
		s.sendAcc = 0
	}
	err := s.Send(protocol.PlayerUpdate{
		ClientID: s.myID.Load(),
		X:        local.Pos.X(),
		Y:        local.Pos.Y(),
		Z:        local.Pos.Z(),
		RotY:     local.RotY,
	})
	if err != nil {
		s.log.Warnf("[Network] position update failed: %v", err)
	}
}

// processInbox 非阻塞取出所有已收到的封包
func (s *Session) processInbox() {
	for {
		select {
		case p := <-s.inbox:
			s.dispatch(p)
		default:
			return
		}
	}
}

func (s *Session) dispatch(p protocol.Packet) {
	me := s.myID.Load()
	switch pkt := p.(type) {
	case protocol.PlayerSpawn:
		if me == 0 {
			s.myID.Store(pkt.PlayerID)
			s.log.Infof("[Network] assigned player id %d", pkt.PlayerID)
			return
		}
		if pkt.PlayerID == me {
			return
		}
	case protocol.PlayerUpdate:
		if pkt.ClientID == me {
			s.log.Debugf("[Network] self echo from server ignored")
			return
		}
	case protocol.PlayerRemove:
		if pkt.PlayerID == me {
			return
		}
	}
	s.repl.Handle(p)
}

// Send 写出一个封包；超时不断开，其它写错误视为连接已断
func (s *Session) Send(p protocol.Packet) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}
	data := protocol.Encode(p)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	n, err := s.conn.Write(data)
	if err == nil {
		return nil
	}
	var ne net.Error
	if n == 0 && errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("send %s dropped: %w", p.Type(), err)
	}
	s.connected.Store(false)
	s.Close()
	return fmt.Errorf("send %s: %w", p.Type(), err)
}

// Close 关闭连接，阻塞中的 Run 随之返回
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		err = s.conn.Close()
	})
	return err
}
