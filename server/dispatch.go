package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"tigersync/protocol"
)

// errZeroRead 零长度读：对端关闭
var errZeroRead = errors.New("zero-length read")

// completion 一次读完成事件：读协程投递，worker 消费
type completion struct {
	conn *ClientConn
	n    int
	err  error
}

// Dispatcher I/O 调度：一个接入循环 + 固定大小的 worker 池共享一个完成队列。
// 每个连接同时只有一个未完成的读，worker 处理完才重新挂起下一次读，
// 因此同一连接内的封包严格按序处理。
type Dispatcher struct {
	b       *Broadcaster
	cfg     Config
	metrics *Metrics

	completions chan completion

	startOnce sync.Once
	workers   sync.WaitGroup
}

// NewDispatcher 创建调度器；调用 Start 后才开始处理完成事件
func NewDispatcher(b *Broadcaster, cfg Config, m *Metrics) *Dispatcher {
	cfg = cfg.normalize()
	return &Dispatcher{
		b:           b,
		cfg:         cfg,
		metrics:     m,
		completions: make(chan completion, cfg.Workers*4),
	}
}

// Start 启动 worker 池；重复调用无效
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.workers.Add(1)
			go d.worker(ctx)
		}
		Log.Infof("[Dispatch] %d workers started", d.cfg.Workers)
	})
}

// Wait 等待所有 worker 退出；读协程在连接关闭后自行结束
func (d *Dispatcher) Wait() {
	d.workers.Wait()
}

// Serve 接入循环：阻塞在 Accept 上，每个新连接立即交给会话建立流程
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		if tc, ok := nc.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		conn := NewClientConn(nc, d.cfg, d.metrics)
		go func() {
			if _, err := d.Attach(ctx, conn); err != nil {
				Log.Warnf("[Connect] setup for %s failed: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// Attach 建立会话（引导）并挂起第一次读；TCP 与 WebSocket 共用
func (d *Dispatcher) Attach(ctx context.Context, conn *ClientConn) (SessionID, error) {
	if err := ctx.Err(); err != nil {
		conn.Close()
		return 0, err
	}
	id, err := d.b.Join(conn)
	if err != nil {
		return id, err
	}
	go d.readLoop(ctx, conn)
	return id, nil
}

// readLoop 每次只发起一个读，投递完成事件后等待 worker 重新挂起
func (d *Dispatcher) readLoop(ctx context.Context, c *ClientConn) {
	for {
		n, err := c.t.Read(c.buf)
		select {
		case d.completions <- completion{conn: c, n: n, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil || n == 0 {
			return
		}
		select {
		case <-c.rearm:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.workers.Done()
	for {
		select {
		case c := <-d.completions:
			d.handle(c)
		case <-ctx.Done():
			return
		}
	}
}

// handle 处理一次读完成：先消费读到的字节，再判断是否断开
func (d *Dispatcher) handle(c completion) {
	id := c.conn.ID()
	if c.n > 0 {
		c.conn.framer.Write(c.conn.buf[:c.n])
		d.drain(id, c.conn)
	}
	if c.err != nil || c.n == 0 {
		reason := c.err
		if reason == nil {
			reason = errZeroRead
		}
		if errors.Is(reason, io.EOF) {
			reason = errZeroRead
		}
		// 清理可能与其它路径（写失败）竞争，Leave 本身幂等
		d.b.Leave(id, reason)
		return
	}
	c.conn.rearm <- struct{}{}
}

// drain 取出拆包器中所有完整封包；畸形封包丢弃，连接保留
func (d *Dispatcher) drain(id SessionID, c *ClientConn) {
	for {
		p, err := c.framer.Next()
		switch {
		case err == nil:
			d.b.HandlePacket(id, p)
		case errors.Is(err, protocol.ErrNeedMore):
			return
		default:
			d.metrics.IncDecodeErrors()
			Log.Warnf("[Receive] session %d malformed packet dropped: %v", id, err)
		}
	}
}
