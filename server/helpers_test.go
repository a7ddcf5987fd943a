package server

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tigersync/protocol"
)

// fakeTransport 记录每次 Write；Read 阻塞直到 Close
type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	failN    int // 前 failN 次写返回 writeErr；-1 表示一直失败
	attempts int
	closed   bool
	done     chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	<-f.done
	return 0, io.EOF
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.closed {
		return 0, net.ErrClosed
	}
	if f.writeErr != nil && (f.failN < 0 || f.attempts <= f.failN) {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (f *fakeTransport) failWith(err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
	f.failN = n
	f.attempts = 0
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// packets 解码所有已写出的封包
func (f *fakeTransport) packets(t *testing.T) []protocol.Packet {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Packet, 0, len(f.writes))
	for _, w := range f.writes {
		p, err := protocol.Decode(w)
		if err != nil {
			t.Fatalf("transport got undecodable write %v: %v", w, err)
		}
		out = append(out, p)
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.HTTPAddr = ""
	cfg.Workers = 2
	cfg.SendTimeout = 50 * time.Millisecond
	cfg.SendRetries = 2
	cfg.SendRetryDelay = time.Millisecond
	cfg.TigerCount = 0
	cfg.Seed = 1
	return cfg
}

// observeLogs 把全局日志换成 observer，测试结束后恢复
func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := Log
	SetLogger(zap.New(core).Sugar())
	t.Cleanup(func() { SetLogger(prev) })
	return logs
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
