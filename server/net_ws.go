package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport 把 WebSocket 适配成字节流：每个二进制消息承载一个或多个完整封包，
// 读端跨消息拼接，拆包仍由 Framer 负责
type wsTransport struct {
	ws  *websocket.Conn
	cur io.Reader
}

func newWSTransport(ws *websocket.Conn) *wsTransport {
	ws.SetReadLimit(64 * 1024)
	return &wsTransport{ws: ws}
}

func (t *wsTransport) Read(p []byte) (int, error) {
	for {
		if t.cur == nil {
			mt, r, err := t.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				// 文本消息不属于本协议，忽略
				continue
			}
			t.cur = r
		}
		n, err := t.cur.Read(p)
		if err == io.EOF {
			t.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// errWSWrite gorilla 的写错误是粘滞的：一次失败（含超时）之后该连接再也写不出去，
// 所以不能当作 would-block 重试
var errWSWrite = errors.New("websocket write failed")

// Write 一个封包对应一个二进制消息
func (t *wsTransport) Write(p []byte) (int, error) {
	if err := t.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("%w: %v", errWSWrite, err)
	}
	return len(p), nil
}

func (t *wsTransport) SetWriteDeadline(d time.Time) error { return t.ws.SetWriteDeadline(d) }
func (t *wsTransport) Close() error                       { return t.ws.Close() }
func (t *wsTransport) RemoteAddr() net.Addr               { return t.ws.RemoteAddr() }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 协议本身不做鉴权
		return true
	},
}

// HandleWS WebSocket 接入：与 TCP 连接走同一套会话、广播与调度
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}
	conn := NewClientConn(newWSTransport(ws), s.cfg, s.metrics)
	if _, err := s.dispatcher.Attach(s.ctx, conn); err != nil {
		Log.Warnf("[Connect] websocket setup for %s failed: %v", conn.RemoteAddr(), err)
	}
}
