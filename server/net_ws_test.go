package server

import (
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tigersync/protocol"
)

func readWSPacket(t *testing.T, ws *websocket.Conn) protocol.Packet {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	p, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("ws decode: %v", err)
	}
	return p
}

// 一次写超时后 gorilla 连接再也写不出去，会话必须被拆除而不是反复放弃
func TestWebSocketWriteStallTearsDownSession(t *testing.T) {
	observeLogs(t)
	s := startServer(t, true)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.HTTPAddr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer ws.Close()
	if got := readWSPacket(t, ws); got != (protocol.PlayerSpawn{PlayerID: 1}) {
		t.Fatalf("ws self spawn = %+v", got)
	}

	peer := dialTCP(t, s)
	peer.expect(protocol.PlayerSpawn{PlayerID: 2})
	peer.expect(protocol.PlayerSpawn{PlayerID: 1})
	if got := readWSPacket(t, ws); got != (protocol.PlayerSpawn{PlayerID: 2}) {
		t.Fatalf("ws got %+v, want peer spawn", got)
	}

	sess, ok := s.Registry().Get(1)
	if !ok {
		t.Fatal("ws session not registered")
	}
	tr, ok := sess.Conn.t.(*wsTransport)
	if !ok {
		t.Fatalf("transport = %T, want *wsTransport", sess.Conn.t)
	}

	// 让一次写超时
	sess.Conn.writeMu.Lock()
	_ = tr.ws.SetWriteDeadline(time.Now().Add(-time.Second))
	_, werr := tr.Write(protocol.Encode(protocol.PlayerSpawn{PlayerID: 99}))
	sess.Conn.writeMu.Unlock()
	if !errors.Is(werr, errWSWrite) || isTimeout(werr) {
		t.Fatalf("stalled write err = %v, want non-timeout errWSWrite", werr)
	}

	res := s.Broadcaster().Broadcast(protocol.TigerRemove{TigerID: 42}, NoExclude)
	if len(res.Failed) != 1 || res.Failed[0] != 1 {
		t.Fatalf("result = %+v, want ws session failed", res)
	}
	if len(res.Delivered) != 1 || res.Delivered[0] != 2 {
		t.Fatalf("result = %+v, want tcp peer delivered", res)
	}

	peer.expect(protocol.TigerRemove{TigerID: 42})
	peer.expect(protocol.PlayerRemove{PlayerID: 1})
	waitFor(t, "ws session removal", func() bool { return s.Registry().Len() == 1 })
	if n := s.Metrics().Snapshot()["sends_abandoned"].(int64); n != 0 {
		t.Errorf("sends abandoned = %d, want 0", n)
	}
}
