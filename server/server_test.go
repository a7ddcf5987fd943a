package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tigersync/protocol"
)

func startServer(t *testing.T, withHTTP bool) *Server {
	t.Helper()
	cfg := testConfig()
	if withHTTP {
		cfg.HTTPAddr = "127.0.0.1:0"
	}
	s := New(cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// tcpPeer 一个测试用的原始 TCP 客户端
type tcpPeer struct {
	t      *testing.T
	conn   net.Conn
	framer protocol.Framer
	buf    []byte
}

func dialTCP(t *testing.T, s *Server) *tcpPeer {
	t.Helper()
	c, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return &tcpPeer{t: t, conn: c, buf: make([]byte, 256)}
}

func (p *tcpPeer) next() protocol.Packet {
	p.t.Helper()
	for {
		pkt, err := p.framer.Next()
		if err == nil {
			return pkt
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := p.conn.Read(p.buf)
		if err != nil {
			p.t.Fatalf("read: %v", err)
		}
		p.framer.Write(p.buf[:n])
	}
}

func (p *tcpPeer) expect(want protocol.Packet) {
	p.t.Helper()
	if got := p.next(); got != want {
		p.t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestTCPRelayAndDisconnect(t *testing.T) {
	observeLogs(t)
	s := startServer(t, false)

	a := dialTCP(t, s)
	a.expect(protocol.PlayerSpawn{PlayerID: 1})

	b := dialTCP(t, s)
	b.expect(protocol.PlayerSpawn{PlayerID: 2})
	b.expect(protocol.PlayerSpawn{PlayerID: 1})
	a.expect(protocol.PlayerSpawn{PlayerID: 2})

	// 一个封包拆成两次写
	data := protocol.Encode(protocol.PlayerUpdate{ClientID: 2, X: 10, Y: 0, Z: -3, RotY: 1.5})
	if _, err := b.conn.Write(data[:7]); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := b.conn.Write(data[7:]); err != nil {
		t.Fatal(err)
	}
	a.expect(protocol.PlayerUpdate{ClientID: 2, X: 10, Y: 0, Z: -3, RotY: 1.5})

	// 两个封包合在一次写里
	two := append(protocol.Encode(protocol.PlayerUpdate{X: 1}), protocol.Encode(protocol.PlayerUpdate{X: 2})...)
	if _, err := b.conn.Write(two); err != nil {
		t.Fatal(err)
	}
	a.expect(protocol.PlayerUpdate{ClientID: 2, X: 1})
	a.expect(protocol.PlayerUpdate{ClientID: 2, X: 2})

	b.conn.Close()
	a.expect(protocol.PlayerRemove{PlayerID: 2})
	waitFor(t, "registry cleanup", func() bool { return s.Registry().Len() == 1 })
}

func TestMalformedPacketKeepsConnection(t *testing.T) {
	observeLogs(t)
	s := startServer(t, false)

	a := dialTCP(t, s)
	a.expect(protocol.PlayerSpawn{PlayerID: 1})
	b := dialTCP(t, s)
	b.expect(protocol.PlayerSpawn{PlayerID: 2})
	b.expect(protocol.PlayerSpawn{PlayerID: 1})
	a.expect(protocol.PlayerSpawn{PlayerID: 2})

	// size=8 type=99：未知类型，跳过该记录
	bad := []byte{8, 0, 99, 0, 0, 0, 0, 0}
	good := protocol.Encode(protocol.PlayerUpdate{X: 4})
	if _, err := b.conn.Write(append(bad, good...)); err != nil {
		t.Fatal(err)
	}
	a.expect(protocol.PlayerUpdate{ClientID: 2, X: 4})
	waitFor(t, "decode error metric", func() bool {
		return s.Metrics().Snapshot()["decode_errors"].(int64) == 1
	})
}

func TestLateJoinerSeesTigersAndMovedPeers(t *testing.T) {
	observeLogs(t)
	cfg := testConfig()
	cfg.TigerCount = 2
	cfg.TickInterval = time.Hour
	s := New(cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	a := dialTCP(t, s)
	a.expect(protocol.PlayerSpawn{PlayerID: 1})
	for i := 0; i < 2; i++ {
		if _, ok := a.next().(protocol.TigerSpawn); !ok {
			t.Fatal("expected TigerSpawn during bootstrap")
		}
	}
	if _, err := a.conn.Write(protocol.Encode(protocol.PlayerUpdate{X: 7, Z: 7})); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "update recorded", func() bool {
		snap := s.Registry().Snapshot()
		return len(snap) == 1 && snap[0].HasMoved
	})

	b := dialTCP(t, s)
	b.expect(protocol.PlayerSpawn{PlayerID: 2})
	b.expect(protocol.PlayerSpawn{PlayerID: 1})
	b.expect(protocol.PlayerUpdate{ClientID: 1, X: 7, Z: 7})
	spawns := s.Sim().Spawns()
	for _, want := range spawns {
		b.expect(want)
	}
}

func TestWebSocketClientSharesWorld(t *testing.T) {
	observeLogs(t)
	s := startServer(t, true)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.HTTPAddr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer ws.Close()

	readWS := func() protocol.Packet {
		t.Helper()
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		mt, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("ws read: %v", err)
		}
		if mt != websocket.BinaryMessage {
			t.Fatalf("message type %d, want binary", mt)
		}
		p, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("ws decode: %v", err)
		}
		return p
	}

	if got := readWS(); got != (protocol.PlayerSpawn{PlayerID: 1}) {
		t.Fatalf("ws self spawn = %+v", got)
	}

	tc := dialTCP(t, s)
	tc.expect(protocol.PlayerSpawn{PlayerID: 2})
	tc.expect(protocol.PlayerSpawn{PlayerID: 1})
	if got := readWS(); got != (protocol.PlayerSpawn{PlayerID: 2}) {
		t.Fatalf("ws got %+v, want tcp peer spawn", got)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, protocol.Encode(protocol.PlayerUpdate{X: 3, RotY: 2})); err != nil {
		t.Fatal(err)
	}
	tc.expect(protocol.PlayerUpdate{ClientID: 1, X: 3, RotY: 2})
}

func TestAdminEndpoints(t *testing.T) {
	observeLogs(t)
	s := New(testConfig())
	t.Cleanup(func() { _ = s.Close() })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/admin/config", "application/json", strings.NewReader(`{"speed":80,"chaseRadius":50}`))
	if err != nil {
		t.Fatal(err)
	}
	var applied SimConfig
	if err := json.NewDecoder(resp.Body).Decode(&applied); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if applied.Speed != 80 || applied.ChaseRadius != 50 || applied.WanderDistance != 100 {
		t.Fatalf("applied config = %+v", applied)
	}
	if s.Sim().Config().Speed != 80 {
		t.Fatal("config not applied to the simulation")
	}

	resp, err = http.Post(ts.URL+"/admin/config", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json status = %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/admin/tigers?x=10&z=-10", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || len(s.Sim().Snapshot()) != 1 {
		t.Fatalf("spawn status = %d tigers = %d", resp.StatusCode, len(s.Sim().Snapshot()))
	}

	resp, err = http.Post(ts.URL+"/admin/tigers?x=oops", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad spawn status = %d", resp.StatusCode)
	}

	del := func(id string) int {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/admin/tigers?id="+id, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := del("1"); code != http.StatusOK {
		t.Fatalf("delete status = %d", code)
	}
	if code := del("1"); code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", code)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	for _, key := range []string{"tick", "sessions", "tigers", "metrics"} {
		if _, ok := m[key]; !ok {
			t.Errorf("metrics payload missing %q", key)
		}
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}
