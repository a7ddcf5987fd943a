package server

import (
	"errors"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"tigersync/protocol"
)

// BroadcastResult 一次广播的投递结果
type BroadcastResult struct {
	Delivered []SessionID
	Abandoned []SessionID // would-block 重试耗尽，本包丢弃但会话保留
	Failed    []SessionID // 致命错误，已安排移除
}

// Broadcaster 广播/复制引擎：把入站更新转发给其它会话，推送 NPC Tick
type Broadcaster struct {
	reg     *Registry
	sim     *TigerSim
	metrics *Metrics

	// 串行化新玩家引导，保证引导期间看到的快照一致
	joinMu sync.Mutex
}

// NewBroadcaster 组装广播引擎；注册表与模拟器由 Server 持有并传入
func NewBroadcaster(reg *Registry, sim *TigerSim, m *Metrics) *Broadcaster {
	return &Broadcaster{reg: reg, sim: sim, metrics: m}
}

// Broadcast 向除 exclude 以外所有已就绪会话发送 p。
// 单个接收方失败只影响它自己；快照在锁内取，发送在锁外做。
func (b *Broadcaster) Broadcast(p protocol.Packet, exclude SessionID) BroadcastResult {
	data := protocol.Encode(p)
	var res BroadcastResult
	for _, s := range b.reg.Snapshot() {
		if s.ID == exclude || !s.Ready || s.conn == nil {
			continue
		}
		err := s.conn.Send(data)
		switch {
		case err == nil:
			res.Delivered = append(res.Delivered, s.ID)
		case errors.Is(err, ErrSendAbandoned):
			Log.Warnf("[Broadcast] %s to session %d dropped: %v", p.Type(), s.ID, err)
			res.Abandoned = append(res.Abandoned, s.ID)
		default:
			Log.Warnf("[Broadcast] %s to session %d failed: %v", p.Type(), s.ID, err)
			b.metrics.IncSendFailures()
			res.Failed = append(res.Failed, s.ID)
			b.scheduleLeave(s.ID, err)
		}
	}
	Log.Debugf("[Broadcast] %s exclude=%d delivered=%d abandoned=%d failed=%d",
		p.Type(), exclude, len(res.Delivered), len(res.Abandoned), len(res.Failed))
	return res
}

// SendTo 只发给一个会话；用于引导
func (b *Broadcaster) SendTo(id SessionID, p protocol.Packet) error {
	s, ok := b.reg.Get(id)
	if !ok || s.Conn == nil {
		return ErrConnFatal
	}
	return s.Conn.Send(protocol.Encode(p))
}

// Join 接入新会话并完成引导，顺序固定：
// 自己的 PlayerSpawn → 其它玩家（及其最新姿态）→ 现存老虎 → 标记就绪 → 向其他人广播新玩家
func (b *Broadcaster) Join(conn *ClientConn) (SessionID, error) {
	b.joinMu.Lock()
	defer b.joinMu.Unlock()

	id := b.reg.Register(conn)
	b.metrics.IncSessions()
	Log.Infof("[Connect] new session %d from %s", id, conn.RemoteAddr())

	if err := b.bootstrapSend(id, conn, protocol.PlayerSpawn{PlayerID: int32(id)}); err != nil {
		b.Leave(id, err)
		return id, err
	}
	for _, peer := range b.reg.Snapshot() {
		if peer.ID == id {
			continue
		}
		if err := b.bootstrapSend(id, conn, protocol.PlayerSpawn{PlayerID: int32(peer.ID)}); err != nil {
			b.Leave(id, err)
			return id, err
		}
		if !peer.HasMoved {
			continue
		}
		if err := b.bootstrapSend(id, conn, peer.Transform); err != nil {
			b.Leave(id, err)
			return id, err
		}
	}
	if b.sim != nil {
		for _, ts := range b.sim.Spawns() {
			if err := b.bootstrapSend(id, conn, ts); err != nil {
				b.Leave(id, err)
				return id, err
			}
		}
	}

	b.reg.MarkReady(id)
	b.Broadcast(protocol.PlayerSpawn{PlayerID: int32(id)}, id)
	return id, nil
}

// bootstrapSend 只有致命错误才中断引导；丢弃的引导包可由后续更新懒创建补齐
func (b *Broadcaster) bootstrapSend(id SessionID, conn *ClientConn, p protocol.Packet) error {
	err := conn.Send(protocol.Encode(p))
	if errors.Is(err, ErrSendAbandoned) {
		Log.Warnf("[Spawn] bootstrap %s to session %d dropped", p.Type(), id)
		return nil
	}
	if err != nil {
		b.metrics.IncSendFailures()
	}
	return err
}

// HandlePacket 处理某会话发来的一个完整封包
func (b *Broadcaster) HandlePacket(id SessionID, p protocol.Packet) {
	b.metrics.IncPacketsIn()
	switch pkt := p.(type) {
	case protocol.PlayerUpdate:
		if pkt.ClientID != int32(id) && pkt.ClientID != 0 {
			Log.Debugf("[Receive] session %d reported clientID %d, overriding", id, pkt.ClientID)
		}
		// 客户端不可信，以服务端分配的 ID 为准
		pkt.ClientID = int32(id)
		if !b.reg.Update(id, pkt) {
			return
		}
		Log.Debugf("[Receive] session %d position (%.2f, %.2f, %.2f) rot %.2f", id, pkt.X, pkt.Y, pkt.Z, pkt.RotY)
		b.Broadcast(pkt, id)
	default:
		b.metrics.IncDecodeErrors()
		Log.Warnf("[Receive] session %d sent unexpected %s, dropped", id, p.Type())
	}
}

// Leave 拆除会话；幂等，只有第一次调用会关闭连接并广播 PlayerRemove
func (b *Broadcaster) Leave(id SessionID, reason error) bool {
	s, ok := b.reg.Remove(id)
	if !ok {
		return false
	}
	if s.Conn != nil {
		s.Conn.Close()
	}
	b.metrics.IncDisconnects()
	Log.Infof("[Disconnect] session %d: %v; active sessions %d", id, reason, b.reg.Len())
	b.Broadcast(protocol.PlayerRemove{PlayerID: int32(id)}, NoExclude)
	return true
}

func (b *Broadcaster) scheduleLeave(id SessionID, reason error) {
	go b.Leave(id, reason)
}

// TickTigers 推进 NPC 并为每只老虎广播一条 TigerUpdate
func (b *Broadcaster) TickTigers(dt float32) int {
	if b.sim == nil {
		return 0
	}
	updates := b.sim.Step(dt, b.reg.Snapshot())
	for _, u := range updates {
		b.Broadcast(u, NoExclude)
	}
	return len(updates)
}

// SpawnTiger 生成老虎并通知所有会话
func (b *Broadcaster) SpawnTiger(pos mgl32.Vec3) protocol.TigerSpawn {
	ts := b.sim.Spawn(pos)
	Log.Infof("[Tiger] spawned %d at (%.1f, %.1f, %.1f)", ts.TigerID, ts.X, ts.Y, ts.Z)
	b.Broadcast(ts, NoExclude)
	return ts
}

// RemoveTiger 删除老虎并通知所有会话
func (b *Broadcaster) RemoveTiger(id int32) bool {
	tr, ok := b.sim.Remove(id)
	if !ok {
		return false
	}
	Log.Infof("[Tiger] removed %d", id)
	b.Broadcast(tr, NoExclude)
	return true
}
