package client

import (
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"tigersync/protocol"
)

// Proxy 远端玩家或老虎在本地场景中的占位实体，以服务端 ID 为键
type Proxy struct {
	ID       int32
	Handle   Handle
	Template Template
	Pose     Transform // 当前渲染姿态
}

// Replicator 把服务端封包映射为场景图操作。
// 非并发安全：只在帧协程（Session.Update）里调用。
type Replicator struct {
	scene  SceneGraph
	log    *zap.SugaredLogger
	window float32

	players map[int32]*Proxy
	tigers  map[int32]*Proxy
	interp  map[int32]*InterpolationState
}

// NewReplicator window 为老虎插值窗口
func NewReplicator(scene SceneGraph, window float32, log *zap.SugaredLogger) *Replicator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if window <= 0 {
		window = float32(DefaultInterpWindow.Seconds())
	}
	return &Replicator{
		scene:   scene,
		log:     log,
		window:  window,
		players: make(map[int32]*Proxy),
		tigers:  make(map[int32]*Proxy),
		interp:  make(map[int32]*InterpolationState),
	}
}

// Handle 按类型分发一个封包；自身 ID 的过滤由 Session 负责
func (r *Replicator) Handle(p protocol.Packet) {
	switch pkt := p.(type) {
	case protocol.PlayerSpawn:
		if _, ok := r.players[pkt.PlayerID]; !ok {
			r.spawnPlayer(pkt.PlayerID, Transform{})
		}
	case protocol.PlayerUpdate:
		pose := Transform{Pos: mgl32.Vec3{pkt.X, pkt.Y, pkt.Z}, RotY: pkt.RotY}
		px, ok := r.players[pkt.ClientID]
		if !ok {
			// 未知 ID：懒创建
			r.spawnPlayer(pkt.ClientID, pose)
			return
		}
		px.Pose = pose
		r.scene.SetTransform(px.Handle, pose.Pos, pose.RotY)
	case protocol.PlayerRemove:
		if px, ok := r.players[pkt.PlayerID]; ok {
			delete(r.players, pkt.PlayerID)
			r.remove(px)
			r.log.Infof("[Replicate] player %d left", pkt.PlayerID)
		}
	case protocol.TigerSpawn:
		pose := Transform{Pos: r.ground(mgl32.Vec3{pkt.X, pkt.Y, pkt.Z})}
		if px, ok := r.tigers[pkt.TigerID]; ok {
			px.Pose = pose
			r.interp[pkt.TigerID].Snap(pose)
			r.scene.SetTransform(px.Handle, pose.Pos, pose.RotY)
			return
		}
		r.spawnTiger(pkt.TigerID, pose)
	case protocol.TigerUpdate:
		pose := Transform{Pos: r.ground(mgl32.Vec3{pkt.X, pkt.Y, pkt.Z}), RotY: pkt.RotY}
		px, ok := r.tigers[pkt.TigerID]
		if !ok {
			r.spawnTiger(pkt.TigerID, pose)
			return
		}
		r.interp[pkt.TigerID].Retarget(px.Pose, pose)
	case protocol.TigerRemove:
		if px, ok := r.tigers[pkt.TigerID]; ok {
			delete(r.tigers, pkt.TigerID)
			delete(r.interp, pkt.TigerID)
			r.remove(px)
			r.log.Infof("[Replicate] tiger %d removed", pkt.TigerID)
		}
	default:
		r.log.Warnf("[Replicate] unhandled %s dropped", p.Type())
	}
}

// Advance 推进所有进行中的老虎插值并写回场景
func (r *Replicator) Advance(dt float32) {
	for id, st := range r.interp {
		if !st.Active {
			continue
		}
		px := r.tigers[id]
		px.Pose = st.Advance(dt)
		r.scene.SetTransform(px.Handle, px.Pose.Pos, px.Pose.RotY)
	}
}

func (r *Replicator) spawnPlayer(id int32, pose Transform) *Proxy {
	px := &Proxy{ID: id, Template: TemplatePlayer, Pose: pose}
	px.Handle = r.scene.SpawnEntity(TemplatePlayer, pose.Pos)
	if pose.RotY != 0 {
		r.scene.SetTransform(px.Handle, pose.Pos, pose.RotY)
	}
	r.players[id] = px
	r.log.Infof("[Replicate] player %d spawned at (%.1f, %.1f, %.1f)", id, pose.Pos.X(), pose.Pos.Y(), pose.Pos.Z())
	return px
}

func (r *Replicator) spawnTiger(id int32, pose Transform) *Proxy {
	px := &Proxy{ID: id, Template: TemplateTiger, Pose: pose}
	px.Handle = r.scene.SpawnEntity(TemplateTiger, pose.Pos)
	if pose.RotY != 0 {
		r.scene.SetTransform(px.Handle, pose.Pos, pose.RotY)
	}
	r.tigers[id] = px
	r.interp[id] = newInterpolation(pose, r.window)
	r.log.Infof("[Replicate] tiger %d spawned at (%.1f, %.1f, %.1f)", id, pose.Pos.X(), pose.Pos.Y(), pose.Pos.Z())
	return px
}

func (r *Replicator) remove(px *Proxy) {
	if rm, ok := r.scene.(EntityRemover); ok {
		rm.RemoveEntity(px.Handle)
	}
}

// ground 场景提供地形时，老虎的 y 取地形高度
func (r *Replicator) ground(p mgl32.Vec3) mgl32.Vec3 {
	if hs, ok := r.scene.(HeightSampler); ok {
		p[1] = hs.TerrainHeight(p.X(), p.Z())
	}
	return p
}

// Player 查询远端玩家代理
func (r *Replicator) Player(id int32) (Proxy, bool) {
	px, ok := r.players[id]
	if !ok {
		return Proxy{}, false
	}
	return *px, true
}

// Tiger 查询老虎代理
func (r *Replicator) Tiger(id int32) (Proxy, bool) {
	px, ok := r.tigers[id]
	if !ok {
		return Proxy{}, false
	}
	return *px, true
}

// Interpolation 查询老虎插值状态
func (r *Replicator) Interpolation(id int32) (InterpolationState, bool) {
	st, ok := r.interp[id]
	if !ok {
		return InterpolationState{}, false
	}
	return *st, true
}

func (r *Replicator) Players() int { return len(r.players) }
func (r *Replicator) Tigers() int  { return len(r.tigers) }
