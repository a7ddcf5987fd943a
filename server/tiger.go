package server

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/sasha-s/go-deadlock"

	"tigersync/protocol"
)

// Tiger 服务端权威的 NPC 状态
type Tiger struct {
	ID           int32
	Pos          mgl32.Vec3
	RotY         float32
	WanderTarget mgl32.Vec3
	WanderTimer  float32 // 秒，<= 0 时重新选游荡点
	Chasing      bool
}

// TigerSim NPC 模拟：游荡 / 追逐两状态，只在自己的 Tick 中修改
type TigerSim struct {
	mu     deadlock.Mutex
	cfg    SimConfig
	rng    *rand.Rand
	nextID int32
	tigers map[int32]*Tiger
}

// NewTigerSim 创建模拟器；seed 为 0 时按当前时间播种
func NewTigerSim(cfg SimConfig, seed int64) *TigerSim {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &TigerSim{
		cfg:    cfg.normalize(),
		rng:    rand.New(rand.NewSource(seed)),
		nextID: 1,
		tigers: make(map[int32]*Tiger),
	}
}

// Config 当前参数
func (s *TigerSim) Config() SimConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Configure 热更新参数，下一次 Tick 生效
func (s *TigerSim) Configure(cfg SimConfig) SimConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.normalize()
	return s.cfg
}

// Spawn 在 pos 生成一只老虎，返回需要广播的 TigerSpawn
func (s *TigerSim) Spawn(pos mgl32.Vec3) protocol.TigerSpawn {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.tigers[id] = &Tiger{ID: id, Pos: pos, WanderTarget: pos}
	return protocol.TigerSpawn{TigerID: id, X: pos.X(), Y: pos.Y(), Z: pos.Z()}
}

// SpawnRandom 在原点周围 spread 范围内随机生成
func (s *TigerSim) SpawnRandom(spread float32) protocol.TigerSpawn {
	s.mu.Lock()
	x := (s.rng.Float32()*2 - 1) * spread
	z := (s.rng.Float32()*2 - 1) * spread
	s.mu.Unlock()
	return s.Spawn(mgl32.Vec3{x, 0, z})
}

// Remove 删除老虎
func (s *TigerSim) Remove(id int32) (protocol.TigerRemove, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tigers[id]; !ok {
		return protocol.TigerRemove{}, false
	}
	delete(s.tigers, id)
	return protocol.TigerRemove{TigerID: id}, true
}

// Snapshot 按 ID 升序返回副本
func (s *TigerSim) Snapshot() []Tiger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tiger, 0, len(s.tigers))
	for _, t := range s.tigers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Spawns 当前所有老虎的 TigerSpawn，用于新玩家引导
func (s *TigerSim) Spawns() []protocol.TigerSpawn {
	snap := s.Snapshot()
	out := make([]protocol.TigerSpawn, len(snap))
	for i, t := range snap {
		out[i] = protocol.TigerSpawn{TigerID: t.ID, X: t.Pos.X(), Y: t.Pos.Y(), Z: t.Pos.Z()}
	}
	return out
}

// Step 推进 dt 秒，返回每只老虎一条 TigerUpdate（不论是否移动）
func (s *TigerSim) Step(dt float32, players []SessionState) []protocol.TigerUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int32, 0, len(s.tigers))
	for id := range s.tigers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]protocol.TigerUpdate, 0, len(ids))
	for _, id := range ids {
		t := s.tigers[id]
		s.stepTiger(t, dt, players)
		out = append(out, protocol.TigerUpdate{
			TigerID: t.ID,
			X:       t.Pos.X(),
			Y:       t.Pos.Y(),
			Z:       t.Pos.Z(),
			RotY:    t.RotY,
		})
	}
	return out
}

func (s *TigerSim) stepTiger(t *Tiger, dt float32, players []SessionState) {
	target, found := nearestPlayer(t.Pos, players, s.cfg.ChaseRadius)
	speed := s.cfg.Speed
	if found {
		t.Chasing = true
		speed = s.cfg.ChaseSpeed
	} else {
		if t.Chasing {
			// 丢失目标，立即重新选游荡点
			t.Chasing = false
			t.WanderTimer = 0
		}
		t.WanderTimer -= dt
		if t.WanderTimer <= 0 {
			t.WanderTarget = s.pickWanderTarget(t.Pos)
			t.WanderTimer = s.randomWanderTime()
		}
		target = t.WanderTarget
	}
	s.moveToward(t, target, speed*dt)
}

// nearestPlayer 水平距离 radius 内最近的玩家；从未上报过姿态的会话不参与
func nearestPlayer(pos mgl32.Vec3, players []SessionState, radius float32) (mgl32.Vec3, bool) {
	bestDistSq := radius * radius
	found := false
	var best mgl32.Vec3
	for _, p := range players {
		if !p.HasMoved {
			continue
		}
		pp := mgl32.Vec3{p.Transform.X, p.Transform.Y, p.Transform.Z}
		dx := pp.X() - pos.X()
		dz := pp.Z() - pos.Z()
		distSq := dx*dx + dz*dz
		if distSq <= bestDistSq {
			bestDistSq = distSq
			best = pp
			found = true
		}
	}
	return best, found
}

// moveToward 沿水平面向 target 移动至多 maxStep，不越过目标；朝向与移动方向一致
func (s *TigerSim) moveToward(t *Tiger, target mgl32.Vec3, maxStep float32) {
	delta := target.Sub(t.Pos)
	delta[1] = 0
	dist := delta.Len()
	if dist < 1e-4 || maxStep <= 0 {
		return
	}
	step := maxStep
	if step > dist {
		step = dist
	}
	move := delta.Mul(step / dist)
	t.Pos = s.clampToBoundary(t.Pos.Add(move))
	t.RotY = float32(math.Atan2(float64(move.Z()), float64(move.X())))
}

func (s *TigerSim) pickWanderTarget(from mgl32.Vec3) mgl32.Vec3 {
	angle := s.rng.Float64() * 2 * math.Pi
	d := s.cfg.WanderDistance
	offset := mgl32.Vec3{float32(math.Cos(angle)) * d, 0, float32(math.Sin(angle)) * d}
	return s.clampToBoundary(from.Add(offset))
}

func (s *TigerSim) randomWanderTime() float32 {
	span := s.cfg.WanderMax - s.cfg.WanderMin
	return s.cfg.WanderMin + s.rng.Float32()*span
}

func (s *TigerSim) clampToBoundary(p mgl32.Vec3) mgl32.Vec3 {
	b := s.cfg.Boundary
	return mgl32.Vec3{mgl32.Clamp(p.X(), -b, b), p.Y(), mgl32.Clamp(p.Z(), -b, b)}
}
