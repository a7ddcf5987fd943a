// Package client 客户端网络会话与远端实体复制
package client

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/sasha-s/go-deadlock"
)

// Handle 场景图中的实体句柄
type Handle int64

// Template 实体的视觉模板
type Template int

const (
	TemplatePlayer Template = iota + 1
	TemplateTiger
)

func (t Template) String() string {
	switch t {
	case TemplatePlayer:
		return "player"
	case TemplateTiger:
		return "tiger"
	default:
		return "unknown"
	}
}

// Transform 位置 + 朝向（绕 Y 轴，弧度）
type Transform struct {
	Pos  mgl32.Vec3
	RotY float32
}

// SceneGraph 外部场景图：复制层只通过这两个调用操作实体
type SceneGraph interface {
	SpawnEntity(tpl Template, pos mgl32.Vec3) Handle
	SetTransform(h Handle, pos mgl32.Vec3, rotY float32)
}

// EntityRemover 可选：支持删除实体的场景图
type EntityRemover interface {
	RemoveEntity(h Handle)
}

// HeightSampler 可选：提供地形高度的场景图，老虎贴地显示
type HeightSampler interface {
	TerrainHeight(x, z float32) float32
}

// SceneEntity MemoryScene 中的一个实体
type SceneEntity struct {
	Template Template
	Transform
}

// MemoryScene 内存场景图，供无界面客户端和测试使用
type MemoryScene struct {
	mu       deadlock.Mutex
	next     Handle
	entities map[Handle]*SceneEntity
}

func NewMemoryScene() *MemoryScene {
	return &MemoryScene{entities: make(map[Handle]*SceneEntity)}
}

func (m *MemoryScene) SpawnEntity(tpl Template, pos mgl32.Vec3) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.entities[m.next] = &SceneEntity{Template: tpl, Transform: Transform{Pos: pos}}
	return m.next
}

func (m *MemoryScene) SetTransform(h Handle, pos mgl32.Vec3, rotY float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entities[h]; ok {
		e.Pos = pos
		e.RotY = rotY
	}
}

func (m *MemoryScene) RemoveEntity(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, h)
}

// Entity 返回实体副本
func (m *MemoryScene) Entity(h Handle) (SceneEntity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[h]
	if !ok {
		return SceneEntity{}, false
	}
	return *e, true
}

// Count 指定模板的实体数
func (m *MemoryScene) Count(tpl Template) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entities {
		if e.Template == tpl {
			n++
		}
	}
	return n
}

func (m *MemoryScene) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entities)
}

// TerrainScene 带地形高度的 MemoryScene
type TerrainScene struct {
	*MemoryScene
	Height func(x, z float32) float32
}

func (t TerrainScene) TerrainHeight(x, z float32) float32 { return t.Height(x, z) }
