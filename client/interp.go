package client

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// DefaultInterpWindow 与服务端 10Hz Tick 对齐
const DefaultInterpWindow = 100 * time.Millisecond

// InterpolationState 一只老虎从上一姿态到最新权威姿态的插值
type InterpolationState struct {
	Prev    Transform
	Target  Transform
	Elapsed float32 // 秒
	Window  float32 // 秒
	Active  bool
}

func newInterpolation(at Transform, window float32) *InterpolationState {
	return &InterpolationState{Prev: at, Target: at, Window: window}
}

// Retarget 以当前渲染姿态为起点、新包为终点重新开始
func (s *InterpolationState) Retarget(current, target Transform) {
	s.Prev = current
	s.Target = target
	s.Elapsed = 0
	s.Active = true
}

// Snap 直接跳到指定姿态并停止插值
func (s *InterpolationState) Snap(at Transform) {
	s.Prev = at
	s.Target = at
	s.Elapsed = 0
	s.Active = false
}

// Advance 推进 dt 秒并返回应渲染的姿态；到达窗口末尾时精确写入目标并停止
func (s *InterpolationState) Advance(dt float32) Transform {
	if !s.Active {
		return s.Target
	}
	s.Elapsed += dt
	if s.Window <= 0 || s.Elapsed >= s.Window {
		s.Active = false
		return s.Target
	}
	t := mgl32.Clamp(s.Elapsed/s.Window, 0, 1)
	return Transform{
		Pos:  lerpVec3(s.Prev.Pos, s.Target.Pos, t),
		RotY: lerpAngle(s.Prev.RotY, s.Target.RotY, t),
	}
}

func lerpVec3(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}

// lerpAngle 沿最短弧插值朝向，避免跨越 ±π 时绕一整圈
func lerpAngle(a, b, t float32) float32 {
	d := b - a
	for d > math.Pi {
		d -= 2 * math.Pi
	}
	for d < -math.Pi {
		d += 2 * math.Pi
	}
	return a + d*t
}
