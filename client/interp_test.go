package client

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func approx(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-4 }

func TestInterpolationMidpointAndClamp(t *testing.T) {
	st := newInterpolation(Transform{}, 0.1)
	st.Retarget(Transform{}, Transform{Pos: mgl32.Vec3{10, 0, 0}, RotY: 1})

	mid := st.Advance(0.05)
	if !approx(mid.Pos.X(), 5) || !approx(mid.RotY, 0.5) {
		t.Fatalf("midpoint = %+v, want x=5 rot=0.5", mid)
	}
	if !st.Active {
		t.Fatal("interpolation ended early")
	}

	end := st.Advance(0.06)
	if end.Pos != (mgl32.Vec3{10, 0, 0}) || end.RotY != 1 {
		t.Fatalf("end = %+v, want target exactly", end)
	}
	if st.Active {
		t.Fatal("interpolation should deactivate at t=1")
	}
	if got := st.Advance(1); got != st.Target {
		t.Fatalf("inactive advance = %+v, want target", got)
	}
}

func TestInterpolationExactWindow(t *testing.T) {
	st := newInterpolation(Transform{}, 0.1)
	st.Retarget(Transform{Pos: mgl32.Vec3{1, 2, 3}}, Transform{Pos: mgl32.Vec3{4, 5, 6}})
	if got := st.Advance(0.1); got.Pos != (mgl32.Vec3{4, 5, 6}) {
		t.Fatalf("at elapsed == window got %v", got.Pos)
	}
}

func TestLerpAngleShortestArc(t *testing.T) {
	tests := []struct {
		name    string
		a, b, t float32
		want    float32
	}{
		{name: "plain", a: 0, b: 1, t: 0.5, want: 0.5},
		{name: "across +pi", a: 3, b: -3, t: 0.5, want: math.Pi},
		{name: "across -pi", a: -3, b: 3, t: 0.5, want: -math.Pi},
		{name: "endpoints", a: 0.2, b: -0.4, t: 1, want: -0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lerpAngle(tt.a, tt.b, tt.t)
			if !approx(got, tt.want) {
				t.Fatalf("lerpAngle = %v, want %v", got, tt.want)
			}
		})
	}
}
