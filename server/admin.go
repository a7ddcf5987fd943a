package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-gl/mathgl/mgl32"
)

// HandleAdminConfig 提供 NPC 参数的读取与更新（热更新基本规则）
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		Speed          *float32 `json:"speed,omitempty"`
		ChaseSpeed     *float32 `json:"chaseSpeed,omitempty"`
		ChaseRadius    *float32 `json:"chaseRadius,omitempty"`
		WanderDistance *float32 `json:"wanderDistance,omitempty"`
		WanderMin      *float32 `json:"wanderMinSec,omitempty"`
		WanderMax      *float32 `json:"wanderMaxSec,omitempty"`
		Boundary       *float32 `json:"boundary,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.sim.Config())
		return
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		cur := s.sim.Config()
		if body.Speed != nil {
			cur.Speed = *body.Speed
		}
		if body.ChaseSpeed != nil {
			cur.ChaseSpeed = *body.ChaseSpeed
		}
		if body.ChaseRadius != nil {
			cur.ChaseRadius = *body.ChaseRadius
		}
		if body.WanderDistance != nil {
			cur.WanderDistance = *body.WanderDistance
		}
		if body.WanderMin != nil {
			cur.WanderMin = *body.WanderMin
		}
		if body.WanderMax != nil {
			cur.WanderMax = *body.WanderMax
		}
		if body.Boundary != nil {
			cur.Boundary = *body.Boundary
		}
		applied := s.sim.Configure(cur)
		Log.Infof("config updated: speed=%.1f chaseSpeed=%.1f chaseRadius=%.1f wander=%.1f [%.1f,%.1f]s boundary=%.1f",
			applied.Speed, applied.ChaseSpeed, applied.ChaseRadius, applied.WanderDistance,
			applied.WanderMin, applied.WanderMax, applied.Boundary)
		writeJSON(w, http.StatusOK, applied)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleTigers 老虎管理
// GET /admin/tigers            列出所有老虎
// POST /admin/tigers?x=&z=     生成一只并广播 TigerSpawn
// DELETE /admin/tigers?id=     删除一只并广播 TigerRemove
func (s *Server) HandleTigers(w http.ResponseWriter, r *http.Request) {
	type tigerView struct {
		ID      int32   `json:"id"`
		X       float32 `json:"x"`
		Y       float32 `json:"y"`
		Z       float32 `json:"z"`
		RotY    float32 `json:"rotY"`
		Chasing bool    `json:"chasing"`
	}

	q := r.URL.Query()
	switch r.Method {
	case http.MethodGet:
		snap := s.sim.Snapshot()
		out := make([]tigerView, len(snap))
		for i, t := range snap {
			out[i] = tigerView{ID: t.ID, X: t.Pos.X(), Y: t.Pos.Y(), Z: t.Pos.Z(), RotY: t.RotY, Chasing: t.Chasing}
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		x, errX := strconv.ParseFloat(q.Get("x"), 32)
		z, errZ := strconv.ParseFloat(q.Get("z"), 32)
		if errX != nil || errZ != nil {
			http.Error(w, "x and z are required", http.StatusBadRequest)
			return
		}
		ts := s.b.SpawnTiger(mgl32.Vec3{float32(x), 0, float32(z)})
		writeJSON(w, http.StatusCreated, tigerView{ID: ts.TigerID, X: ts.X, Y: ts.Y, Z: ts.Z})
	case http.MethodDelete:
		id, err := strconv.ParseInt(q.Get("id"), 10, 32)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		if !s.b.RemoveTiger(int32(id)) {
			http.Error(w, "tiger not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"tick":     s.tickSeq.Load(),
		"sessions": s.reg.Len(),
		"tigers":   len(s.sim.Snapshot()),
		"metrics":  s.metrics.Snapshot(),
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
