package server

import (
	"sort"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"tigersync/protocol"
)

// SessionID 服务端分配的会话标识，从 1 开始单调递增，进程内不复用
type SessionID int32

// NoExclude 广播时不排除任何会话（合法 ID 从 1 开始）
const NoExclude SessionID = 0

// Session 一个已连接的客户端（服务端权威记录）
type Session struct {
	ID   SessionID
	Conn *ClientConn

	last     protocol.PlayerUpdate
	hasMoved bool        // 是否上报过姿态
	ready    atomic.Bool // 完成引导前不接收广播
}

// SessionState 注册表快照中的一项
type SessionState struct {
	ID        SessionID
	Transform protocol.PlayerUpdate
	HasMoved  bool
	Ready     bool
	conn      *ClientConn
}

// Registry 会话表：所有 worker 共享的唯一可变结构，每次访问都是短临界区
type Registry struct {
	mu       deadlock.RWMutex
	nextID   SessionID
	sessions map[SessionID]*Session
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		nextID:   1,
		sessions: make(map[SessionID]*Session),
	}
}

// Register 分配下一个 ID 并登记连接
func (r *Registry) Register(conn *ClientConn) SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	s := &Session{ID: id, Conn: conn}
	s.last.ClientID = int32(id)
	r.sessions[id] = s
	if conn != nil {
		conn.id.Store(int32(id))
	}
	return id
}

// Update 记录会话最新姿态；会话不存在返回 false
func (r *Registry) Update(id SessionID, t protocol.PlayerUpdate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	t.ClientID = int32(id)
	s.last = t
	s.hasMoved = true
	return true
}

// MarkReady 会话完成引导，开始接收广播
func (r *Registry) MarkReady(id SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if ok {
		s.ready.Store(true)
	}
	return ok
}

// Remove 移除会话；同一 ID 只有第一次调用返回 true
func (r *Registry) Remove(id SessionID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// Get 查询会话
func (r *Registry) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len 当前会话数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot 按 ID 升序返回所有会话的副本
func (r *Registry) Snapshot() []SessionState {
	r.mu.RLock()
	out := make([]SessionState, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionState{
			ID:        s.ID,
			Transform: s.last,
			HasMoved:  s.hasMoved,
			Ready:     s.ready.Load(),
			conn:      s.Conn,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
