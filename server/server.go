package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

var errShutdown = errors.New("server shutting down")

// Server 持有注册表、NPC 模拟、广播引擎与 I/O 调度，没有全局单例
type Server struct {
	cfg        Config
	reg        *Registry
	sim        *TigerSim
	b          *Broadcaster
	dispatcher *Dispatcher
	metrics    *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	ln      net.Listener
	httpLn  net.Listener
	httpSrv *http.Server

	tickerStarted atomic.Bool
	tickSeq       atomic.Uint64
	closeOnce     sync.Once
	bg            sync.WaitGroup // Tick、接入循环、HTTP 服务
}

// New 按配置组装服务端，不做任何 I/O
func New(cfg Config) *Server {
	cfg = cfg.normalize()
	m := &Metrics{}
	reg := NewRegistry()
	sim := NewTigerSim(cfg.Sim, cfg.Seed)
	b := NewBroadcaster(reg, sim, m)
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		reg:        reg,
		sim:        sim,
		b:          b,
		dispatcher: NewDispatcher(b, cfg, m),
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Server) Registry() *Registry       { return s.reg }
func (s *Server) Sim() *TigerSim            { return s.sim }
func (s *Server) Broadcaster() *Broadcaster { return s.b }
func (s *Server) Metrics() *Metrics         { return s.metrics }
func (s *Server) Dispatcher() *Dispatcher   { return s.dispatcher }
func (s *Server) TickSeq() uint64           { return s.tickSeq.Load() }

// Addr TCP 监听地址；Start 之前为 nil
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// HTTPAddr 管理接口监听地址；未启用时为 nil
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// Start 绑定端口、生成初始老虎、启动 worker 池、Tick 与接入循环后立即返回
func (s *Server) Start(parent context.Context) error {
	if parent != nil {
		ctx, cancel := context.WithCancel(parent)
		s.cancel()
		s.ctx, s.cancel = ctx, cancel
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln

	if s.cfg.HTTPAddr != "" {
		hl, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpLn = hl
		s.httpSrv = &http.Server{Handler: s.Handler()}
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			if err := s.httpSrv.Serve(hl); err != nil && !errors.Is(err, http.ErrServerClosed) {
				Log.Errorf("http serve: %v", err)
			}
		}()
	}

	for i := 0; i < s.cfg.TigerCount; i++ {
		ts := s.sim.SpawnRandom(s.cfg.SpawnRange)
		Log.Infof("[Tiger] initial tiger %d at (%.1f, %.1f, %.1f)", ts.TigerID, ts.X, ts.Y, ts.Z)
	}

	s.dispatcher.Start(s.ctx)
	s.StartTicker()
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := s.dispatcher.Serve(s.ctx, ln); err != nil {
			Log.Errorf("[Accept] %v", err)
		}
	}()

	Log.Infof("server listening on %s (workers=%d tick=%s tigers=%d)",
		ln.Addr(), s.cfg.Workers, s.cfg.TickInterval, s.cfg.TigerCount)
	return nil
}

// Handler 管理与 WebSocket 接口
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/admin/config", s.HandleAdminConfig)
	mux.HandleFunc("/admin/tigers", s.HandleTigers)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.Handle("/admin/loglevel", logLevel)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Close 停止接入、断开所有会话并等待 worker 退出
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if s.httpSrv != nil {
			err = multierr.Append(err, s.httpSrv.Close())
		}
		if s.ln != nil {
			if cerr := s.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
		}
		for _, ss := range s.reg.Snapshot() {
			s.b.Leave(ss.ID, errShutdown)
		}
		s.dispatcher.Wait()
		s.bg.Wait()
		Log.Info("server closed")
	})
	return err
}
