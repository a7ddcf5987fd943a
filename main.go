package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pterm/pterm"

	"tigersync/client"
	"tigersync/server"
)

var version = "dev"

// TigerSync 入口：-role server 启动同步服务端，-role client 启动无界面机器人客户端
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	def := server.DefaultConfig()
	role := flag.String("role", "server", "server or client")
	addr := flag.String("addr", def.Addr, "TCP listen address (server) or server address (client)")
	httpAddr := flag.String("http", def.HTTPAddr, "websocket + admin listen address, empty to disable")
	logFile := flag.String("log", "server.log", "log file path")
	debug := flag.Bool("debug", false, "enable per-packet debug logging")
	tigers := flag.Int("tigers", def.TigerCount, "initial tiger count")
	workers := flag.Int("workers", def.Workers, "I/O worker count")
	tick := flag.Duration("tick", def.TickInterval, "NPC tick interval (not faster than 100ms)")
	radius := flag.Float64("radius", 80, "bot walking circle radius (client)")
	flag.Parse()

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(*logFile, *debug); err != nil {
		pterm.Error.Printfln("init logger: %v", err)
		os.Exit(1)
	}
	defer server.SyncLogger()

	pterm.Info.Printfln("TigerSync v%s (%s)", version, *role)

	switch *role {
	case "server":
		cfg := def
		cfg.Addr = *addr
		cfg.HTTPAddr = *httpAddr
		cfg.TigerCount = *tigers
		cfg.Workers = *workers
		cfg.TickInterval = *tick
		runServer(ctx, cfg)
	case "client":
		target := *addr
		if target == def.Addr {
			target = fmt.Sprintf("127.0.0.1:%d", server.DefaultPort)
		}
		runBot(ctx, target, float32(*radius))
	default:
		pterm.Error.Printfln("invalid -role %q: must be 'server' or 'client'", *role)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, cfg server.Config) {
	s := server.New(cfg)
	if err := s.Start(ctx); err != nil {
		pterm.Error.Printfln("start: %v", err)
		os.Exit(1)
	}
	pterm.Success.Printfln("listening on %s", s.Addr())
	if a := s.HTTPAddr(); a != nil {
		pterm.Info.Printfln("websocket: ws://%s/ws  metrics: http://%s/metrics", a, a)
	}

	<-ctx.Done()
	server.Log.Info("Shutting down...")
	if err := s.Close(); err != nil {
		pterm.Warning.Printfln("shutdown: %v", err)
	}
	pterm.Info.Printfln("served %d ticks", s.TickSeq())
}

// runBot 无界面客户端：绕圈行走，按帧调用 Update
func runBot(ctx context.Context, addr string, radius float32) {
	scene := client.NewMemoryScene()
	sess, err := client.Dial(ctx, addr, scene, client.WithLogger(server.Log))
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
	defer sess.Close()

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()
	pterm.Success.Printfln("connected to %s", addr)

	const frame = time.Second / 60
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	status := time.NewTicker(2 * time.Second)
	defer status.Stop()

	var angle float64
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-done:
			if err != nil {
				pterm.Error.Printfln("connection lost: %v", err)
			} else {
				pterm.Warning.Println("server closed the connection")
			}
			return
		case <-status.C:
			r := sess.Replicator()
			pterm.Info.Printfln("id=%d players=%d tigers=%d entities=%d",
				sess.MyID(), r.Players(), r.Tigers(), scene.Len())
		case now := <-ticker.C:
			dt := float32(now.Sub(last).Seconds())
			last = now
			angle += float64(dt) * 0.5
			pos := mgl32.Vec3{
				radius * float32(math.Cos(angle)),
				0,
				radius * float32(math.Sin(angle)),
			}
			// 切线方向，与服务端 atan2(dz, dx) 一致
			heading := float32(math.Atan2(math.Cos(angle), -math.Sin(angle)))
			sess.Update(dt, client.Transform{Pos: pos, RotY: heading})
		}
	}
}
