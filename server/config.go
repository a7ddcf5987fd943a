package server

import (
	"runtime"
	"time"
)

// Config 服务端启动参数；由 main.go 的 flag 填充
type Config struct {
	Addr     string // TCP 监听地址
	HTTPAddr string // WebSocket + 管理接口地址，空则不启动

	Workers        int           // I/O 工作协程数
	ReadBufferSize int           // 每连接单次读缓冲
	SendTimeout    time.Duration // 单次写尝试的期限
	SendRetries    int           // would-block 时的重试次数
	SendRetryDelay time.Duration // 两次重试间的休眠

	TickInterval time.Duration // NPC 模拟周期
	TigerCount   int           // 启动时生成的老虎数量
	SpawnRange   float32       // 初始老虎散布半径
	Seed         int64         // 0 表示按时间播种

	Sim SimConfig
}

// SimConfig NPC 行为参数，可通过 /admin/config 热更新
type SimConfig struct {
	Speed          float32 `json:"speed"`
	ChaseSpeed     float32 `json:"chaseSpeed"`
	ChaseRadius    float32 `json:"chaseRadius"`
	WanderDistance float32 `json:"wanderDistance"`
	WanderMin      float32 `json:"wanderMinSec"`
	WanderMax      float32 `json:"wanderMaxSec"`
	Boundary       float32 `json:"boundary"`
}

const (
	// TicksPerSecond NPC 模拟频率（10 TPS，和客户端 100ms 插值窗口对齐）
	TicksPerSecond = 10
	// DefaultPort 默认 TCP 端口
	DefaultPort = 5000
)

// DefaultSimConfig 默认 NPC 参数
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Speed:          50,
		ChaseSpeed:     50,
		ChaseRadius:    200,
		WanderDistance: 100,
		WanderMin:      3,
		WanderMax:      7,
		Boundary:       1000,
	}
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Addr:           ":5000",
		HTTPAddr:       ":8080",
		Workers:        2 * runtime.NumCPU(),
		ReadBufferSize: 1024,
		SendTimeout:    20 * time.Millisecond,
		SendRetries:    3,
		SendRetryDelay: 5 * time.Millisecond,
		TickInterval:   time.Second / TicksPerSecond,
		TigerCount:     5,
		SpawnRange:     300,
		Sim:            DefaultSimConfig(),
	}
}

// normalize 补齐零值字段
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.SendRetries < 0 {
		c.SendRetries = 0
	}
	if c.SendRetryDelay <= 0 {
		c.SendRetryDelay = d.SendRetryDelay
	}
	if c.TickInterval < d.TickInterval {
		// 不快于 10Hz
		c.TickInterval = d.TickInterval
	}
	if c.TigerCount < 0 {
		c.TigerCount = 0
	}
	c.Sim = c.Sim.normalize()
	return c
}

func (s SimConfig) normalize() SimConfig {
	d := DefaultSimConfig()
	if s.Speed <= 0 {
		s.Speed = d.Speed
	}
	if s.ChaseSpeed <= 0 {
		s.ChaseSpeed = s.Speed
	}
	if s.ChaseRadius <= 0 {
		s.ChaseRadius = d.ChaseRadius
	}
	if s.WanderDistance <= 0 {
		s.WanderDistance = d.WanderDistance
	}
	if s.WanderMin <= 0 {
		s.WanderMin = d.WanderMin
	}
	if s.WanderMax < s.WanderMin {
		s.WanderMax = s.WanderMin
	}
	if s.Boundary <= 0 {
		s.Boundary = d.Boundary
	}
	return s
}
