package server

import (
	"sync/atomic"
)

// Metrics 记录服务端运行期的关键指标（用于监控与调试）；nil 接收者安全
type Metrics struct {
	TickCount      int64 // Tick 次数
	TotalTickNs    int64 // Tick 累计耗时（纳秒）
	SessionsTotal  int64 // 累计接入的会话数
	Disconnects    int64 // 累计断开的会话数
	PacketsIn      int64 // 解码成功的入站封包
	PacketsOut     int64 // 成功写出的封包
	BytesOut       int64 // 成功写出的字节
	DecodeErrors   int64 // 被丢弃的畸形封包
	SendRetries    int64 // would-block 重试次数
	SendsAbandoned int64 // 重试耗尽被放弃的封包
	SendFailures   int64 // 致命写错误
}

func (m *Metrics) IncSessions() {
	if m != nil {
		atomic.AddInt64(&m.SessionsTotal, 1)
	}
}

func (m *Metrics) IncDisconnects() {
	if m != nil {
		atomic.AddInt64(&m.Disconnects, 1)
	}
}

func (m *Metrics) IncPacketsIn() {
	if m != nil {
		atomic.AddInt64(&m.PacketsIn, 1)
	}
}

func (m *Metrics) IncDecodeErrors() {
	if m != nil {
		atomic.AddInt64(&m.DecodeErrors, 1)
	}
}

func (m *Metrics) IncSendRetry() {
	if m != nil {
		atomic.AddInt64(&m.SendRetries, 1)
	}
}

func (m *Metrics) IncSendAbandoned() {
	if m != nil {
		atomic.AddInt64(&m.SendsAbandoned, 1)
	}
}

func (m *Metrics) IncSendFailures() {
	if m != nil {
		atomic.AddInt64(&m.SendFailures, 1)
	}
}

func (m *Metrics) AddSent(n int) {
	if m != nil {
		atomic.AddInt64(&m.PacketsOut, 1)
		atomic.AddInt64(&m.BytesOut, int64(n))
	}
}

func (m *Metrics) AddTick(ns int64) {
	if m != nil {
		atomic.AddInt64(&m.TickCount, 1)
		atomic.AddInt64(&m.TotalTickNs, ns)
	}
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":      tick,
		"avg_tick_ms":     avgMs,
		"sessions_total":  atomic.LoadInt64(&m.SessionsTotal),
		"disconnects":     atomic.LoadInt64(&m.Disconnects),
		"packets_in":      atomic.LoadInt64(&m.PacketsIn),
		"packets_out":     atomic.LoadInt64(&m.PacketsOut),
		"bytes_out":       atomic.LoadInt64(&m.BytesOut),
		"decode_errors":   atomic.LoadInt64(&m.DecodeErrors),
		"send_retries":    atomic.LoadInt64(&m.SendRetries),
		"sends_abandoned": atomic.LoadInt64(&m.SendsAbandoned),
		"send_failures":   atomic.LoadInt64(&m.SendFailures),
	}
}
