package server

import "time"

// StartTicker 启动 NPC Tick 循环（单协程推进模拟）
func (s *Server) StartTicker() {
	if !s.tickerStarted.CompareAndSwap(false, true) {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-s.ctx.Done():
				return
			case now := <-ticker.C:
				// 核心循环：推进老虎 → 逐只广播
				dt := now.Sub(last).Seconds()
				last = now
				start := time.Now()
				s.b.TickTigers(float32(dt))
				s.tickSeq.Add(1)
				s.metrics.AddTick(time.Since(start).Nanoseconds())
			}
		}
	}()
}
