package queue

import (
	"context"
	"time"
)

// heartbeat 与一次 handler 调用一一对应的后台任务，周期性把 in-flight 标记的 TTL 重置为 visibility timeout
type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (m *Manager) startHeartbeat(ctx context.Context, key string) *heartbeat {
	ctx, cancel := context.WithCancel(ctx)
	hb := &heartbeat{cancel: cancel, done: make(chan struct{})}

	interval := m.cfg.VisibilityTimeout / 2
	if interval <= 0 {
		interval = m.cfg.VisibilityTimeout
	}

	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// 续期失败只记录，标记可能因此过期
				if err := m.rdb.PExpire(ctx, key, m.cfg.VisibilityTimeout).Err(); err != nil && ctx.Err() == nil {
					m.conn.Observe(ctx, err)
					m.logger.Debugf(ctx, "[Heartbeat] renew %s failed: %v", key, err)
				}
			}
		}
	}()
	return hb
}

// stop 取消并等待续期协程退出
func (hb *heartbeat) stop() {
	hb.cancel()
	<-hb.done
}
