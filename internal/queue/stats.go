package queue

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Depth 各结构的消息数。processing 通过 SCAN 统计 in-flight 标记。
func (m *Manager) Depth(ctx context.Context, topic string) (Depth, error) {
	t, err := m.topic(topic)
	if err != nil {
		return Depth{}, err
	}

	var pending, delayed, failed *redis.IntCmd
	_, err = m.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if t.Kind == KindFIFO {
			pending = pipe.LLen(ctx, pendingKey(topic))
		} else {
			pending = pipe.ZCard(ctx, pendingKey(topic))
		}
		delayed = pipe.ZCard(ctx, delayedKey(topic))
		failed = pipe.LLen(ctx, dlqKey(topic))
		return nil
	})
	if err != nil {
		return Depth{}, m.brokerErr(ctx, err)
	}

	d := Depth{
		Pending: pending.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}
	err = m.scanProcessing(ctx, topic, func(keys []string) error {
		d.Processing += int64(len(keys))
		return nil
	})
	if err != nil {
		return Depth{}, m.brokerErr(ctx, err)
	}
	return d, nil
}

// Health 状态
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// DispatcherInfo 调度器配置快照
type DispatcherInfo struct {
	Running     bool           `json:"running"`
	Concurrency map[string]int `json:"concurrency"`
}

// HealthReport HealthCheck 返回值
type HealthReport struct {
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Broker     string           `json:"broker"`
	Topics     map[string]Depth `json:"topics,omitempty"`
	Dispatcher *DispatcherInfo  `json:"dispatcher,omitempty"`
}

// Healthy 是否健康
func (r HealthReport) Healthy() bool {
	return r.Status == StatusHealthy
}

// HealthCheck PING Broker；成功时附带各 Topic 深度与调度器配置，失败时只报告错误
func (m *Manager) HealthCheck(ctx context.Context) HealthReport {
	if err := m.conn.Ping(ctx); err != nil {
		return HealthReport{
			Status: StatusUnhealthy,
			Error:  err.Error(),
			Broker: m.conn.State().String(),
		}
	}

	report := HealthReport{
		Status: StatusHealthy,
		Broker: m.conn.State().String(),
		Topics: make(map[string]Depth),
		Dispatcher: &DispatcherInfo{
			Running:     m.Running(),
			Concurrency: make(map[string]int),
		},
	}
	for _, t := range m.topicList() {
		d, err := m.Depth(ctx, t.Name)
		if err != nil {
			return HealthReport{
				Status: StatusUnhealthy,
				Error:  err.Error(),
				Broker: m.conn.State().String(),
			}
		}
		report.Topics[t.Name] = d
		report.Dispatcher.Concurrency[t.Name] = t.Concurrency
	}
	return report
}
