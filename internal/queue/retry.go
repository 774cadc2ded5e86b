package queue

import (
	"context"
	"encoding/json"
	"time"

	"oip/mq/pkg/errorutil"
)

// Backoff 第 attempts 次失败后的重试延迟：min(ceiling, base * 2^(attempts-1))
func Backoff(base, ceiling time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		if d > ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// handleFailure 在 in-flight 标记删除之后执行：未达上限则延迟重投，否则进入死信
func (m *Manager) handleFailure(ctx context.Context, t *Topic, env *Envelope, herr *errorutil.Error) {
	if env.Attempts < env.MaxAttempts {
		delay := Backoff(m.cfg.BackoffBase, m.cfg.BackoffCap, env.Attempts)
		retry := *env
		retry.Delay = delayMillis(delay)

		if err := m.enqueue(ctx, t, &retry); err != nil {
			m.conn.Observe(ctx, err)
			m.logger.Errorf(ctx, "[Retry] republish failed, message lost: %v (handler error: %s)", err, herr.Message)
			return
		}
		m.metrics.Retried(t.Name)
		m.logger.Warnf(ctx, "[Retry] attempt %d/%d failed: %s, retrying in %v",
			env.Attempts, env.MaxAttempts, herr.Message, delay)
		return
	}

	if !m.cfg.DeadLetter {
		m.logger.Errorf(ctx, "[Retry] attempt %d/%d failed: %s, dead-lettering disabled, message discarded",
			env.Attempts, env.MaxAttempts, herr.Message)
		return
	}

	entry := &DeadLetter{
		Envelope: *env,
		Error: &FailureInfo{
			Message: herr.Message,
			Stack:   herr.DevDetails,
			Time:    m.now().UTC(),
		},
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		m.logger.Errorf(ctx, "[DeadLetter] marshal failed: %v", err)
		return
	}
	if err := m.rdb.RPush(ctx, dlqKey(t.Name), raw).Err(); err != nil {
		m.conn.Observe(ctx, err)
		m.logger.Errorf(ctx, "[DeadLetter] push failed, message lost: %v", err)
		return
	}
	m.metrics.DeadLettered(t.Name)
	m.logger.Errorf(ctx, "[DeadLetter] attempt %d/%d failed: %s, moved to dead-letter queue",
		env.Attempts, env.MaxAttempts, herr.Message)

	if m.sink != nil {
		if err := m.sink.Record(ctx, t.Name, entry); err != nil {
			m.logger.Warnf(ctx, "[DeadLetter] sink record failed: %v", err)
		}
	}
}
