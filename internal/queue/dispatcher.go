package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/redis/go-redis/v9"

	"oip/mq/pkg/errorutil"
	"oip/mq/pkg/logger"
)

// loop 共享调度循环：每个 tick 先提升延迟消息，再为每个已订阅 Topic 执行一轮 claim
func (m *Manager) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	// 断连期间暂停调度，每个 tick 用 PING 探测恢复
	if !m.conn.Connected() {
		if err := m.conn.Ping(ctx); err != nil {
			return
		}
	}

	m.promoteAll(ctx)
	for _, sub := range m.subscriptions() {
		if ctx.Err() != nil {
			return
		}
		m.dispatch(ctx, sub)
	}
}

// dispatch 为单个 Topic claim 最多 concurrency - active 条消息
func (m *Manager) dispatch(ctx context.Context, sub *subscription) {
	t := sub.topic
	free := t.Concurrency - sub.size()
	if free <= 0 {
		return
	}

	tctx := logger.WithTopic(ctx, t.Name)
	for i := 0; i < free; i++ {
		raw, err := m.claim(tctx, t)
		if errors.Is(err, redis.Nil) {
			return
		}
		if err != nil {
			if !m.conn.Observe(tctx, err) {
				m.logger.Errorf(tctx, "[Dispatcher] claim failed: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			m.metrics.Malformed(t.Name)
			m.logger.Errorf(tctx, "[Dispatcher] dropping entry: %v", errorutil.Malformed("decode pending entry", err))
			continue
		}
		m.start(tctx, sub, &env)
	}
}

// claim 从 pending 头部取出一条：FIFO LPOP，priority ZPOPMIN（score 最小即 priority 最高）
func (m *Manager) claim(ctx context.Context, t *Topic) (string, error) {
	if t.Kind == KindFIFO {
		return m.rdb.LPop(ctx, pendingKey(t.Name)).Result()
	}

	zs, err := m.rdb.ZPopMin(ctx, pendingKey(t.Name), 1).Result()
	if err != nil {
		return "", err
	}
	if len(zs) == 0 {
		return "", redis.Nil
	}
	member, ok := zs[0].Member.(string)
	if !ok {
		return "", fmt.Errorf("unexpected member type %T", zs[0].Member)
	}
	return member, nil
}

// start attempts 唯一的自增点；写 in-flight 标记后异步执行 handler，不阻塞 tick
func (m *Manager) start(ctx context.Context, sub *subscription, env *Envelope) {
	t := sub.topic
	env.Attempts++
	key := processingKey(t.Name, env.ID)

	ctx = logger.WithMessage(ctx, env.ID, env.Attempts)
	if raw, err := json.Marshal(env); err == nil {
		if err := m.rdb.Set(ctx, key, raw, m.cfg.VisibilityTimeout).Err(); err != nil {
			// 消息已出队，标记写失败也继续执行，避免丢失
			m.conn.Observe(ctx, err)
			m.logger.Warnf(ctx, "[Dispatcher] write in-flight marker failed: %v", err)
		}
	}

	sub.add(env.ID)
	m.metrics.Dispatched(t.Name)
	go m.invoke(sub, env, key)
}

// invoke 执行 handler 并完成结算；无论结果如何最终都会从 active 集合移除
func (m *Manager) invoke(sub *subscription, env *Envelope, key string) {
	t := sub.topic
	defer sub.release(env.ID)

	ctx := logger.WithMessage(logger.WithTopic(m.handlerCtx, t.Name), env.ID, env.Attempts)
	startTime := time.Now()

	hb := m.startHeartbeat(ctx, key)
	herr := m.call(ctx, sub.handler, env)
	hb.stop()

	// 结算不受 handler context 取消影响
	settleCtx := context.WithoutCancel(ctx)
	if err := m.rdb.Del(settleCtx, key).Err(); err != nil {
		m.conn.Observe(settleCtx, err)
		m.logger.Warnf(settleCtx, "[Dispatcher] delete in-flight marker failed: %v", err)
	}

	if herr == nil {
		m.metrics.Completed(t.Name)
		m.logger.Debugf(settleCtx, "[Dispatcher] message processed, duration=%v", time.Since(startTime))
		return
	}
	m.handleFailure(settleCtx, t, env, herr)
}

// call 调用 handler 并捕获 panic。handler 拿到的是副本，修改不影响结算。
func (m *Manager) call(ctx context.Context, h Handler, env *Envelope) (herr *errorutil.Error) {
	defer func() {
		if r := recover(); r != nil {
			herr = errorutil.HandlerFailure(fmt.Errorf("handler panic: %v", r), string(debug.Stack()))
		}
	}()

	c := *env
	if err := h(ctx, &c); err != nil {
		return errorutil.HandlerFailure(err, "")
	}
	return nil
}
