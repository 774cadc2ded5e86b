package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"oip/mq/pkg/errorutil"
	"oip/mq/pkg/logger"
)

// priorityStride priority 与到达序号合成 score：score = -priority*stride + seq%stride。
// float64 可精确表示 |priority| <= MaxPriority 的全部组合。
const (
	priorityStride = 1 << 32
	MaxPriority    = 1 << 20
)

// Publish 发布消息并返回 ID。
// 参数/Topic 错误同步返回；Broker 不可达时不返回错误，消息可能永远不会被投递。
func (m *Manager) Publish(ctx context.Context, topic string, payload interface{}, opts ...PublishOption) (string, error) {
	if m.closed.Load() {
		return "", errorutil.Configuration("manager is shut down")
	}
	t, err := m.topic(topic)
	if err != nil {
		return "", err
	}

	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.delay < 0 {
		return "", errorutil.Configuration("delay must not be negative")
	}
	if o.maxAttempts < 0 {
		return "", errorutil.Configuration("max attempts must not be negative")
	}
	if o.priority > MaxPriority || o.priority < -MaxPriority {
		return "", errorutil.Configuration("priority must be within ±%d", MaxPriority)
	}

	data, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	env := &Envelope{
		ID:          o.id,
		Data:        data,
		CreatedAt:   m.now().UTC(),
		MaxAttempts: m.maxAttemptsFor(t, o.maxAttempts),
		Priority:    o.priority,
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if o.delay > 0 {
		env.Delay = delayMillis(o.delay)
	}

	ctx = logger.WithMessage(logger.WithTopic(ctx, topic), env.ID, 0)
	if err := m.enqueue(ctx, t, env); err != nil {
		if m.conn.Observe(ctx, err) {
			m.logger.Debugf(ctx, "[Publisher] broker unavailable, message dropped: %v", err)
		} else {
			m.logger.Errorf(ctx, "[Publisher] enqueue failed: %v", err)
		}
		return env.ID, nil
	}

	m.metrics.Published(topic)
	return env.ID, nil
}

func (m *Manager) maxAttemptsFor(t *Topic, requested int) int {
	switch {
	case requested > 0:
		return requested
	case t.MaxAttempts > 0:
		return t.MaxAttempts
	default:
		return m.cfg.DefaultMaxAttempts
	}
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errorutil.Configuration("payload is not valid JSON")
		}
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errorutil.Configuration("payload is not serializable: %v", err)
	}
	return data, nil
}

// delayMillis 不足 1ms 的正延迟按 1ms 计
func delayMillis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		ms = 1
	}
	return ms
}

// enqueue Publisher 的存储路径，发布、重试、死信重放共用。
// Delay > 0 进入 delayed，否则进入 pending。
func (m *Manager) enqueue(ctx context.Context, t *Topic, env *Envelope) error {
	if env.Delay > 0 {
		at := m.now().Add(time.Duration(env.Delay) * time.Millisecond).UTC()
		env.ProcessAfter = &at
	} else {
		env.ProcessAfter = nil
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return errorutil.Configuration("marshal envelope: %v", err)
	}

	if env.ProcessAfter != nil {
		return m.rdb.ZAdd(ctx, delayedKey(t.Name), redis.Z{
			Score:  float64(env.ProcessAfter.UnixMilli()),
			Member: raw,
		}).Err()
	}
	return m.pushPending(ctx, t, raw, env.Priority)
}

// pushPending FIFO 追加到 list 尾部；priority 按 score 写入 sorted set
func (m *Manager) pushPending(ctx context.Context, t *Topic, raw []byte, priority int) error {
	if t.Kind == KindFIFO {
		return m.rdb.RPush(ctx, pendingKey(t.Name), raw).Err()
	}

	seq, err := m.rdb.Incr(ctx, seqKey(t.Name)).Result()
	if err != nil {
		return err
	}
	return m.rdb.ZAdd(ctx, pendingKey(t.Name), redis.Z{
		Score:  priorityScore(priority, seq),
		Member: raw,
	}).Err()
}

func priorityScore(priority int, seq int64) float64 {
	return float64(-int64(priority))*priorityStride + float64(seq%priorityStride)
}

// scoreMax ZRANGEBYSCORE 的上界
func scoreMax(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
