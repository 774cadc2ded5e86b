package queue

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"oip/mq/pkg/errorutil"
	"oip/mq/pkg/logger"
)

// promoteAll 每个 tick 对所有已声明 Topic 执行一次延迟提升
func (m *Manager) promoteAll(ctx context.Context) {
	for _, t := range m.topicList() {
		if _, err := m.promote(ctx, t); err != nil {
			if !m.conn.Observe(ctx, err) {
				m.logger.Errorf(logger.WithTopic(ctx, t.Name), "[Promoter] promote failed: %v", err)
			}
			return
		}
	}
}

// promote 将到期的延迟消息移入 pending，返回移动条数。
// 先 ZREM 再写入 pending：只有 ZREM 成功的一方才写入，多进程并发时也只提升一次。
func (m *Manager) promote(ctx context.Context, t *Topic) (int, error) {
	ctx = logger.WithTopic(ctx, t.Name)

	members, err := m.rdb.ZRangeByScore(ctx, delayedKey(t.Name), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   scoreMax(m.now().UnixMilli()),
		Count: m.cfg.ScanBatch,
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, raw := range members {
		removed, err := m.rdb.ZRem(ctx, delayedKey(t.Name), raw).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			m.metrics.Malformed(t.Name)
			m.logger.Errorf(ctx, "[Promoter] dropping entry: %v", errorutil.Malformed("decode delayed entry", err))
			continue
		}

		if err := m.pushPending(ctx, t, []byte(raw), env.Priority); err != nil {
			return moved, err
		}
		moved++
		m.logger.Debugf(logger.WithMessage(ctx, env.ID, env.Attempts), "[Promoter] released delayed message")
	}
	return moved, nil
}
