package queue

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"oip/mq/pkg/logger"
)

// RetryDeadLettered 将死信中指定 ID 的消息移出，attempts 归零、去掉 error 后按正常发布路径重投。
// 未找到返回 false。
func (m *Manager) RetryDeadLettered(ctx context.Context, topic, id string) (bool, error) {
	t, err := m.topic(topic)
	if err != nil {
		return false, err
	}
	ctx = logger.WithTopic(ctx, topic)

	raws, err := m.rdb.LRange(ctx, dlqKey(topic), 0, -1).Result()
	if err != nil {
		return false, m.brokerErr(ctx, err)
	}

	for _, raw := range raws {
		var entry DeadLetter
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.ID != id {
			continue
		}

		removed, err := m.rdb.LRem(ctx, dlqKey(topic), 1, raw).Result()
		if err != nil {
			return false, m.brokerErr(ctx, err)
		}
		if removed == 0 {
			// 已被其他调用方重放
			return false, nil
		}

		env := entry.Envelope
		env.Attempts = 0
		env.Delay = 0
		env.ProcessAfter = nil
		if err := m.enqueue(ctx, t, &env); err != nil {
			return false, m.brokerErr(ctx, err)
		}

		m.logger.Infof(logger.WithMessage(ctx, id, 0), "[DeadLetter] replayed message")
		return true, nil
	}
	return false, nil
}

// DeadLetters 读取死信队列前 limit 条（limit <= 0 读取全部）
func (m *Manager) DeadLetters(ctx context.Context, topic string, limit int64) ([]DeadLetter, error) {
	if _, err := m.topic(topic); err != nil {
		return nil, err
	}

	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	raws, err := m.rdb.LRange(ctx, dlqKey(topic), 0, stop).Result()
	if err != nil {
		return nil, m.brokerErr(ctx, err)
	}

	entries := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var entry DeadLetter
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			m.logger.Warnf(logger.WithTopic(ctx, topic), "[DeadLetter] skipping malformed entry: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Purge 删除 Topic 在 pending、delayed、in-flight 标记、死信中的全部消息，返回删除条数
func (m *Manager) Purge(ctx context.Context, topic string) (int, error) {
	t, err := m.topic(topic)
	if err != nil {
		return 0, err
	}
	ctx = logger.WithTopic(ctx, topic)

	var pending *redis.IntCmd
	var delayed, failed *redis.IntCmd
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if t.Kind == KindFIFO {
			pending = pipe.LLen(ctx, pendingKey(topic))
		} else {
			pending = pipe.ZCard(ctx, pendingKey(topic))
		}
		delayed = pipe.ZCard(ctx, delayedKey(topic))
		failed = pipe.LLen(ctx, dlqKey(topic))
		pipe.Del(ctx, pendingKey(topic), delayedKey(topic), dlqKey(topic))
		return nil
	})
	if err != nil {
		return 0, m.brokerErr(ctx, err)
	}
	total := pending.Val() + delayed.Val() + failed.Val()

	var markers int64
	err = m.scanProcessing(ctx, topic, func(keys []string) error {
		n, err := m.rdb.Del(ctx, keys...).Result()
		markers += n
		return err
	})
	if err != nil {
		return int(total + markers), m.brokerErr(ctx, err)
	}
	total += markers

	m.logger.Infof(ctx, "[Manager] purged %d messages", total)
	return int(total), nil
}

// scanProcessing 以 SCAN 游标分批遍历 in-flight 标记 key，每批最多 scan_batch 个
func (m *Manager) scanProcessing(ctx context.Context, topic string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, processingPattern(topic), m.cfg.ScanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
