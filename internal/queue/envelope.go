package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope 队列中的最小持久化单元
type Envelope struct {
	ID           string          `json:"id"`
	Data         json.RawMessage `json:"data"`
	CreatedAt    time.Time       `json:"createdAt"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	Delay        int64           `json:"delay,omitempty"` // 毫秒，仅延迟投递时设置
	ProcessAfter *time.Time      `json:"processAfter,omitempty"`
	Priority     int             `json:"priority,omitempty"`
}

// Decode 将 Data 反序列化到 v
func (e *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// FailureInfo 终态失败原因
type FailureInfo struct {
	Message string    `json:"message"`
	Stack   string    `json:"stack"`
	Time    time.Time `json:"time"`
}

// DeadLetter 死信条目：原始 Envelope + 失败原因
type DeadLetter struct {
	Envelope
	Error *FailureInfo `json:"error,omitempty"`
}

// Handler Topic 的消费函数。返回 error 即视为失败，交由重试/死信处理。
type Handler func(ctx context.Context, env *Envelope) error

// Kind Topic 的 pending 结构类型，声明时确定
type Kind int

const (
	// KindFIFO pending 为 list，按到达顺序
	KindFIFO Kind = iota
	// KindPriority pending 为 sorted set，按 priority 降序，同 priority 按到达顺序
	KindPriority
)

func (k Kind) String() string {
	if k == KindPriority {
		return "priority"
	}
	return "fifo"
}

// ParseKind 解析配置中的 kind，空串视为 fifo
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "", "fifo":
		return KindFIFO, true
	case "priority":
		return KindPriority, true
	default:
		return KindFIFO, false
	}
}

// Topic 逻辑队列
type Topic struct {
	Name        string
	Kind        Kind
	Concurrency int // 默认 1
	MaxAttempts int // 0 表示使用全局默认值
}

// Depth 各结构中的消息数量
type Depth struct {
	Pending    int64 `json:"pending"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed"`
}

// PublishOption 发布参数
type PublishOption func(*publishOptions)

type publishOptions struct {
	delay       time.Duration
	maxAttempts int
	priority    int
	id          string
}

// WithDelay 延迟投递
func WithDelay(d time.Duration) PublishOption {
	return func(o *publishOptions) { o.delay = d }
}

// WithMaxAttempts 覆盖最大投递次数
func WithMaxAttempts(n int) PublishOption {
	return func(o *publishOptions) { o.maxAttempts = n }
}

// WithPriority 仅对 priority Topic 生效
func WithPriority(p int) PublishOption {
	return func(o *publishOptions) { o.priority = p }
}

// WithID 指定消息 ID（否则自动生成）
func WithID(id string) PublishOption {
	return func(o *publishOptions) { o.id = id }
}
