package queue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"oip/mq/internal/metrics"
	"oip/mq/pkg/config"
	"oip/mq/pkg/errorutil"
	broker "oip/mq/pkg/infra/redis"
	"oip/mq/pkg/logger"
)

// drainPollInterval Shutdown 检查 in-flight 是否清空的间隔
const drainPollInterval = 50 * time.Millisecond

// DeadLetterSink 死信旁路（如 MySQL 归档），失败只记录日志
type DeadLetterSink interface {
	Record(ctx context.Context, topic string, entry *DeadLetter) error
}

// Option Manager 可选依赖
type Option func(*Manager)

// WithMetrics 注入 Prometheus 计数器
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithDeadLetterSink 注入死信旁路
func WithDeadLetterSink(s DeadLetterSink) Option {
	return func(mgr *Manager) { mgr.sink = s }
}

// subscription 已订阅 Topic 的 handler 与 active-id 集合
type subscription struct {
	topic   *Topic
	handler Handler

	mu     sync.Mutex
	active map[string]struct{}
}

func (s *subscription) add(id string) {
	s.mu.Lock()
	s.active[id] = struct{}{}
	s.mu.Unlock()
}

func (s *subscription) release(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

func (s *subscription) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Manager 队列的生命周期管理者：Topic 注册、订阅、调度循环、关闭
type Manager struct {
	conn    *broker.Conn
	rdb     *redis.Client
	cfg     config.QueueConfig
	logger  logger.Logger
	metrics *metrics.Metrics
	sink    DeadLetterSink

	mu     sync.RWMutex
	topics map[string]*Topic
	subs   map[string]*subscription

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	running    *atomic.Bool
	closed     *atomic.Bool

	// handler 使用独立的 context：Stop 不取消 in-flight，Shutdown 超时后才取消
	handlerCtx    context.Context
	handlerCancel context.CancelFunc

	now func() time.Time
}

// New 创建 Manager 并声明配置中的 Topic
func New(conn *broker.Conn, cfg config.QueueConfig, log logger.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errorutil.Configuration("invalid queue config: %v", err)
	}

	handlerCtx, handlerCancel := context.WithCancel(context.Background())
	m := &Manager{
		conn:          conn,
		rdb:           conn.Client(),
		cfg:           cfg,
		logger:        log,
		topics:        make(map[string]*Topic),
		subs:          make(map[string]*subscription),
		running:       atomic.NewBool(false),
		closed:        atomic.NewBool(false),
		handlerCtx:    handlerCtx,
		handlerCancel: handlerCancel,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, tc := range cfg.Topics {
		kind, _ := ParseKind(tc.Kind)
		if err := m.DeclareTopic(Topic{
			Name:        tc.Name,
			Kind:        kind,
			Concurrency: tc.Concurrency,
			MaxAttempts: tc.MaxAttempts,
		}); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// DeclareTopic 声明 Topic。Kind 一经声明不可变更；重复声明相同定义是幂等的。
func (m *Manager) DeclareTopic(t Topic) error {
	if !validTopicName(t.Name) {
		return errorutil.Configuration("invalid topic name %q", t.Name)
	}
	if t.Kind != KindFIFO && t.Kind != KindPriority {
		return errorutil.Configuration("topic %s: unknown kind %d", t.Name, t.Kind)
	}
	if t.Concurrency < 0 || t.MaxAttempts < 0 {
		return errorutil.Configuration("topic %s: concurrency and max attempts must not be negative", t.Name)
	}
	if t.Concurrency == 0 {
		t.Concurrency = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.topics[t.Name]; ok {
		if *existing != t {
			return errorutil.Configuration("topic %s already declared as %s/concurrency=%d/max_attempts=%d",
				t.Name, existing.Kind, existing.Concurrency, existing.MaxAttempts)
		}
		return nil
	}
	m.topics[t.Name] = &t
	return nil
}

// Topics 已声明的 Topic 名称
func (m *Manager) Topics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.topics))
	for name := range m.topics {
		names = append(names, name)
	}
	return names
}

func (m *Manager) topic(name string) (*Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[name]
	if !ok {
		return nil, errorutil.Configuration("unknown topic %q", name)
	}
	return t, nil
}

func (m *Manager) topicList() []*Topic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Topic, 0, len(m.topics))
	for _, t := range m.topics {
		list = append(list, t)
	}
	return list
}

func (m *Manager) subscriptions() []*subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		list = append(list, s)
	}
	return list
}

// Subscribe 注册 handler 并启动调度循环（已运行则不重复启动）
func (m *Manager) Subscribe(topic string, handler Handler) error {
	if handler == nil {
		return errorutil.Configuration("topic %s: nil handler", topic)
	}
	if m.closed.Load() {
		return errorutil.Configuration("manager is shut down")
	}
	t, err := m.topic(topic)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.subs[topic]; ok {
		m.mu.Unlock()
		return errorutil.Configuration("topic %s already has a handler", topic)
	}
	m.subs[topic] = &subscription{
		topic:   t,
		handler: handler,
		active:  make(map[string]struct{}),
	}
	m.mu.Unlock()

	m.logger.Infof(logger.WithTopic(context.Background(), topic),
		"[Manager] subscribed, kind=%s concurrency=%d", t.Kind, t.Concurrency)

	return m.Start()
}

// Unsubscribe 移除 handler 与 active-id 跟踪，不影响其他 Topic
func (m *Manager) Unsubscribe(topic string) {
	m.mu.Lock()
	_, ok := m.subs[topic]
	delete(m.subs, topic)
	m.mu.Unlock()

	if ok {
		m.logger.Infof(logger.WithTopic(context.Background(), topic), "[Manager] unsubscribed")
	}
}

// Start 启动共享调度循环，幂等
func (m *Manager) Start() error {
	if m.closed.Load() {
		return errorutil.Configuration("manager is shut down")
	}

	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.loopCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.loopCancel = cancel
	m.loopDone = done
	m.running.Store(true)

	go m.loop(ctx, done)
	m.logger.Infof(ctx, "[Manager] tick loop started, interval=%v", m.cfg.TickInterval)
	return nil
}

// Running 调度循环是否在运行
func (m *Manager) Running() bool {
	return m.running.Load()
}

// Stop 停止调度循环：不再 claim 新消息，in-flight handler 继续执行
func (m *Manager) Stop() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.loopCancel == nil {
		return
	}

	m.loopCancel()
	<-m.loopDone
	m.loopCancel = nil
	m.loopDone = nil
	m.running.Store(false)
	m.logger.Infof(context.Background(), "[Manager] tick loop stopped")
}

func (m *Manager) activeTotal() int {
	total := 0
	for _, s := range m.subscriptions() {
		total += s.size()
	}
	return total
}

// Shutdown Stop 后等待 in-flight 清空（最多 shutdown_timeout 或 ctx 结束），再关闭 Broker 连接
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CAS(false, true) {
		return nil
	}
	m.logger.Infof(ctx, "[Manager] Began to close")

	m.Stop()

	deadline := time.NewTimer(m.cfg.ShutdownTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(drainPollInterval)
	defer poll.Stop()

drain:
	for {
		remaining := m.activeTotal()
		if remaining == 0 {
			break
		}
		select {
		case <-poll.C:
		case <-deadline.C:
			m.logger.Warnf(ctx, "[Manager] shutdown timeout after %v, %d handlers still running",
				m.cfg.ShutdownTimeout, remaining)
			break drain
		case <-ctx.Done():
			m.logger.Warnf(ctx, "[Manager] shutdown aborted: %v, %d handlers still running",
				ctx.Err(), remaining)
			break drain
		}
	}

	m.handlerCancel()
	if err := m.conn.Close(); err != nil {
		return err
	}
	m.logger.Infof(ctx, "[Manager] Shutdown complete")
	return nil
}

// brokerErr 记录连接状态，并把裸的 Broker 错误包装为 TransportUnavailable
func (m *Manager) brokerErr(ctx context.Context, err error) error {
	if errorutil.KindOf(err) != errorutil.KindUnknown {
		return err
	}
	m.conn.Observe(ctx, err)
	return errorutil.Transport("broker operation failed", err)
}
