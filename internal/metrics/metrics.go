package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mq"

// Metrics 队列计数器。nil *Metrics 上的所有方法都是空操作。
type Metrics struct {
	published    *prometheus.CounterVec
	dispatched   *prometheus.CounterVec
	completed    *prometheus.CounterVec
	retried      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	malformed    *prometheus.CounterVec
}

func counter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, []string{"topic"})
}

// New 创建并注册计数器
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published:    counter("messages_published_total", "Messages accepted by Publish."),
		dispatched:   counter("messages_dispatched_total", "Messages claimed and handed to a handler."),
		completed:    counter("messages_completed_total", "Handler invocations that succeeded."),
		retried:      counter("messages_retried_total", "Failed invocations scheduled for another attempt."),
		deadLettered: counter("messages_dead_lettered_total", "Messages that exhausted their attempts."),
		malformed:    counter("messages_malformed_total", "Raw entries dropped because they could not be decoded."),
	}
	reg.MustRegister(m.published, m.dispatched, m.completed, m.retried, m.deadLettered, m.malformed)
	return m
}

// Published Publish 成功写入 Broker
func (m *Metrics) Published(topic string) {
	if m != nil {
		m.published.WithLabelValues(topic).Inc()
	}
}

// Dispatched 消息被 claim 并交给 handler
func (m *Metrics) Dispatched(topic string) {
	if m != nil {
		m.dispatched.WithLabelValues(topic).Inc()
	}
}

// Completed handler 成功返回
func (m *Metrics) Completed(topic string) {
	if m != nil {
		m.completed.WithLabelValues(topic).Inc()
	}
}

// Retried 失败后安排了下一次投递
func (m *Metrics) Retried(topic string) {
	if m != nil {
		m.retried.WithLabelValues(topic).Inc()
	}
}

// DeadLettered 投递次数耗尽进入死信
func (m *Metrics) DeadLettered(topic string) {
	if m != nil {
		m.deadLettered.WithLabelValues(topic).Inc()
	}
}

// Malformed 无法解码而被丢弃的原始条目
func (m *Metrics) Malformed(topic string) {
	if m != nil {
		m.malformed.WithLabelValues(topic).Inc()
	}
}

// TopicDepth 单个 Topic 的深度快照
type TopicDepth struct {
	Pending    int64
	Delayed    int64
	Processing int64
	Failed     int64
}

// DepthReader 在每次 scrape 时调用
type DepthReader func(ctx context.Context) map[string]TopicDepth

type depthCollector struct {
	desc    *prometheus.Desc
	read    DepthReader
	timeout time.Duration
}

// NewDepthCollector 队列深度 Gauge，按 topic/state 打标签
func NewDepthCollector(read DepthReader) prometheus.Collector {
	return &depthCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Number of messages per topic and structure.",
			[]string{"topic", "state"}, nil,
		),
		read:    read,
		timeout: 2 * time.Second,
	}
}

func (c *depthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *depthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	for topic, d := range c.read(ctx) {
		for state, v := range map[string]int64{
			"pending":    d.Pending,
			"delayed":    d.Delayed,
			"processing": d.Processing,
			"failed":     d.Failed,
		} {
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(v), topic, state)
		}
	}
}
