package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Published("orders")
	m.DeadLettered("orders")
}

func TestCountersByTopic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Published("orders")
	m.Published("orders")
	m.Retried("claims")

	if got := testutil.ToFloat64(m.published.WithLabelValues("orders")); got != 2 {
		t.Fatalf("published: %v", got)
	}
	if got := testutil.ToFloat64(m.retried.WithLabelValues("claims")); got != 1 {
		t.Fatalf("retried: %v", got)
	}
}

func TestDepthCollector(t *testing.T) {
	c := NewDepthCollector(func(context.Context) map[string]TopicDepth {
		return map[string]TopicDepth{"orders": {Pending: 3, Failed: 1}}
	})
	expected := `
# HELP mq_queue_depth Number of messages per topic and structure.
# TYPE mq_queue_depth gauge
mq_queue_depth{state="delayed",topic="orders"} 0
mq_queue_depth{state="failed",topic="orders"} 1
mq_queue_depth{state="pending",topic="orders"} 3
mq_queue_depth{state="processing",topic="orders"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected)); err != nil {
		t.Fatalf("collect: %v", err)
	}
}
