package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"oip/mq/pkg/config"
	"oip/mq/pkg/errorutil"
	broker "oip/mq/pkg/infra/redis"
	"oip/mq/pkg/logger"
)

func testConfig() config.QueueConfig {
	q := config.Defaults()
	q.TickInterval = 5 * time.Millisecond
	q.VisibilityTimeout = time.Second
	q.BackoffBase = 10 * time.Millisecond
	q.BackoffCap = 40 * time.Millisecond
	q.ShutdownTimeout = time.Second
	return q
}

func newTestManagerWithConfig(t *testing.T, cfg config.QueueConfig, topics ...Topic) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	conn := broker.NewConn(client, logger.NewNop())

	m, err := New(conn, cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for _, topic := range topics {
		if err := m.DeclareTopic(topic); err != nil {
			t.Fatalf("declare %s: %v", topic.Name, err)
		}
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, mr
}

func newTestManager(t *testing.T, topics ...Topic) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	return newTestManagerWithConfig(t, testConfig(), topics...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// recorder 记录 handler 调用
type recorder struct {
	mu    sync.Mutex
	calls []Envelope
}

func (r *recorder) add(env *Envelope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, *env)
	return len(r.calls)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) snapshot() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestNewDeclaresConfiguredTopics(t *testing.T) {
	cfg := testConfig()
	cfg.Topics = []config.TopicConfig{
		{Name: "orders", Kind: "fifo", Concurrency: 2},
		{Name: "goldcard", Kind: "priority", MaxAttempts: 5},
	}
	m, _ := newTestManagerWithConfig(t, cfg)

	orders, err := m.topic("orders")
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if orders.Kind != KindFIFO || orders.Concurrency != 2 {
		t.Fatalf("orders: %+v", orders)
	}
	gold, err := m.topic("goldcard")
	if err != nil {
		t.Fatalf("goldcard: %v", err)
	}
	if gold.Kind != KindPriority || gold.Concurrency != 1 || gold.MaxAttempts != 5 {
		t.Fatalf("goldcard: %+v", gold)
	}
}

func TestDeclareTopicKindIsFixed(t *testing.T) {
	m, _ := newTestManager(t, Topic{Name: "orders"})

	if err := m.DeclareTopic(Topic{Name: "orders", Concurrency: 1}); err != nil {
		t.Fatalf("identical redeclare should succeed: %v", err)
	}
	err := m.DeclareTopic(Topic{Name: "orders", Kind: KindPriority})
	if !errors.Is(err, errorutil.ErrConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}
	for _, name := range []string{"", "a:b", "a*", "with space"} {
		if err := m.DeclareTopic(Topic{Name: name}); err == nil {
			t.Errorf("topic name %q should be rejected", name)
		}
	}
}

func TestSubscribeValidation(t *testing.T) {
	m, _ := newTestManager(t, Topic{Name: "orders"})
	noop := func(context.Context, *Envelope) error { return nil }

	if err := m.Subscribe("missing", noop); !errors.Is(err, errorutil.ErrConfiguration) {
		t.Fatalf("unknown topic: %v", err)
	}
	if err := m.Subscribe("orders", nil); err == nil {
		t.Fatalf("nil handler should be rejected")
	}
	if err := m.Subscribe("orders", noop); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := m.Subscribe("orders", noop); !errors.Is(err, errorutil.ErrConfiguration) {
		t.Fatalf("second handler should be rejected: %v", err)
	}
}

func TestSubscribeStartsSingleLoop(t *testing.T) {
	m, _ := newTestManager(t, Topic{Name: "a"}, Topic{Name: "b"})
	noop := func(context.Context, *Envelope) error { return nil }

	if m.Running() {
		t.Fatalf("loop should not run before subscribe")
	}
	_ = m.Subscribe("a", noop)
	first := m.loopDone
	_ = m.Subscribe("b", noop)
	if !m.Running() || m.loopDone != first {
		t.Fatalf("second subscribe must reuse the running loop")
	}

	m.Stop()
	if m.Running() {
		t.Fatalf("stop should halt the loop")
	}
	m.Stop()
}

func TestUnsubscribeOnlyAffectsOneTopic(t *testing.T) {
	m, _ := newTestManager(t, Topic{Name: "a"}, Topic{Name: "b"})
	ctx := context.Background()

	var ra, rb recorder
	_ = m.Subscribe("a", func(_ context.Context, env *Envelope) error { ra.add(env); return nil })
	_ = m.Subscribe("b", func(_ context.Context, env *Envelope) error { rb.add(env); return nil })
	m.Unsubscribe("a")

	_, _ = m.Publish(ctx, "a", "x")
	_, _ = m.Publish(ctx, "b", "y")

	waitFor(t, 2*time.Second, func() bool { return rb.count() == 1 })
	time.Sleep(30 * time.Millisecond)
	if ra.count() != 0 {
		t.Fatalf("unsubscribed topic was dispatched")
	}
	d, _ := m.Depth(ctx, "a")
	if d.Pending != 1 {
		t.Fatalf("message for unsubscribed topic should stay pending: %+v", d)
	}
}

func TestShutdownDrainsInFlight(t *testing.T) {
	m, _ := newTestManager(t, Topic{Name: "orders"})
	ctx := context.Background()

	release := make(chan struct{})
	var finished recorder
	_ = m.Subscribe("orders", func(_ context.Context, env *Envelope) error {
		<-release
		finished.add(env)
		return nil
	})
	_, _ = m.Publish(ctx, "orders", "slow")
	waitFor(t, 2*time.Second, func() bool { return m.activeTotal() == 1 })

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if finished.count() != 1 {
		t.Fatalf("shutdown returned before in-flight handler finished")
	}
	if m.conn.State() != broker.StateClosed {
		t.Fatalf("broker connection should be closed")
	}
	if _, err := m.Publish(ctx, "orders", "late"); !errors.Is(err, errorutil.ErrConfiguration) {
		t.Fatalf("publish after shutdown: %v", err)
	}
	if err := m.Subscribe("orders", func(context.Context, *Envelope) error { return nil }); err == nil {
		t.Fatalf("subscribe after shutdown should fail")
	}
}

func TestShutdownTimeoutCancelsHandlers(t *testing.T) {
	cfg := testConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond
	m, _ := newTestManagerWithConfig(t, cfg, Topic{Name: "orders"})
	ctx := context.Background()

	cancelled := make(chan struct{})
	_ = m.Subscribe("orders", func(hctx context.Context, _ *Envelope) error {
		<-hctx.Done()
		close(cancelled)
		return hctx.Err()
	})
	_, _ = m.Publish(ctx, "orders", "stuck")
	waitFor(t, 2*time.Second, func() bool { return m.activeTotal() == 1 })

	start := time.Now()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("shutdown waited too long: %v", elapsed)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("handler context was not cancelled after the drain timeout")
	}
}
