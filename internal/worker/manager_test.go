package worker

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"oip/mq/pkg/config"
	"oip/mq/pkg/logger"
)

func testConfig(addr string) *config.Config {
	q := config.Defaults()
	q.TickInterval = 5 * time.Millisecond
	q.ShutdownTimeout = time.Second
	q.Topics = []config.TopicConfig{
		{Name: "orders", Handler: "noop", Concurrency: 2},
		{Name: "claims", Handler: "noop", Strict: true, MaxAttempts: 1},
		{Name: "audit"},
	}
	return &config.Config{
		App:    config.AppConfig{Name: "worker-test"},
		Server: config.ServerConfig{Port: "0"},
		Redis:  config.RedisConfig{Addr: addr},
		Queue:  q,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startManager(t *testing.T) (*ManagerInstance, <-chan error) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := newManagerInstance(testConfig(mr.Addr()), logger.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- m.Start() }()
	waitFor(t, func() bool { return m.Addr() != "" })
	return m, errCh
}

func TestManagerConsumesConfiguredTopics(t *testing.T) {
	m, errCh := startManager(t)
	ctx := context.Background()

	if len(m.workers) != 2 {
		t.Fatalf("topics without handler must not get a worker: %d", len(m.workers))
	}
	if !m.queue.Running() {
		t.Fatalf("dispatcher should be running")
	}

	_, _ = m.queue.Publish(ctx, "orders", map[string]int{"orderId": 1})
	_, _ = m.queue.Publish(ctx, "claims", []int{1})
	waitFor(t, func() bool {
		o, _ := m.queue.Depth(ctx, "orders")
		c, _ := m.queue.Depth(ctx, "claims")
		return o.Pending == 0 && o.Processing == 0 && c.Failed == 1
	})

	m.Shutdown()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Start did not return after Shutdown")
	}
	m.Shutdown()
}

func TestManagerServesAdminAPI(t *testing.T) {
	m, _ := startManager(t)
	defer m.Shutdown()

	resp, err := http.Get("http://" + m.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `mq_queue_depth{state="pending",topic="audit"} 0`) {
		t.Fatalf("depth gauge missing:\n%s", body)
	}

	resp, err = http.Get("http://" + m.Addr() + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}
}

func TestUnknownHandlerFailsStart(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())
	cfg.Queue.Topics = []config.TopicConfig{{Name: "orders", Handler: "missing"}}

	m, err := newManagerInstance(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer m.Shutdown()
	if err := m.Start(); err == nil || !strings.Contains(err.Error(), "handler not found") {
		t.Fatalf("want handler error, got %v", err)
	}
}
