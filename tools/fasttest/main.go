package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"

	"oip/mq/internal/queue"
	"oip/mq/pkg/config"
	broker "oip/mq/pkg/infra/redis"
	"oip/mq/pkg/logger"
)

var (
	configPath   = flag.String("config", "./config/worker.yaml", "配置文件路径")
	testcasePath = flag.String("testcase", "./tools/fasttest/testcase/cases.json", "测试用例路径")
	inMemory     = flag.Bool("inmem", false, "使用进程内 Redis（不连接配置中的 Broker）")
	timeout      = flag.Duration("timeout", time.Minute, "等待全部用例结束的最长时间")
)

// TestCase 测试用例结构
type TestCase struct {
	Name      string          `json:"name"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	DelayMs   int64           `json:"delay_ms"`
	Priority  int             `json:"priority"`
	FailTimes int             `json:"fail_times"` // handler 前 N 次返回错误
	Expect    string          `json:"expect"`     // completed | dead_lettered
}

// outcome 用例在 handler 侧观察到的结果
type outcome struct {
	mu    sync.Mutex
	calls map[string]int
	done  map[string]bool
}

func main() {
	flag.Parse()

	fmt.Println("========================================")
	fmt.Println("  FastTest - MQ 快速测试工具")
	fmt.Println("========================================")

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Config loaded: %s\n", cfg.App.Name)

	// 2. 加载测试用例
	testCases, err := loadTestCases(*testcasePath)
	if err != nil {
		fmt.Printf("❌ Failed to load test cases: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Loaded %d test cases from %s\n", len(testCases), *testcasePath)

	// 3. 初始化 Broker（根据 inmem 参数决定）
	addr := cfg.Redis.Addr
	if *inMemory {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Printf("❌ Failed to start in-memory redis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Println("⚠️  In-memory mode: using an embedded Redis")
	}

	// 缩短退避，便于快速跑完重试用例
	qcfg := cfg.Queue
	qcfg.TickInterval = 50 * time.Millisecond
	qcfg.BackoffBase = 50 * time.Millisecond
	qcfg.BackoffCap = 200 * time.Millisecond

	ctx := context.Background()
	conn := broker.Dial(ctx, broker.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger.NewNop())
	mgr, err := queue.New(conn, qcfg, logger.NewNop())
	if err != nil {
		fmt.Printf("❌ Failed to create queue: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Shutdown(ctx)

	// 4. 订阅用例涉及的 Topic
	out := &outcome{calls: map[string]int{}, done: map[string]bool{}}
	byID := make(map[string]TestCase, len(testCases))
	subscribed := map[string]bool{}
	for _, tc := range testCases {
		if subscribed[tc.Topic] {
			continue
		}
		subscribed[tc.Topic] = true
		if err := mgr.Subscribe(tc.Topic, out.handler(byID)); err != nil {
			fmt.Printf("❌ Failed to subscribe %s: %v\n", tc.Topic, err)
			os.Exit(1)
		}
	}

	// 5. 发布
	fmt.Println("\n========================================")
	fmt.Println("  Running Test Cases")
	fmt.Println("========================================")

	startTime := time.Now()
	ids := make([]string, len(testCases))
	for i, tc := range testCases {
		id := fmt.Sprintf("fasttest-%d-%d", startTime.UnixNano(), i)
		out.mu.Lock()
		byID[id] = tc
		out.mu.Unlock()

		opts := []queue.PublishOption{queue.WithID(id), queue.WithDelay(time.Duration(tc.DelayMs) * time.Millisecond)}
		if tc.Priority != 0 {
			opts = append(opts, queue.WithPriority(tc.Priority))
		}
		if _, err := mgr.Publish(ctx, tc.Topic, tc.Data, opts...); err != nil {
			fmt.Printf("❌ Publish %q failed: %v\n", tc.Name, err)
			os.Exit(1)
		}
		ids[i] = id
	}

	// 6. 等待结果
	deadline := time.Now().Add(*timeout)
	for time.Now().Before(deadline) && !allSettled(ctx, mgr, testCases, ids, out) {
		time.Sleep(100 * time.Millisecond)
	}

	// 7. 输出测试汇总
	successCount, failureCount := 0, 0
	for i, tc := range testCases {
		got := result(ctx, mgr, tc, ids[i], out)
		out.mu.Lock()
		calls := out.calls[ids[i]]
		out.mu.Unlock()
		fmt.Printf("\n[Test %d/%d] %s (topic=%s)\n", i+1, len(testCases), tc.Name, tc.Topic)
		fmt.Println("----------------------------------------")
		fmt.Printf("  Calls: %d, Result: %s\n", calls, got)
		if got == tc.Expect {
			fmt.Printf("✅ PASSED\n")
			successCount++
		} else {
			fmt.Printf("❌ FAILED: expected %s\n", tc.Expect)
			failureCount++
		}
	}

	fmt.Println("\n========================================")
	fmt.Println("  Test Summary")
	fmt.Println("========================================")
	fmt.Printf("Total: %d\n", len(testCases))
	fmt.Printf("Passed: %d ✅\n", successCount)
	fmt.Printf("Failed: %d ❌\n", failureCount)
	fmt.Printf("⏱️  Duration: %v\n", time.Since(startTime))

	for _, topic := range mgr.Topics() {
		if subscribed[topic] {
			_, _ = mgr.Purge(ctx, topic)
		}
	}

	if failureCount > 0 {
		os.Exit(1)
	}
}

func (o *outcome) handler(byID map[string]TestCase) queue.Handler {
	return func(_ context.Context, env *queue.Envelope) error {
		o.mu.Lock()
		defer o.mu.Unlock()

		tc, ok := byID[env.ID]
		if !ok {
			return nil
		}
		o.calls[env.ID]++
		if o.calls[env.ID] <= tc.FailTimes {
			return fmt.Errorf("injected failure %d/%d", o.calls[env.ID], tc.FailTimes)
		}
		o.done[env.ID] = true
		return nil
	}
}

// result completed | dead_lettered | pending
func result(ctx context.Context, mgr *queue.Manager, tc TestCase, id string, o *outcome) string {
	o.mu.Lock()
	done := o.done[id]
	o.mu.Unlock()
	if done {
		return "completed"
	}

	entries, err := mgr.DeadLetters(ctx, tc.Topic, 0)
	if err == nil {
		for _, e := range entries {
			if e.ID == id {
				return "dead_lettered"
			}
		}
	}
	return "pending"
}

func allSettled(ctx context.Context, mgr *queue.Manager, cases []TestCase, ids []string, o *outcome) bool {
	for i, tc := range cases {
		if result(ctx, mgr, tc, ids[i], o) == "pending" {
			return false
		}
	}
	return true
}

// loadTestCases 从 JSON 文件加载测试用例
func loadTestCases(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read testcase file: %w", err)
	}

	var testCases []TestCase
	if err := json.Unmarshal(data, &testCases); err != nil {
		return nil, fmt.Errorf("failed to unmarshal testcase: %w", err)
	}

	return testCases, nil
}
