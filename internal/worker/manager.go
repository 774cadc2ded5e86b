package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/atomic"

	"oip/mq/internal/domains"
	"oip/mq/internal/metrics"
	"oip/mq/internal/queue"
	"oip/mq/internal/server/handlers/health"
	"oip/mq/internal/server/handlers/topic"
	"oip/mq/internal/server/routers"
	"oip/mq/pkg/config"
	"oip/mq/pkg/infra/mysql"
	broker "oip/mq/pkg/infra/redis"
	"oip/mq/pkg/logger"
)

// Manager 接口
type Manager interface {
	Start() error
	Shutdown()
}

// ManagerInstance 进程生命周期：Broker 连接、队列、Worker、管理 API
type ManagerInstance struct {
	ctx        context.Context
	cfg        *config.Config
	conn       *broker.Conn
	queue      *queue.Manager
	archive    *mysql.DeadLetterDAO
	server     *http.Server
	listener   net.Listener
	workers    []Worker
	closing    *atomic.Bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	logger     logger.Logger
}

// NewManagerInstance 创建 Manager
func NewManagerInstance(cfg *config.Config, log logger.Logger) (Manager, error) {
	return newManagerInstance(cfg, log)
}

func newManagerInstance(cfg *config.Config, log logger.Logger) (*ManagerInstance, error) {
	ctx := context.Background()

	// 1. Broker 连接（PING 失败以 Disconnected 启动，由调度循环恢复）
	conn := broker.Dial(ctx, broker.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log)

	// 2. 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []queue.Option{queue.WithMetrics(metrics.New(reg))}

	// 3. 死信归档（可选）
	var archive *mysql.DeadLetterDAO
	if cfg.MySQL.DSN != "" {
		dao, err := mysql.NewDeadLetterDAO(cfg.MySQL.DSN)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to create dead letter archive: %w", err)
		}
		if err := dao.AutoMigrate(ctx); err != nil {
			_ = dao.Close()
			_ = conn.Close()
			return nil, err
		}
		archive = dao
		opts = append(opts, queue.WithDeadLetterSink(dao))
		log.Infof(ctx, "[Manager] dead letter archive enabled")
	}

	// 4. 队列
	qm, err := queue.New(conn, cfg.Queue, log, opts...)
	if err != nil {
		if archive != nil {
			_ = archive.Close()
		}
		_ = conn.Close()
		return nil, err
	}
	reg.MustRegister(metrics.NewDepthCollector(depthReader(qm)))

	// 5. 管理 API
	router := routers.SetupRoutes(topic.NewTopicHandler(qm), health.NewHealthHandler(qm), reg, log)
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	conn.OnStateChange(func(from, to broker.State) {
		log.Infof(ctx, "[Manager] broker %s -> %s, dispatcher running=%v", from, to, qm.Running())
	})

	return &ManagerInstance{
		ctx:        ctx,
		cfg:        cfg,
		conn:       conn,
		queue:      qm,
		archive:    archive,
		server:     server,
		closing:    atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
		workers:    make([]Worker, 0),
		logger:     log,
	}, nil
}

// depthReader Prometheus scrape 时读取各 Topic 深度，失败的 Topic 跳过
func depthReader(qm *queue.Manager) metrics.DepthReader {
	return func(ctx context.Context) map[string]metrics.TopicDepth {
		out := make(map[string]metrics.TopicDepth)
		for _, name := range qm.Topics() {
			d, err := qm.Depth(ctx, name)
			if err != nil {
				continue
			}
			out[name] = metrics.TopicDepth{
				Pending:    d.Pending,
				Delayed:    d.Delayed,
				Processing: d.Processing,
				Failed:     d.Failed,
			}
		}
		return out
	}
}

// Start 启动 Manager，阻塞直到 Shutdown 完成
func (m *ManagerInstance) Start() error {
	m.logger.Infof(m.ctx, "[Manager] Starting...")

	// 1. 加载所有 Worker
	if err := m.loadWorkers(); err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}

	// 2. 订阅（第一个订阅启动共享调度循环）
	for _, w := range m.workers {
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start worker %s: %w", w.GetName(), err)
		}
	}
	m.logger.Infof(m.ctx, "[Manager] All workers started, count: %d", len(m.workers))

	// 3. 管理 API
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.server.Addr, err)
	}
	m.mu.Lock()
	m.listener = ln
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Errorf(m.ctx, "[Manager] admin server stopped: %v", err)
		}
	}()
	m.logger.Infof(m.ctx, "[Manager] Start success, admin API on %s", ln.Addr())

	// 4. 阻塞等待退出信号
	<-m.shutdownCh

	return nil
}

// Addr 管理 API 实际监听地址，Start 之前为空
func (m *ManagerInstance) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Shutdown 优雅退出
func (m *ManagerInstance) Shutdown() {
	m.logger.Infof(m.ctx, "[Manager] Began to close")

	// 原子操作，保证并发安全
	if !m.closing.CAS(false, true) {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.Queue.ShutdownTimeout+5*time.Second)
	defer cancel()

	// 1. 停止接收管理请求
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warnf(ctx, "[Manager] admin server shutdown: %v", err)
	}
	m.wg.Wait()

	// 2. 停止调度并等待 in-flight，随后关闭 Broker 连接
	if err := m.queue.Shutdown(ctx); err != nil {
		m.logger.Errorf(ctx, "[Manager] queue shutdown: %v", err)
	}

	// 3. 移除订阅
	for _, w := range m.workers {
		w.Shutdown()
	}

	// 4. 关闭归档连接
	if m.archive != nil {
		if err := m.archive.Close(); err != nil {
			m.logger.Warnf(ctx, "[Manager] archive close: %v", err)
		}
	}

	// 5. 关闭信号通道
	close(m.shutdownCh)

	m.logger.Infof(ctx, "[Manager] Shutdown complete")
}

// loadWorkers 为配置了 handler 的 Topic 创建 Worker
func (m *ManagerInstance) loadWorkers() error {
	for _, tc := range m.cfg.Queue.Topics {
		if tc.Handler == "" {
			m.logger.Infof(logger.WithTopic(m.ctx, tc.Name), "[Manager] topic declared without handler")
			continue
		}

		var pre []domains.ProcessorFunc
		if tc.Strict {
			pre = append(pre, domains.RequireJSONObject)
		}
		handler, err := domains.GetProcess(m.logger, tc.Handler, pre...)
		if err != nil {
			return fmt.Errorf("topic %s: %w", tc.Name, err)
		}

		name := tc.Name + "/" + tc.Handler
		m.workers = append(m.workers, NewWorkerInstance(m.ctx, name, tc.Name, handler, m.queue, m.logger))
	}
	return nil
}
