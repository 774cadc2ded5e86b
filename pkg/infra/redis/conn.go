package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"oip/mq/pkg/errorutil"
	"oip/mq/pkg/logger"
)

// State Broker 连接状态
type State int32

const (
	// StateConnected 最近一次操作成功
	StateConnected State = iota
	// StateDisconnected 最近一次操作遇到网络/服务端故障
	StateDisconnected
	// StateClosed 已主动关闭
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateListener 状态变更回调
type StateListener func(old, new State)

// Conn 进程内共享的唯一 Broker 连接
type Conn struct {
	client    *redis.Client
	state     *atomic.Int32
	logger    logger.Logger
	mu        sync.RWMutex
	listeners []StateListener
}

// Options 连接参数
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Dial 创建连接并 PING 一次。PING 失败不会返回错误，连接以 Disconnected 状态启动，
// 之后由调度循环探测恢复。
func Dial(ctx context.Context, opts Options, log logger.Logger) *Conn {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	c := NewConn(client, log)
	if err := c.Ping(ctx); err != nil {
		log.Errorf(ctx, "[Broker] initial ping to %s failed: %v", opts.Addr, err)
	}
	return c
}

// NewConn 包装已有的 redis.Client
func NewConn(client *redis.Client, log logger.Logger) *Conn {
	return &Conn{
		client: client,
		state:  atomic.NewInt32(int32(StateConnected)),
		logger: log,
	}
}

// Client 返回底层 redis.Client
func (c *Conn) Client() *redis.Client {
	return c.client
}

// State 当前状态
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Connected 是否处于可用状态
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// OnStateChange 注册状态变更回调
func (c *Conn) OnStateChange(fn StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Ping 探测 Broker，并根据结果更新状态
func (c *Conn) Ping(ctx context.Context) error {
	err := c.client.Ping(ctx).Err()
	c.Observe(ctx, err)
	if err != nil {
		return errorutil.Transport("broker ping failed", err)
	}
	return nil
}

// Observe 根据一次 Broker 操作的结果更新状态。redis.Nil 与 context 取消不算故障。
// 返回 err 是否为传输层故障。
func (c *Conn) Observe(ctx context.Context, err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		c.transition(ctx, StateConnected, nil)
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) && !isConnectivityError(redisErr) {
		// 命令级错误（如 WRONGTYPE），连接本身是好的
		return false
	}
	c.transition(ctx, StateDisconnected, err)
	return true
}

// isConnectivityError 服务端返回但意味着暂时不可用的错误
func isConnectivityError(err redis.Error) bool {
	msg := err.Error()
	for _, prefix := range []string{"LOADING", "READONLY", "MASTERDOWN", "CLUSTERDOWN", "TRYAGAIN"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func (c *Conn) transition(ctx context.Context, to State, cause error) {
	for {
		from := State(c.state.Load())
		if from == StateClosed {
			return
		}
		if from == to {
			if cause != nil {
				c.logger.Debugf(ctx, "[Broker] still disconnected: %v", cause)
			}
			return
		}
		if c.state.CAS(int32(from), int32(to)) {
			if to == StateDisconnected {
				c.logger.Errorf(ctx, "[Broker] connection lost: %v", cause)
			} else {
				c.logger.Infof(ctx, "[Broker] connection restored")
			}
			c.notify(from, to)
			return
		}
	}
}

func (c *Conn) notify(from, to State) {
	c.mu.RLock()
	listeners := make([]StateListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(from, to)
	}
}

// Close 关闭 Redis 连接
func (c *Conn) Close() error {
	old := State(c.state.Swap(int32(StateClosed)))
	if old == StateClosed {
		return nil
	}
	c.notify(old, StateClosed)
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
