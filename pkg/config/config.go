package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Queue  QueueConfig  `mapstructure:"queue"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig 管理 API 配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// MySQLConfig MySQL 配置（为空时不启用死信归档）
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig 队列配置
type QueueConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`        // 调度 tick 间隔
	VisibilityTimeout  time.Duration `mapstructure:"visibility_timeout"`   // in-flight 标记 TTL
	DefaultMaxAttempts int           `mapstructure:"default_max_attempts"` // 默认最大投递次数
	BackoffBase        time.Duration `mapstructure:"backoff_base"`         // 退避基数
	BackoffCap         time.Duration `mapstructure:"backoff_cap"`          // 退避上限
	DeadLetter         bool          `mapstructure:"dead_letter"`          // 是否启用死信队列
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`     // 关闭时等待 in-flight 的最长时间
	ScanBatch          int64         `mapstructure:"scan_batch"`           // SCAN / 延迟提升单批数量
	Topics             []TopicConfig `mapstructure:"topics"`
}

// TopicConfig Topic 配置
type TopicConfig struct {
	Name        string `mapstructure:"name"`
	Kind        string `mapstructure:"kind"`         // fifo | priority
	Concurrency int    `mapstructure:"concurrency"`  // 并发处理上限
	MaxAttempts int    `mapstructure:"max_attempts"` // 0 表示使用默认值
	Handler     string `mapstructure:"handler"`      // HandlerMap 中的名称，为空则只声明不消费
	Strict      bool   `mapstructure:"strict"`       // 只接受 JSON 对象 payload
}

// Defaults 返回默认队列配置
func Defaults() QueueConfig {
	return QueueConfig{
		TickInterval:       time.Second,
		VisibilityTimeout:  30 * time.Second,
		DefaultMaxAttempts: 3,
		BackoffBase:        time.Second,
		BackoffCap:         5 * time.Minute,
		DeadLetter:         true,
		ShutdownTimeout:    30 * time.Second,
		ScanBatch:          100,
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("app.name", "mq")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("server.port", "8080")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("queue.tick_interval", d.TickInterval)
	v.SetDefault("queue.visibility_timeout", d.VisibilityTimeout)
	v.SetDefault("queue.default_max_attempts", d.DefaultMaxAttempts)
	v.SetDefault("queue.backoff_base", d.BackoffBase)
	v.SetDefault("queue.backoff_cap", d.BackoffCap)
	v.SetDefault("queue.dead_letter", d.DeadLetter)
	v.SetDefault("queue.shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("queue.scan_batch", d.ScanBatch)
}

// Load 加载配置文件，MQ_ 前缀的环境变量可覆盖同名配置（如 MQ_REDIS_ADDR）
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	return c.Queue.Validate()
}

// Validate 验证队列配置
func (q *QueueConfig) Validate() error {
	if q.TickInterval <= 0 {
		return fmt.Errorf("queue.tick_interval must be positive")
	}
	if q.VisibilityTimeout <= 0 {
		return fmt.Errorf("queue.visibility_timeout must be positive")
	}
	if q.DefaultMaxAttempts < 1 {
		return fmt.Errorf("queue.default_max_attempts must be at least 1")
	}
	if q.BackoffBase <= 0 || q.BackoffCap < q.BackoffBase {
		return fmt.Errorf("queue.backoff_base must be positive and not exceed queue.backoff_cap")
	}
	if q.ScanBatch <= 0 {
		return fmt.Errorf("queue.scan_batch must be positive")
	}

	seen := make(map[string]struct{}, len(q.Topics))
	for i, t := range q.Topics {
		if t.Name == "" {
			return fmt.Errorf("queue.topics[%d].name is required", i)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("queue.topics[%d]: duplicate topic %q", i, t.Name)
		}
		seen[t.Name] = struct{}{}

		switch t.Kind {
		case "", "fifo", "priority":
		default:
			return fmt.Errorf("queue.topics[%d].kind must be fifo or priority, got %q", i, t.Kind)
		}
		if t.Concurrency < 0 || t.MaxAttempts < 0 {
			return fmt.Errorf("queue.topics[%d]: concurrency and max_attempts must not be negative", i)
		}
	}
	return nil
}
