package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"oip/mq/internal/queue"
	"oip/mq/pkg/config"
	"oip/mq/pkg/infra/mysql"
	broker "oip/mq/pkg/infra/redis"
	"oip/mq/pkg/logger"
)

// NewRoot 构造 queuectl 根命令
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Operate topics on the message queue broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `queuectl talks to the broker directly using the worker configuration.

Commands:
  publish     Publish a message to a topic
  depth       Show pending/delayed/processing/failed counts
  dlq list    List dead-lettered messages
  dlq retry   Move a dead-lettered message back to the topic
  dlq archive List dead letters archived in MySQL (requires mysql.dsn)
  purge       Delete every message of a topic
  health      Ping the broker and report per-topic depth`,
	}
	root.PersistentFlags().StringP("config", "c", "./config/worker.yaml", "Config file path")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log broker activity to stdout")

	root.AddCommand(
		newPublishCommand(),
		newDepthCommand(),
		newDLQCommand(),
		newPurgeCommand(),
		newHealthCommand(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withManager 按配置连接 Broker，执行 fn 后关闭连接。不启动调度循环。
func withManager(cmd *cobra.Command, fn func(ctx context.Context, m *queue.Manager) error) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logger.NewNop()
	if verbose {
		if log, err = logger.NewZapLogger("debug"); err != nil {
			return err
		}
		defer log.Sync()
	}

	ctx := commandContext(cmd)
	conn := broker.Dial(ctx, broker.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log)

	m, err := queue.New(conn, cfg.Queue, log)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _ = m.Shutdown(ctx) }()

	return fn(ctx, m)
}

// withArchive 打开 MySQL 死信归档，执行 fn 后关闭
func withArchive(cmd *cobra.Command, fn func(ctx context.Context, dao *mysql.DeadLetterDAO) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn is not configured, dead letter archive is disabled")
	}

	dao, err := mysql.NewDeadLetterDAO(cfg.MySQL.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = dao.Close() }()

	return fn(commandContext(cmd), dao)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
