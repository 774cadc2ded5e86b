package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"oip/mq/internal/queue"
	"oip/mq/pkg/infra/mysql"
)

func newPublishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <topic>",
		Short: "Publish a message to a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetString("data")
			delay, _ := cmd.Flags().GetDuration("delay")
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			priority, _ := cmd.Flags().GetInt("priority")
			id, _ := cmd.Flags().GetString("id")

			opts := []queue.PublishOption{queue.WithDelay(delay), queue.WithMaxAttempts(maxAttempts)}
			if priority != 0 {
				opts = append(opts, queue.WithPriority(priority))
			}
			if id != "" {
				opts = append(opts, queue.WithID(id))
			}

			return withManager(cmd, func(ctx context.Context, m *queue.Manager) error {
				msgID, err := m.Publish(ctx, args[0], json.RawMessage(data), opts...)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), msgID)
				return nil
			})
		},
	}
	cmd.Flags().StringP("data", "d", "{}", "JSON payload")
	cmd.Flags().Duration("delay", 0, "Deliver no earlier than this delay (e.g. 5s)")
	cmd.Flags().Int("max-attempts", 0, "Override the topic's max attempts")
	cmd.Flags().Int("priority", 0, "Priority for priority topics (higher first)")
	cmd.Flags().String("id", "", "Message id (generated when empty)")
	return cmd
}

func newDepthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "depth <topic>",
		Short: "Show message counts for a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *queue.Manager) error {
				d, err := m.Depth(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
}

func newDLQCommand() *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Dead-letter queue operations",
	}

	listCmd := &cobra.Command{
		Use:   "list <topic>",
		Short: "List dead-lettered messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt64("limit")
			return withManager(cmd, func(ctx context.Context, m *queue.Manager) error {
				entries, err := m.DeadLetters(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
	listCmd.Flags().Int64("limit", 100, "Maximum entries to list (0 for all)")

	retryCmd := &cobra.Command{
		Use:   "retry <topic> <id>",
		Short: "Move a dead-lettered message back to its topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *queue.Manager) error {
				ok, err := m.RetryDeadLettered(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("dead-lettered message %s not found in %s", args[1], args[0])
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "retried:", args[1])
				return nil
			})
		},
	}

	archiveCmd := &cobra.Command{
		Use:   "archive <topic>",
		Short: "List dead letters archived in MySQL, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withArchive(cmd, func(ctx context.Context, dao *mysql.DeadLetterDAO) error {
				records, err := dao.ListByTopic(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), records)
			})
		},
	}
	archiveCmd.Flags().Int("limit", 20, "Maximum records to list")

	dlqCmd.AddCommand(listCmd, retryCmd, archiveCmd)
	return dlqCmd
}

func newPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <topic>",
		Short: "Delete every message of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *queue.Manager) error {
				n, err := m.Purge(ctx, args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "purged:", n)
				return nil
			})
		},
	}
}

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Ping the broker and report per-topic depth",
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return withManager(cmd, func(ctx context.Context, m *queue.Manager) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				report := m.HealthCheck(ctx)
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Healthy() {
					return fmt.Errorf("broker unhealthy: %s", report.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().Duration("timeout", 5*time.Second, "Health check timeout")
	return cmd
}
