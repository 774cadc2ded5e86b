package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"oip/mq/internal/queue"
)

const maxErrorMessageLen = 1024

// DeadLetterDAO 死信归档数据访问对象，实现 queue.DeadLetterSink
type DeadLetterDAO struct {
	db *gorm.DB
}

// NewDeadLetterDAO 创建 DeadLetterDAO 实例
func NewDeadLetterDAO(dsn string) (*DeadLetterDAO, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newDeadLetterDAO(db), nil
}

func newDeadLetterDAO(db *gorm.DB) *DeadLetterDAO {
	return &DeadLetterDAO{
		db: db,
	}
}

// AutoMigrate 创建/更新归档表
func (dao *DeadLetterDAO) AutoMigrate(ctx context.Context) error {
	if err := dao.db.WithContext(ctx).AutoMigrate(&DeadLetterRecord{}); err != nil {
		return fmt.Errorf("failed to migrate dead_letter_records: %w", err)
	}
	return nil
}

// Record 归档一条死信
func (dao *DeadLetterDAO) Record(ctx context.Context, topic string, entry *queue.DeadLetter) error {
	rec := toRecord(topic, entry)
	if err := dao.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to insert dead letter %s: %w", entry.ID, err)
	}
	return nil
}

// ListByTopic 按失败时间倒序查询
func (dao *DeadLetterDAO) ListByTopic(ctx context.Context, topic string, limit int) ([]DeadLetterRecord, error) {
	var records []DeadLetterRecord
	result := dao.db.WithContext(ctx).
		Where("topic = ?", topic).
		Order("failed_at DESC").
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", result.Error)
	}
	return records, nil
}

// Close 关闭数据库连接
func (dao *DeadLetterDAO) Close() error {
	sqlDB, err := dao.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(topic string, entry *queue.DeadLetter) *DeadLetterRecord {
	rec := &DeadLetterRecord{
		Topic:       topic,
		MessageID:   entry.ID,
		Attempts:    entry.Attempts,
		MaxAttempts: entry.MaxAttempts,
		Payload:     datatypes.JSON(entry.Data),
		EnqueuedAt:  entry.CreatedAt,
		FailedAt:    time.Now().UTC(),
	}
	if entry.Error != nil {
		rec.ErrorMessage = entry.Error.Message
		if len(rec.ErrorMessage) > maxErrorMessageLen {
			rec.ErrorMessage = rec.ErrorMessage[:maxErrorMessageLen]
		}
		rec.ErrorStack = entry.Error.Stack
		rec.FailedAt = entry.Error.Time
	}
	return rec
}
