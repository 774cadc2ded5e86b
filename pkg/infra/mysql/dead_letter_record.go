package mysql

import (
	"time"

	"gorm.io/datatypes"
)

// DeadLetterRecord 死信归档记录
type DeadLetterRecord struct {
	ID          uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	Topic       string `gorm:"column:topic;type:varchar(128);not null;index:idx_topic_failed_at"`
	MessageID   string `gorm:"column:message_id;type:varchar(128);not null;index:idx_message_id"`
	Attempts    int    `gorm:"column:attempts;not null"`
	MaxAttempts int    `gorm:"column:max_attempts;not null"`

	Payload datatypes.JSON `gorm:"column:payload;type:json"`

	ErrorMessage string `gorm:"column:error_message;type:varchar(1024)"`
	ErrorStack   string `gorm:"column:error_stack;type:text"`

	// 时间戳
	EnqueuedAt time.Time `gorm:"column:enqueued_at;not null"`
	FailedAt   time.Time `gorm:"column:failed_at;not null;index:idx_topic_failed_at"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName 指定表名
func (DeadLetterRecord) TableName() string {
	return "dead_letter_records"
}
