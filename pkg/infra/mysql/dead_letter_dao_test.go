package mysql

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"oip/mq/internal/queue"
)

type captured struct {
	sql  string
	vars []interface{}
}

func newDryRunDAO(t *testing.T) (*DeadLetterDAO, *captured) {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "mq:mq@tcp(127.0.0.1:3306)/mq?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	c := &captured{}
	capture := func(tx *gorm.DB) {
		c.sql = tx.Statement.SQL.String()
		c.vars = tx.Statement.Vars
	}
	if err := db.Callback().Create().After("gorm:create").Register("test:capture_create", capture); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := db.Callback().Query().After("gorm:query").Register("test:capture_query", capture); err != nil {
		t.Fatalf("register: %v", err)
	}
	return newDeadLetterDAO(db), c
}

func TestRecordInsertsArchiveRow(t *testing.T) {
	dao, c := newDryRunDAO(t)
	failedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entry := &queue.DeadLetter{
		Envelope: queue.Envelope{ID: "c-1", Data: json.RawMessage(`{"claimId":9}`), Attempts: 3, MaxAttempts: 3},
		Error:    &queue.FailureInfo{Message: strings.Repeat("x", 2000), Stack: "trace", Time: failedAt},
	}

	if err := dao.Record(context.Background(), "claims", entry); err != nil {
		t.Fatalf("record: %v", err)
	}
	if !strings.HasPrefix(c.sql, "INSERT INTO `dead_letter_records`") {
		t.Fatalf("sql: %s", c.sql)
	}
	var sawTopic, sawMessage, sawFailedAt bool
	for _, v := range c.vars {
		switch val := v.(type) {
		case string:
			sawTopic = sawTopic || val == "claims"
			sawMessage = sawMessage || len(val) == maxErrorMessageLen
		case time.Time:
			sawFailedAt = sawFailedAt || val.Equal(failedAt)
		}
	}
	if !sawTopic || !sawMessage || !sawFailedAt {
		t.Fatalf("vars: %v", c.vars)
	}
}

func TestListByTopicQuery(t *testing.T) {
	dao, c := newDryRunDAO(t)
	if _, err := dao.ListByTopic(context.Background(), "claims", 20); err != nil {
		t.Fatalf("list: %v", err)
	}
	want := "SELECT * FROM `dead_letter_records` WHERE topic = ? ORDER BY failed_at DESC LIMIT 20"
	if c.sql != want {
		t.Fatalf("sql:\n got %s\nwant %s", c.sql, want)
	}
}

func TestToRecordWithoutFailureInfo(t *testing.T) {
	rec := toRecord("orders", &queue.DeadLetter{Envelope: queue.Envelope{ID: "o-1"}})
	if rec.ErrorMessage != "" || rec.FailedAt.IsZero() || rec.MessageID != "o-1" {
		t.Fatalf("record: %+v", rec)
	}
}
