package queue

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func seedDeadLetter(t *testing.T, m *Manager, topic, id string) {
	t.Helper()
	tp, _ := m.topic(topic)
	env := &Envelope{ID: id, Data: json.RawMessage(`{"claimId":9}`), Attempts: 3, MaxAttempts: 3, Delay: 40}
	m.handleFailure(context.Background(), tp, env, handlerErr("payer rejected"))
}

func TestDeadLetterEntryCarriesFailure(t *testing.T) {
	m, _ := newTestManager(t, Topic{Name: "claims"})
	seedDeadLetter(t, m, "claims", "c-1")

	entries, err := m.DeadLetters(context.Background(), "claims", 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("dead letters: %v %v", entries, err)
	}
	e := entries[0]
	if e.ID != "c-1" || e.Attempts != 3 || e.Error == nil || e.Error.Message != "payer rejected" {
		t.Fatalf("entry: %+v", e)
	}
	if e.Error.Time.IsZero() || e.Error.Stack == "" {
		t.Fatalf("failure info incomplete: %+v", e.Error)
	}
}

func TestRetryDeadLetteredResetsAttempts(t *testing.T) {
	m, mr := newTestManager(t, Topic{Name: "claims"})
	seedDeadLetter(t, m, "claims", "c-1")
	seedDeadLetter(t, m, "claims", "c-2")

	ok, err := m.RetryDeadLettered(context.Background(), "claims", "c-2")
	if err != nil || !ok {
		t.Fatalf("retry: %v %v", ok, err)
	}

	dlq, _ := mr.List(dlqKey("claims"))
	if len(dlq) != 1 || !strings.Contains(dlq[0], `"c-1"`) {
		t.Fatalf("only c-2 should leave the dead-letter queue: %v", dlq)
	}

	items, _ := mr.List(pendingKey("claims"))
	if len(items) != 1 {
		t.Fatalf("pending: %v", items)
	}
	if strings.Contains(items[0], `"error"`) || strings.Contains(items[0], `"processAfter"`) {
		t.Fatalf("replayed entry must not carry failure or delay: %s", items[0])
	}
	var env Envelope
	_ = json.Unmarshal([]byte(items[0]), &env)
	if env.ID != "c-2" || env.Attempts != 0 || env.MaxAttempts != 3 || string(env.Data) != `{"claimId":9}` {
		t.Fatalf("replayed envelope: %+v", env)
	}
}

func TestRetryDeadLetteredUnknownID(t *testing.T) {
	m, _ := newTestManager(t, Topic{Name: "claims"})
	seedDeadLetter(t, m, "claims", "c-1")

	ok, err := m.RetryDeadLettered(context.Background(), "claims", "missing")
	if err != nil || ok {
		t.Fatalf("want false, nil; got %v %v", ok, err)
	}
	if _, err := m.RetryDeadLettered(context.Background(), "nope", "c-1"); err == nil {
		t.Fatalf("unknown topic must error")
	}
}

func TestReplayedMessageIsRedelivered(t *testing.T) {
	m, _ := newTestManager(t, Topic{Name: "claims"})
	seedDeadLetter(t, m, "claims", "c-1")

	rec := &recorder{}
	if err := m.Subscribe("claims", func(_ context.Context, env *Envelope) error {
		rec.add(env)
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if ok, _ := m.RetryDeadLettered(context.Background(), "claims", "c-1"); !ok {
		t.Fatalf("retry failed")
	}
	waitFor(t, 2*time.Second, func() bool { return rec.count() == 1 })
	if got := rec.snapshot()[0]; got.Attempts != 1 {
		t.Fatalf("replay should start from a fresh attempt count, got %d", got.Attempts)
	}
}

func TestDeadLettersLimit(t *testing.T) {
	m, _ := newTestManager(t, Topic{Name: "claims"})
	for _, id := range []string{"a", "b", "c"} {
		seedDeadLetter(t, m, "claims", id)
	}
	entries, err := m.DeadLetters(context.Background(), "claims", 2)
	if err != nil || len(entries) != 2 || entries[0].ID != "a" || entries[1].ID != "b" {
		t.Fatalf("limit: %+v %v", entries, err)
	}
}
