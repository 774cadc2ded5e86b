package domains

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"oip/mq/internal/queue"
	"oip/mq/pkg/logger"
)

func TestGetProcessUnknownHandler(t *testing.T) {
	if _, err := GetProcess(logger.NewNop(), "missing"); err == nil {
		t.Fatalf("want error for unknown handler")
	}
}

func TestGetProcessInjectsTraceID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h, err := GetProcess(logger.New(zap.New(core)), "log")
	if err != nil {
		t.Fatalf("get process: %v", err)
	}

	env := &queue.Envelope{ID: "m-1", Data: json.RawMessage(`{"orderId":1}`), MaxAttempts: 3}
	if err := h(context.Background(), env); err != nil {
		t.Fatalf("handler: %v", err)
	}

	entries := logs.FilterMessageSnippet("[LogHandler]").All()
	if len(entries) != 1 || entries[0].ContextMap()["trace_id"] != "m-1" {
		t.Fatalf("log handler entry: %+v", entries)
	}
	if logs.FilterMessageSnippet("Processing complete").Len() != 1 {
		t.Fatalf("duration log missing")
	}
}

func TestPreChecksRejectMessage(t *testing.T) {
	h, _ := GetProcess(logger.NewNop(), "noop", RequireJSONObject)

	if err := h(context.Background(), &queue.Envelope{ID: "a", Data: json.RawMessage(`[1]`)}); err == nil {
		t.Fatalf("array payload should fail the pre-check")
	}
	if err := h(context.Background(), &queue.Envelope{ID: "b", Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("object payload: %v", err)
	}

	stop := errors.New("stop")
	h, _ = GetProcess(logger.NewNop(), "noop", func(context.Context, *queue.Envelope) error { return stop })
	if err := h(context.Background(), &queue.Envelope{ID: "c", Data: json.RawMessage(`{}`)}); !errors.Is(err, stop) {
		t.Fatalf("pre-check error should be wrapped, got %v", err)
	}
}

func TestHandlerMapNames(t *testing.T) {
	for _, name := range []string{"log", "noop"} {
		if _, ok := HandlerMap[name]; !ok {
			t.Errorf("handler %s not registered", name)
		}
	}
}
