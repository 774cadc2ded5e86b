package errorutil

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("publish: %w", Configuration("unknown topic %q", "x"))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}
	if errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("configuration error must not match transport")
	}
	if KindOf(err) != KindConfiguration {
		t.Fatalf("kind: %v", KindOf(err))
	}
}

func TestTransportUnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Transport("ping failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("cause should be reachable")
	}
	if !err.Retryable {
		t.Fatalf("transport errors are retryable")
	}
	if err.Error() != "ping failed: dial tcp: refused" {
		t.Fatalf("message: %q", err.Error())
	}
}

func TestHandlerFailureKeepsStack(t *testing.T) {
	e := HandlerFailure(errors.New("boom"), "goroutine 1 [running]")
	if e.Message != "boom" || e.DevDetails != "goroutine 1 [running]" {
		t.Fatalf("unexpected %+v", e)
	}
	e = HandlerFailure(errors.New("boom"), "")
	if e.DevDetails == "" {
		t.Fatalf("stack should default to the formatted error")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil) != nil {
		t.Fatalf("nil in, nil out")
	}
	orig := Malformed("decode", errors.New("bad json"))
	if Wrap(fmt.Errorf("x: %w", orig)) != orig {
		t.Fatalf("wrap should return existing *Error")
	}
	if Wrap(errors.New("plain")).Kind != KindUnknown {
		t.Fatalf("plain errors are unknown")
	}
}
