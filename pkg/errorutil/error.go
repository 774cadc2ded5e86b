package errorutil

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind int

const (
	// KindUnknown 未分类错误
	KindUnknown Kind = iota
	// KindTransportUnavailable Broker 不可达
	KindTransportUnavailable
	// KindMalformedEnvelope 消息反序列化失败
	KindMalformedEnvelope
	// KindHandlerFailure 业务 Handler 返回错误或 panic
	KindHandlerFailure
	// KindConfiguration 参数或配置错误，同步返回给调用方
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindTransportUnavailable:
		return "transport_unavailable"
	case KindMalformedEnvelope:
		return "malformed_envelope"
	case KindHandlerFailure:
		return "handler_failure"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error 错误结构（包含分类与可重试标记）
type Error struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	DevDetails string `json:"dev_details,omitempty"`
	cause      error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap 支持 errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.cause
}

// Is 同 Kind 的 *Error 视为相等，便于 errors.Is(err, errorutil.ErrConfiguration)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.cause == nil
}

// 哨兵错误，仅用于 errors.Is 比较
var (
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable}
	ErrMalformedEnvelope    = &Error{Kind: KindMalformedEnvelope}
	ErrHandlerFailure       = &Error{Kind: KindHandlerFailure}
	ErrConfiguration        = &Error{Kind: KindConfiguration}
)

// Configuration 创建配置错误
func Configuration(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Message: fmt.Sprintf(format, args...),
	}
}

// Transport 包装 Broker 不可达错误（可重试）
func Transport(message string, err error) *Error {
	return &Error{
		Kind:      KindTransportUnavailable,
		Message:   message,
		Retryable: true,
		cause:     err,
	}
}

// Malformed 包装反序列化失败（不可重试）
func Malformed(message string, err error) *Error {
	return &Error{
		Kind:    KindMalformedEnvelope,
		Message: message,
		cause:   err,
	}
}

// HandlerFailure 包装业务 Handler 错误，stack 记录在 DevDetails 中
func HandlerFailure(err error, stack string) *Error {
	if stack == "" && err != nil {
		stack = fmt.Sprintf("%+v", err)
	}
	msg := "handler failed"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Kind:       KindHandlerFailure,
		Message:    msg,
		Retryable:  true,
		DevDetails: stack,
	}
}

// KindOf 返回错误分类，非 *Error 返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Wrap 包装错误（已是 *Error 直接返回）
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return &Error{
		Kind:       KindUnknown,
		Message:    err.Error(),
		DevDetails: fmt.Sprintf("%+v", err),
	}
}
