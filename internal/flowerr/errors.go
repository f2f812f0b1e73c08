package flowerr

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind string

const (
	KindNotFound         Kind = "NOT_FOUND"
	KindSuspended        Kind = "SUSPENDED"
	KindIllegalStatus    Kind = "ILLEGAL_STATUS"
	KindMisconfigured    Kind = "MISCONFIGURED"
	KindNotMultiInstance Kind = "NOT_MULTI_INSTANCE"
	KindEngine           Kind = "ENGINE_ERROR"
	KindConflict         Kind = "CONFLICT"
	KindInvalidArgument  Kind = "INVALID_ARGUMENT"
)

// 固定错误消息
const (
	MessageTaskNotFound = "task does not exist or you are not the assignee"
	MessageSuspended    = "task is suspended and cannot be processed"
)

// Error 流程服务错误,携带机器可读的类别和面向用户的消息
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同类别的错误视为相等,便于 errors.Is(err, flowerr.ErrNotFound) 判断
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// 哨兵错误,仅用于 errors.Is 比较类别
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrSuspended        = &Error{Kind: KindSuspended}
	ErrIllegalStatus    = &Error{Kind: KindIllegalStatus}
	ErrMisconfigured    = &Error{Kind: KindMisconfigured}
	ErrNotMultiInstance = &Error{Kind: KindNotMultiInstance}
	ErrEngine           = &Error{Kind: KindEngine}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
)

// New 创建指定类别的错误
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 使用指定类别包装底层错误
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Suspended() *Error {
	return New(KindSuspended, MessageSuspended)
}

func IllegalStatus(format string, args ...interface{}) *Error {
	return New(KindIllegalStatus, format, args...)
}

func Misconfigured(format string, args ...interface{}) *Error {
	return New(KindMisconfigured, format, args...)
}

func NotMultiInstance() *Error {
	return New(KindNotMultiInstance, "current node is not a multi-instance node")
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return New(KindInvalidArgument, format, args...)
}

// Engine 包装流程引擎返回的不透明错误
func Engine(err error, format string, args ...interface{}) *Error {
	return Wrap(KindEngine, err, format, args...)
}

// KindOf 返回错误类别,非 *Error 的错误视为引擎错误
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindEngine
}

// MessageOf 返回面向用户的错误消息
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsExpected 判断是否为预期内的校验类错误(无需记录堆栈日志)
func IsExpected(err error) bool {
	switch KindOf(err) {
	case KindEngine, "":
		return false
	default:
		return true
	}
}
