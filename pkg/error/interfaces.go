// Package error 提供 contactperf 各组件共享的带错误码的基础错误类型。
package error

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	// ErrImageLoadFailed 图片资源加载或解码失败，可重试。
	ErrImageLoadFailed ErrorCode = "IMAGE_LOAD_FAILED"
	// ErrObserverCallback 观察者回调在通知过程中失败，已被隔离。
	ErrObserverCallback ErrorCode = "OBSERVER_CALLBACK_FAILED"
	// ErrConfigInvalid 配置无效。
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
	// ErrBeaconInvalid 上报的 beacon 事件无法识别。
	ErrBeaconInvalid ErrorCode = "BEACON_INVALID"
	// ErrInternal 未分类的内部错误。
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// BaseError 基础错误类型
type BaseError struct {
	Code      ErrorCode              `json:"code"`              // 错误的分类代码
	Message   string                 `json:"message"`           // 人类可读的错误信息
	Cause     error                  `json:"-"`                 // 导致此错误的原始错误
	Context   map[string]interface{} `json:"context,omitempty"` // 额外的上下文信息
	Timestamp time.Time              `json:"timestamp"`         // 错误发生的时间戳
}

// NewError 创建新的基础错误
func NewError(code ErrorCode, message string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// WrapError 包装现有错误
func WrapError(code ErrorCode, message string, cause error) *BaseError {
	e := NewError(code, message)
	e.Cause = cause
	return e
}

// Error 实现 error 接口
func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 支持错误包装
func (e *BaseError) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较
func (e *BaseError) Is(target error) bool {
	if t, ok := target.(*BaseError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext 为错误附加一个键值对形式的上下文信息。
func (e *BaseError) WithContext(key string, value interface{}) *BaseError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Coded 由所有携带错误码的错误实现。
type Coded interface {
	ErrorCode() ErrorCode
}

// ErrorCode 返回错误码
func (e *BaseError) ErrorCode() ErrorCode {
	return e.Code
}

// HasCode 判断错误链中是否存在指定错误码。
func HasCode(err error, code ErrorCode) bool {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.ErrorCode() == code
	}
	return false
}
