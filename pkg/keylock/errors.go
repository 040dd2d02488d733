package keylock

import (
	"context"
	"errors"
)

// =============================================================================
// 预定义错误
// =============================================================================

// 预定义错误，使用 errors.Is 进行比较
var (
	// ErrNotHeld 表示调用方 goroutine 未持有该 key 的锁。
	// Release 在未持有（或已完全释放）时返回此错误，注册表状态不受影响。
	ErrNotHeld = errors.New("keylock: lock not held by calling goroutine")

	// ErrInvalidKey 表示 key 不合法（空字符串）。
	// 在任何注册表操作之前同步拒绝。
	ErrInvalidKey = errors.New("keylock: invalid key")

	// ErrClosed 表示注册表已关闭。
	// Close 后的新获取请求返回此错误；已持有的锁仍可正常 Release。
	ErrClosed = errors.New("keylock: closed")

	// ErrMaxKeysExceeded 表示已达到最大 key 数量限制。
	ErrMaxKeysExceeded = errors.New("keylock: max keys exceeded")

	// ErrInvalidShardCount 表示分片数配置不合法。
	ErrInvalidShardCount = errors.New("keylock: invalid shard count")
)

// =============================================================================
// 错误检查函数
// =============================================================================

// IsNotHeld 检查是否是未持有锁错误。
func IsNotHeld(err error) bool {
	return errors.Is(err, ErrNotHeld)
}

// IsClosed 检查是否是注册表已关闭错误。
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsMaxKeysExceeded 检查是否是 key 数量超限错误。
func IsMaxKeysExceeded(err error) bool {
	return errors.Is(err, ErrMaxKeysExceeded)
}

// =============================================================================
// 错误分类（用于低基数指标）
// =============================================================================

// 错误分类常量
const (
	// ErrClassNotHeld 未持有锁
	ErrClassNotHeld = "not_held"
	// ErrClassInvalidKey 非法 key
	ErrClassInvalidKey = "invalid_key"
	// ErrClassClosed 注册表已关闭
	ErrClassClosed = "closed"
	// ErrClassMaxKeys key 数量超限
	ErrClassMaxKeys = "max_keys_exceeded"
	// ErrClassTimeout 超时
	ErrClassTimeout = "timeout"
	// ErrClassCanceled 取消
	ErrClassCanceled = "canceled"
	// ErrClassInternal 内部错误
	ErrClassInternal = "internal_error"
)

// ClassifyError 将错误分类为低基数字符串。
// 用于指标属性，避免高基数标签导致的内存问题。
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotHeld):
		return ErrClassNotHeld
	case errors.Is(err, ErrInvalidKey):
		return ErrClassInvalidKey
	case errors.Is(err, ErrClosed):
		return ErrClassClosed
	case errors.Is(err, ErrMaxKeysExceeded):
		return ErrClassMaxKeys
	case errors.Is(err, context.DeadlineExceeded):
		return ErrClassTimeout
	case errors.Is(err, context.Canceled):
		return ErrClassCanceled
	default:
		return ErrClassInternal
	}
}
