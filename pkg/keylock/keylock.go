package keylock

import (
	"context"
	"io"
)

// KeyLock 提供基于 key 的进程内可重入互斥锁。
// 所有方法都是并发安全的。
type KeyLock interface {
	io.Closer

	// Acquire 阻塞式获取锁，返回时调用方 goroutine 独占持有 key。
	// 支持 ctx 超时/取消，ctx 取消时返回 [context.Canceled] 或
	// [context.DeadlineExceeded]，超时的等待不会泄漏条目引用。
	// 注册表已关闭时返回 [ErrClosed]。key 不得为空字符串，否则返回
	// [ErrInvalidKey]。ctx 不得为 nil，否则 panic。
	//
	// 可重入：调用方 goroutine 已持有该 key 时仅递增持有计数并立即返回，
	// 即使注册表已关闭。每次成功的 Acquire 都需要一次配对的 Release。
	//
	// 当 Acquire 处于阻塞等待时，若 Close 与 ctx 取消同时发生，
	// 返回 [ErrClosed] 或 ctx.Err() 均有可能（Go select 语义）。
	// 调用方应同时处理这两类错误。
	//
	// 持有多个 key 时由调用方负责保持一致的获取顺序以避免死锁，
	// 注册表不做跨 key 死锁检测。
	Acquire(ctx context.Context, key string) error

	// TryAcquire 非阻塞获取锁。
	// 锁被其他 goroutine 占用时返回 (false, nil)；调用方已持有时可重入
	// 成功，返回 (true, nil)。失败的尝试不改变已持有条目的引用计数。
	// 注册表已关闭时返回 (false, [ErrClosed])。key 不得为空字符串，
	// 否则返回 (false, [ErrInvalidKey])。
	TryAcquire(key string) (bool, error)

	// Release 释放一层可重入持有。
	// 持有计数仍为正时仅递减计数；归零时放弃锁的所有权，并在条目不再被
	// 任何 goroutine 引用时将其从注册表中原子删除。
	// 调用方 goroutine 未持有该 key 时返回 [ErrNotHeld]，不改动任何状态。
	Release(key string) error

	// Do 在持有 key 锁的前提下执行 fn，保证所有退出路径（正常返回、
	// error、panic）都会释放锁。获取失败时返回获取错误且不执行 fn。
	Do(ctx context.Context, key string, fn func() error) error

	// Len 返回当前活跃的 key 数量（单次原子读取，瞬时快照）。
	// 比 Keys() 更高效，适用于监控和指标采集。
	// Close 后仍可安全调用，返回值随已持有锁的释放逐渐归零。
	Len() int

	// Keys 返回当前活跃条目的 key 列表（包含持有者和等待者），仅用于调试。
	// 返回值是快照，不保证跨分片原子性。
	// Close 后仍可安全调用。
	Keys() []string
}

// New 创建一个新的 KeyLock 实例。
// 配置无效时返回错误（如分片数不是 2 的幂）。
func New(opts ...Option) (KeyLock, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	m, err := newMetrics(o.meterProvider)
	if err != nil {
		return nil, err
	}
	kl := newRegistry(&o, m)
	if m != nil {
		if err := m.observeKeys(kl); err != nil {
			return nil, err
		}
	}
	return kl, nil
}
