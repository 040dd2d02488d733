// Package keylock 提供进程内按 key 互斥的可重入锁注册表。
//
// 适用于需要按业务 key 串行化操作的场景，如同一资源的并发修改互斥、
// 同一订单的状态流转互斥等。不同 key 之间完全并行。
//
// # 特性
//
//   - 可重入：同一 goroutine 对同一 key 重复 Acquire 只递增持有计数，
//     不阻塞、不改动注册表，需配对 Release
//   - Context 支持：Acquire 支持超时和取消（ctx 不得为 nil，否则 panic）
//   - TryAcquire：非阻塞获取，对应零超时场景
//   - 公平模式：WithFair(true) 时同一 key 的等待者按 FIFO 顺序获得锁
//   - 分片 map：默认 32 分片，减少管理锁争用
//   - 有界内存：entry 在最后一个引用者（持有者或等待者）离开时立即删除，
//     引用计数归零与 map 删除在同一临界区内完成，不存在撕裂删除竞态
//   - 内存安全：WithMaxKeys(n) 可限制最大 key 数
//   - 关闭语义：Close() 拒绝新请求并唤醒所有等待者，已持有的锁不受影响
//
// # 条目生命周期
//
// 每个 key 的状态机只有两态：ABSENT → LIVE(refCount≥1) → ABSENT。
// refCount 统计引用该条目的 goroutine 数（持有者 + 等待者），与可重入
// 持有深度无关；条目出现在 map 中当且仅当 refCount > 0。获取方的
// "查找或创建 + refCount++" 与释放方的 "refCount-- + 归零即删" 各自在
// 分片锁内一步完成，等待者引用的条目绝不会被并发释放方删除。
//
// # 典型用法
//
//	kl, err := keylock.New()
//	if err != nil { ... }
//	defer kl.Close()
//
//	err = kl.Do(ctx, "order:1024", func() error {
//	    // 同一 key 的临界区，保证独占
//	    return handleOrder()
//	})
//
// 手动配对时务必使用 defer 保证每条退出路径都执行 Release：
//
//	if err := kl.Acquire(ctx, key); err != nil { ... }
//	defer kl.Release(key) //nolint:errcheck
package keylock
