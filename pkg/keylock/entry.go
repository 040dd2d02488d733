package keylock

import (
	"context"
	"sync"
	"sync/atomic"
)

// lockEntry 表示一个 key 的锁条目。
//
// refcnt 统计引用此条目的 goroutine 数量（持有者 + 等待者），由所属分片的
// 互斥锁保护，归零时条目在同一临界区内从 map 删除。refcnt 与可重入持有
// 深度（holds）互相独立：前者决定条目存亡，后者决定何时真正放弃锁。
type lockEntry struct {
	refcnt int

	// owner 是当前持有者的 goroutine id，0 表示无持有者。
	// 可重入快速路径在分片锁内读取，持有者在交接点写入，需原子访问。
	owner atomic.Int64

	// holds 是可重入持有深度，仅由当前持有者 goroutine 读写。
	holds int

	fair bool

	// 非公平模式：size=1 的 channel 用作互斥量。
	//   - 发送成功 = 获取锁
	//   - 发送阻塞 = 锁被占用
	//   - 接收 = 释放锁
	sem chan struct{}

	// 公平模式：FIFO 等待队列。释放时直接交接给队首等待者（locked 跨越
	// 交接保持 true），保证严格按入队顺序授予。
	qmu    sync.Mutex
	queue  []chan struct{}
	locked bool
}

func newLockEntry(fair bool) *lockEntry {
	e := &lockEntry{fair: fair}
	if !fair {
		e.sem = make(chan struct{}, 1)
	}
	return e
}

// granted 记录新持有者。仅在锁的交接点调用。
func (e *lockEntry) granted(gid int64) {
	e.owner.Store(gid)
	e.holds = 1
}

// lock 阻塞获取锁。done 是注册表的关闭信号。
// 返回 nil 时调用方持有锁；否则调用方不持有锁且无残留排队状态。
func (e *lockEntry) lock(ctx context.Context, done <-chan struct{}, gid int64) error {
	if !e.fair {
		select {
		case e.sem <- struct{}{}:
			e.granted(gid)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return ErrClosed
		}
	}

	e.qmu.Lock()
	if !e.locked {
		e.locked = true
		e.qmu.Unlock()
		e.granted(gid)
		return nil
	}
	w := make(chan struct{})
	e.queue = append(e.queue, w)
	e.qmu.Unlock()

	select {
	case <-w:
		e.granted(gid)
		return nil
	case <-ctx.Done():
		e.abandon(w)
		return ctx.Err()
	case <-done:
		e.abandon(w)
		return ErrClosed
	}
}

// tryLock 非阻塞获取锁。
func (e *lockEntry) tryLock(gid int64) bool {
	if !e.fair {
		select {
		case e.sem <- struct{}{}:
			e.granted(gid)
			return true
		default:
			return false
		}
	}

	e.qmu.Lock()
	// locked == false 蕴含队列为空（等待者只在 locked 时入队，交接保持
	// locked 为 true），此处插队不会越过任何等待者。
	if e.locked {
		e.qmu.Unlock()
		return false
	}
	e.locked = true
	e.qmu.Unlock()
	e.granted(gid)
	return true
}

// unlock 释放锁。公平模式直接交接给队首等待者。
func (e *lockEntry) unlock() {
	if !e.fair {
		<-e.sem
		return
	}
	e.qmu.Lock()
	e.handoffLocked()
	e.qmu.Unlock()
}

// handoffLocked 交接公平锁：唤醒队首等待者，队列为空时标记空闲。
// 调用方必须持有 qmu。
func (e *lockEntry) handoffLocked() {
	if len(e.queue) > 0 {
		w := e.queue[0]
		e.queue = e.queue[1:]
		close(w)
		return
	}
	e.locked = false
}

// abandon 撤销一次公平模式排队。
// 与交接存在竞争：若此刻交接已经发生（w 已被 close），调用方实际上持有
// 锁，必须在返回前把锁转交给下一个等待者，排队顺序不受影响。
func (e *lockEntry) abandon(w chan struct{}) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	for i, q := range e.queue {
		if q == w {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
	e.handoffLocked()
}
