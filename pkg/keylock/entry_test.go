package keylock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 白盒测试：公平条目的交接/放弃竞争路径。
// 取消与交接的竞争窗口极窄，黑盒测试难以命中，这里直接驱动内部状态。

func TestEntryAbandonBeforeHandoff(t *testing.T) {
	e := newLockEntry(true)
	require.True(t, e.tryLock(1))

	w := make(chan struct{})
	e.qmu.Lock()
	e.queue = append(e.queue, w)
	e.qmu.Unlock()

	// 交接发生前放弃：仅出队，锁仍由持有者持有
	e.abandon(w)

	e.qmu.Lock()
	assert.True(t, e.locked)
	assert.Empty(t, e.queue)
	e.qmu.Unlock()

	e.unlock()
	e.qmu.Lock()
	assert.False(t, e.locked)
	e.qmu.Unlock()
}

func TestEntryAbandonAfterHandoff(t *testing.T) {
	e := newLockEntry(true)
	require.True(t, e.tryLock(1))

	w := make(chan struct{})
	e.qmu.Lock()
	e.queue = append(e.queue, w)
	e.qmu.Unlock()

	// 交接先发生：w 已收到锁
	e.unlock()
	select {
	case <-w:
	default:
		t.Fatal("handoff did not grant w")
	}

	// 排队者随后放弃：已到手的锁必须被转交出去（无下一位 → 空闲）
	e.abandon(w)

	e.qmu.Lock()
	assert.False(t, e.locked)
	assert.Empty(t, e.queue)
	e.qmu.Unlock()
}

func TestEntryAbandonForwardsToNextWaiter(t *testing.T) {
	e := newLockEntry(true)
	require.True(t, e.tryLock(1))

	w1 := make(chan struct{})
	w2 := make(chan struct{})
	e.qmu.Lock()
	e.queue = append(e.queue, w1, w2)
	e.qmu.Unlock()

	// 交接给 w1，w1 随即放弃 → 锁必须转交 w2，不得丢失
	e.unlock()
	e.abandon(w1)

	select {
	case <-w2:
	default:
		t.Fatal("abandoned handoff was not forwarded to the next waiter")
	}
	e.qmu.Lock()
	assert.True(t, e.locked)
	assert.Len(t, e.queue, 0)
	e.qmu.Unlock()

	e.unlock()
}

func TestEntryNonFairSemaphore(t *testing.T) {
	e := newLockEntry(false)

	require.True(t, e.tryLock(7))
	assert.Equal(t, int64(7), e.owner.Load())
	assert.Equal(t, 1, e.holds)
	assert.False(t, e.tryLock(8), "second tryLock must fail while held")

	e.owner.Store(0)
	e.unlock()
	require.True(t, e.tryLock(8))
	e.owner.Store(0)
	e.unlock()
}

func TestEntryLockContextDeadline(t *testing.T) {
	done := make(chan struct{})
	defer close(done)

	for _, fair := range []bool{false, true} {
		e := newLockEntry(fair)
		require.True(t, e.tryLock(1))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := e.lock(ctx, done, 2)
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// 超时后队列无残留，锁仍归原持有者
		if fair {
			e.qmu.Lock()
			assert.Empty(t, e.queue)
			assert.True(t, e.locked)
			e.qmu.Unlock()
		}
		assert.Equal(t, int64(1), e.owner.Load())

		e.owner.Store(0)
		e.unlock()
	}
}
