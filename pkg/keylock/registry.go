package keylock

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/petermattis/goid"
)

// registry 是 KeyLock 的分片实现。
type registry struct {
	shards   []shard
	mask     uint64
	opts     *options
	metrics  *metrics
	closed   atomic.Bool
	keyCount atomic.Int64
	done     chan struct{}
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newRegistry(opts *options, m *metrics) *registry {
	shards := make([]shard, opts.shardCount)
	for i := range shards {
		shards[i].entries = make(map[string]*lockEntry)
	}
	return &registry{
		shards:  shards,
		mask:    opts.shardMask,
		opts:    opts,
		metrics: m,
		done:    make(chan struct{}),
	}
}

func (r *registry) getShard(key string) *shard {
	h := xxhash.Sum64String(key)
	return &r.shards[h&r.mask]
}

// reenter 处理可重入快速路径：条目存在且持有者为当前 goroutine 时递增
// 持有深度。持有者引用 (refcnt) 不变——同一 goroutine 只算一个引用者。
func (r *registry) reenter(key string, gid int64) bool {
	s := r.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.owner.Load() != gid {
		return false
	}
	e.holds++
	return true
}

// getOrCreate 获取或创建 lockEntry，并增加引用计数。
// 查找/创建与 refcnt++ 在分片锁内一步完成：并发释放方要么在本次引用之前
// 删除条目（此处会新建），要么观察到 refcnt > 0 而放弃删除。
func (r *registry) getOrCreate(key string) (*lockEntry, error) {
	s := r.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.closed.Load() {
		return nil, ErrClosed
	}

	e, ok := s.entries[key]
	if !ok {
		if r.opts.maxKeys > 0 {
			// 使用 CAS 严格限制 key 数量，避免跨分片并发突破上限。
			for {
				cur := r.keyCount.Load()
				if cur >= int64(r.opts.maxKeys) {
					return nil, ErrMaxKeysExceeded
				}
				if r.keyCount.CompareAndSwap(cur, cur+1) {
					break
				}
			}
		} else {
			r.keyCount.Add(1)
		}
		e = newLockEntry(r.opts.fair)
		s.entries[key] = e
	}
	e.refcnt++
	return e, nil
}

// releaseRef 减少引用计数，归零时在同一临界区内从 map 删除。
func (r *registry) releaseRef(key string, entry *lockEntry) {
	s := r.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.refcnt--
	if entry.refcnt == 0 {
		delete(s.entries, key)
		r.keyCount.Add(-1)
	}
}

func (r *registry) Acquire(ctx context.Context, key string) error {
	if ctx == nil {
		panic("keylock: nil Context")
	}
	if key == "" {
		return ErrInvalidKey
	}
	// 快速检查：ctx 已取消时避免进入 getOrCreate 造成不必要的锁竞争。
	if err := ctx.Err(); err != nil {
		return err
	}

	gid := goid.Get()
	var start time.Time
	if r.metrics != nil {
		start = time.Now()
	}

	if r.reenter(key, gid) {
		r.metrics.recordAcquire(ctx, true, true, "", time.Since(start))
		return nil
	}
	if r.closed.Load() {
		r.metrics.recordAcquire(ctx, false, false, ErrClassClosed, time.Since(start))
		return ErrClosed
	}
	e, err := r.getOrCreate(key)
	if err != nil {
		r.metrics.recordAcquire(ctx, false, false, ClassifyError(err), time.Since(start))
		return err
	}
	if err := e.lock(ctx, r.done, gid); err != nil {
		// 放弃等待必须撤销自己加上的引用，与释放方同一原子步骤，
		// 被放弃的尝试不会泄漏条目。
		r.releaseRef(key, e)
		r.metrics.recordAcquire(ctx, false, false, ClassifyError(err), time.Since(start))
		return err
	}
	r.metrics.recordAcquire(ctx, true, false, "", time.Since(start))
	return nil
}

func (r *registry) TryAcquire(key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	gid := goid.Get()

	s := r.getShard(key)
	s.mu.Lock()

	e, ok := s.entries[key]
	if ok {
		if e.owner.Load() == gid {
			e.holds++
			s.mu.Unlock()
			r.metrics.recordTryAcquire(true, true)
			return true, nil
		}
		// 关闭后仅允许可重入获取，与 Acquire 一致
		if r.closed.Load() {
			s.mu.Unlock()
			return false, ErrClosed
		}
		// 被其他 goroutine 占用时直接失败，不触碰 refcnt：
		// 失败的尝试不得影响已持有条目的引用计数。
		if !e.tryLock(gid) {
			s.mu.Unlock()
			r.metrics.recordTryAcquire(false, false)
			return false, nil
		}
		e.refcnt++
		s.mu.Unlock()
		r.metrics.recordTryAcquire(true, false)
		return true, nil
	}

	if r.closed.Load() {
		s.mu.Unlock()
		return false, ErrClosed
	}
	if r.opts.maxKeys > 0 {
		for {
			cur := r.keyCount.Load()
			if cur >= int64(r.opts.maxKeys) {
				s.mu.Unlock()
				return false, ErrMaxKeysExceeded
			}
			if r.keyCount.CompareAndSwap(cur, cur+1) {
				break
			}
		}
	} else {
		r.keyCount.Add(1)
	}
	e = newLockEntry(r.opts.fair)
	e.refcnt = 1
	// 新建条目无竞争，tryLock 必然成功。
	e.tryLock(gid)
	s.entries[key] = e
	s.mu.Unlock()
	r.metrics.recordTryAcquire(true, false)
	return true, nil
}

func (r *registry) Release(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	gid := goid.Get()

	s := r.getShard(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.owner.Load() != gid {
		s.mu.Unlock()
		if r.opts.logger != nil {
			r.opts.logger.Warn("keylock: release of unheld key",
				slog.String("key", key), slog.Int64("goroutine", gid))
		}
		r.metrics.recordRelease(false)
		return ErrNotHeld
	}
	e.holds--
	if e.holds > 0 {
		s.mu.Unlock()
		r.metrics.recordRelease(true)
		return nil
	}
	s.mu.Unlock()

	// 先放弃所有权并交接锁，再撤销自己的引用。条目在本 goroutine 的
	// 引用释放前必然存活；是否删除只取决于 refcnt 是否归零，与交接给
	// 谁无关，公平顺序不受删除影响。
	e.owner.Store(0)
	e.unlock()
	r.releaseRef(key, e)
	r.metrics.recordRelease(true)
	return nil
}

func (r *registry) Do(ctx context.Context, key string, fn func() error) error {
	if err := r.Acquire(ctx, key); err != nil {
		return err
	}
	defer r.Release(key) //nolint:errcheck // 持有后的配对释放不会失败
	return fn()
}

func (r *registry) Len() int {
	return int(max(r.keyCount.Load(), 0))
}

func (r *registry) Keys() []string {
	keys := make([]string, 0, max(r.keyCount.Load(), 0))
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for k := range s.entries {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	return keys
}

func (r *registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(r.done)
	if r.opts.logger != nil {
		r.opts.logger.Debug("keylock: registry closed",
			slog.Int("active_keys", r.Len()))
	}
	return nil
}

// 编译期接口检查。
var _ KeyLock = (*registry)(nil)
