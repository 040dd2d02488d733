package keylock

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkAcquireRelease(b *testing.B) {
	kl, err := New()
	if err != nil {
		b.Fatal(err)
	}
	defer kl.Close()

	ctx := context.Background()

	b.ResetTimer()
	for b.Loop() {
		if err := kl.Acquire(ctx, "key"); err != nil {
			b.Fatal(err)
		}
		if err := kl.Release("key"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReentrantAcquire(b *testing.B) {
	kl, err := New()
	if err != nil {
		b.Fatal(err)
	}
	defer kl.Close()

	ctx := context.Background()
	if err := kl.Acquire(ctx, "key"); err != nil {
		b.Fatal(err)
	}
	defer kl.Release("key") //nolint:errcheck

	b.ResetTimer()
	for b.Loop() {
		if err := kl.Acquire(ctx, "key"); err != nil {
			b.Fatal(err)
		}
		if err := kl.Release("key"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTryAcquireRelease(b *testing.B) {
	kl, err := New()
	if err != nil {
		b.Fatal(err)
	}
	defer kl.Close()

	b.ResetTimer()
	for b.Loop() {
		ok, err := kl.TryAcquire("key")
		if err != nil {
			b.Fatal(err)
		}
		if ok {
			if err := kl.Release("key"); err != nil {
				b.Fatal(err)
			}
		}
	}
}

func BenchmarkFairAcquireRelease(b *testing.B) {
	kl, err := New(WithFair(true))
	if err != nil {
		b.Fatal(err)
	}
	defer kl.Close()

	ctx := context.Background()

	b.ResetTimer()
	for b.Loop() {
		if err := kl.Acquire(ctx, "key"); err != nil {
			b.Fatal(err)
		}
		if err := kl.Release("key"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAcquireReleaseParallel(b *testing.B) {
	// 预计算 key 数组，避免 fmt.Sprintf 在热路径上影响基准结果。
	const numKeys = 100
	keys := make([]string, numKeys)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}

	for _, shards := range []int{1, 16, 32, 64} {
		b.Run(fmt.Sprintf("shards=%d", shards), func(b *testing.B) {
			kl, err := New(WithShardCount(shards))
			if err != nil {
				b.Fatal(err)
			}
			defer kl.Close()

			ctx := context.Background()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					key := keys[i%numKeys]
					if err := kl.Acquire(ctx, key); err != nil {
						continue
					}
					kl.Release(key) //nolint:errcheck
					i++
				}
			})
		})
	}
}

func BenchmarkGetOrCreate(b *testing.B) {
	kl, err := New()
	if err != nil {
		b.Fatal(err)
	}
	impl := kl.(*registry)
	defer kl.Close()

	b.ResetTimer()
	for b.Loop() {
		entry, err := impl.getOrCreate("key")
		if err != nil {
			b.Fatal(err)
		}
		impl.releaseRef("key", entry)
	}
}
