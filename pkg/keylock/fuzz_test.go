package keylock

import (
	"context"
	"testing"
)

func FuzzAcquireRelease(f *testing.F) {
	f.Add("key1")
	f.Add("")
	f.Add("very-long-key-name-that-might-cause-issues-with-hashing")
	f.Add("key/with/slashes")
	f.Add("key with spaces")
	f.Add("中文key")

	f.Fuzz(func(t *testing.T, key string) {
		kl, err := New()
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer kl.Close()

		err = kl.Acquire(context.Background(), key)
		if key == "" {
			if err != ErrInvalidKey {
				t.Fatalf("Acquire with empty key: want ErrInvalidKey, got %v", err)
			}
			return
		}
		if err != nil {
			t.Fatalf("Acquire failed for key %q: %v", key, err)
		}

		// 可重入一层再对称释放
		if err := kl.Acquire(context.Background(), key); err != nil {
			t.Fatalf("reentrant Acquire failed for key %q: %v", key, err)
		}
		if err := kl.Release(key); err != nil {
			t.Fatalf("Release failed for key %q: %v", key, err)
		}
		if err := kl.Release(key); err != nil {
			t.Fatalf("final Release failed for key %q: %v", key, err)
		}
		if got := kl.Len(); got != 0 {
			t.Fatalf("registry not drained for key %q: Len() = %d", key, got)
		}
	})
}

func FuzzTryAcquireRelease(f *testing.F) {
	f.Add("key1")
	f.Add("")
	f.Add("a/b/c")
	f.Add("中文key")

	f.Fuzz(func(t *testing.T, key string) {
		kl, err := New()
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer kl.Close()

		ok, err := kl.TryAcquire(key)
		if key == "" {
			if err != ErrInvalidKey {
				t.Fatalf("TryAcquire with empty key: want ErrInvalidKey, got %v", err)
			}
			return
		}
		if err != nil {
			t.Fatalf("TryAcquire failed for key %q: %v", key, err)
		}
		if !ok {
			t.Fatalf("TryAcquire returned false for uncontended key %q", key)
		}

		// 同一 goroutine 再次 TryAcquire 是可重入成功
		ok, err = kl.TryAcquire(key)
		if err != nil || !ok {
			t.Fatalf("reentrant TryAcquire for key %q: got (%v, %v)", key, ok, err)
		}

		if err := kl.Release(key); err != nil {
			t.Fatalf("Release failed for key %q: %v", key, err)
		}
		if err := kl.Release(key); err != nil {
			t.Fatalf("final Release failed for key %q: %v", key, err)
		}
		if err := kl.Release(key); err != ErrNotHeld {
			t.Fatalf("over-release for key %q: want ErrNotHeld, got %v", key, err)
		}
	})
}
