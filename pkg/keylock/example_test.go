package keylock_test

import (
	"context"
	"fmt"

	"github.com/omeyang/klock/pkg/keylock"
)

func ExampleNew() {
	kl, err := keylock.New()
	if err != nil {
		panic(err)
	}

	if err := kl.Acquire(context.Background(), "resource:123"); err != nil {
		panic(err)
	}
	fmt.Println("lock acquired for: resource:123")

	if err := kl.Release("resource:123"); err != nil {
		panic(err)
	}
	if err := kl.Close(); err != nil {
		panic(err)
	}
	// Output:
	// lock acquired for: resource:123
}

func ExampleKeyLock_Do() {
	kl, err := keylock.New()
	if err != nil {
		panic(err)
	}

	err = kl.Do(context.Background(), "order:1024", func() error {
		fmt.Println("inside critical section")
		return nil
	})
	if err != nil {
		panic(err)
	}
	fmt.Println("entries left:", kl.Len())

	if err := kl.Close(); err != nil {
		panic(err)
	}
	// Output:
	// inside critical section
	// entries left: 0
}

func ExampleKeyLock_Acquire_reentrant() {
	kl, err := keylock.New()
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	// 同一 goroutine 可嵌套获取，需配对释放
	if err := kl.Acquire(ctx, "order:1"); err != nil {
		panic(err)
	}
	if err := kl.Acquire(ctx, "order:1"); err != nil {
		panic(err)
	}
	fmt.Println("held at depth 2")

	if err := kl.Release("order:1"); err != nil {
		panic(err)
	}
	if err := kl.Release("order:1"); err != nil {
		panic(err)
	}
	fmt.Println("fully released, entries left:", kl.Len())

	if err := kl.Close(); err != nil {
		panic(err)
	}
	// Output:
	// held at depth 2
	// fully released, entries left: 0
}

func ExampleKeyLock_Release() {
	kl, err := keylock.New()
	if err != nil {
		panic(err)
	}

	// 未持有时释放是调用方 bug，返回 ErrNotHeld 且不破坏状态
	err = kl.Release("never-acquired")
	fmt.Println(keylock.IsNotHeld(err))

	if err := kl.Close(); err != nil {
		panic(err)
	}
	// Output:
	// true
}
