package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/omeyang/klock/pkg/keylock"
)

// stressConfig 压测配置。
type stressConfig struct {
	goroutines int
	keys       int
	duration   time.Duration
	fair       bool
	shards     int
	metrics    bool
}

func (c *stressConfig) validate() error {
	if c.goroutines <= 0 {
		return &usageError{msg: fmt.Sprintf("goroutines 必须为正数，得到 %d", c.goroutines)}
	}
	if c.keys <= 0 {
		return &usageError{msg: fmt.Sprintf("keys 必须为正数，得到 %d", c.keys)}
	}
	if c.duration <= 0 {
		return &usageError{msg: fmt.Sprintf("duration 必须为正数，得到 %v", c.duration)}
	}
	if c.shards <= 0 || c.shards&(c.shards-1) != 0 {
		return &usageError{msg: fmt.Sprintf("shards 必须为 2 的幂，得到 %d", c.shards)}
	}
	return nil
}

// stressResult 压测结果与不变量计数。
type stressResult struct {
	ops        atomic.Uint64 // 成功的 acquire/release 配对
	reentrant  atomic.Uint64 // 其中的嵌套获取
	timeouts   atomic.Uint64 // 有界等待超时（预期内）
	violations atomic.Uint64 // 互斥性违例（必须为 0）
	leftover   int           // 结束后注册表残留条目数（必须为 0）
}

func (r *stressResult) ok() bool {
	return r.violations.Load() == 0 && r.leftover == 0
}

// errInvariantViolated 压测检测到不变量违例。
var errInvariantViolated = errors.New("klockstress: invariant violated")

// runCommand 执行压测并按结果返回错误（映射退出码）。
func runCommand(ctx context.Context, cfg *stressConfig, logger *slog.Logger) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	opts := []keylock.Option{
		keylock.WithFair(cfg.fair),
		keylock.WithShardCount(cfg.shards),
		keylock.WithLogger(logger),
	}

	var reader *sdkmetric.ManualReader
	if cfg.metrics {
		reader = sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer provider.Shutdown(context.Background()) //nolint:errcheck
		opts = append(opts, keylock.WithMeterProvider(provider))
	}

	kl, err := keylock.New(opts...)
	if err != nil {
		return err
	}
	defer kl.Close() //nolint:errcheck

	logger.Info("klockstress: starting",
		slog.Int("goroutines", cfg.goroutines),
		slog.Int("keys", cfg.keys),
		slog.Duration("duration", cfg.duration),
		slog.Bool("fair", cfg.fair),
		slog.Int("shards", cfg.shards))

	result := runStress(ctx, cfg, kl)
	result.leftover = kl.Len()

	logger.Info("klockstress: finished",
		slog.Uint64("ops", result.ops.Load()),
		slog.Uint64("reentrant", result.reentrant.Load()),
		slog.Uint64("timeouts", result.timeouts.Load()),
		slog.Uint64("violations", result.violations.Load()),
		slog.Int("leftover_entries", result.leftover))

	if reader != nil {
		dumpMetrics(logger, reader)
	}

	if !result.ok() {
		return fmt.Errorf("%w: violations=%d leftover=%d",
			errInvariantViolated, result.violations.Load(), result.leftover)
	}
	return nil
}

// runStress 启动 worker 并收集不变量计数。
func runStress(ctx context.Context, cfg *stressConfig, kl keylock.KeyLock) *stressResult {
	keys := make([]string, cfg.keys)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s:%04d", uuid.NewString(), i)
	}

	// 每个 key 一个临界区计数器：持有期间计数必须恰为 1
	critical := make([]atomic.Int64, cfg.keys)

	result := &stressResult{}
	runCtx, cancel := context.WithTimeout(ctx, cfg.duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.goroutines; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			worker(runCtx, w, kl, keys, critical, result)
		}(w)
	}
	wg.Wait()
	return result
}

// worker 在随机 key 上混合阻塞获取、嵌套获取和有界等待。
func worker(ctx context.Context, id int, kl keylock.KeyLock, keys []string, critical []atomic.Int64, result *stressResult) {
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		idx := (id + i) % len(keys)
		key := keys[idx]

		switch i % 4 {
		case 0, 1:
			// 阻塞获取（ctx 截止即退出）
			if err := kl.Acquire(ctx, key); err != nil {
				continue
			}
			enterCritical(&critical[idx], result)
			if err := kl.Release(key); err != nil {
				result.violations.Add(1)
			}
			result.ops.Add(1)
		case 2:
			// 嵌套获取：Do 内再 Do 同一 key，校验可重入配对
			err := kl.Do(ctx, key, func() error {
				enterCritical(&critical[idx], result)
				return kl.Do(ctx, key, func() error {
					enterCritical(&critical[idx], result)
					return nil
				})
			})
			if err == nil {
				result.ops.Add(1)
				result.reentrant.Add(1)
			}
		default:
			// 有界等待：超时是预期行为，但绝不能泄漏条目引用
			tctx, tcancel := context.WithTimeout(ctx, time.Millisecond)
			err := kl.Acquire(tctx, key)
			tcancel()
			if err != nil {
				result.timeouts.Add(1)
				continue
			}
			enterCritical(&critical[idx], result)
			if err := kl.Release(key); err != nil {
				result.violations.Add(1)
			}
			result.ops.Add(1)
		}
	}
}

// enterCritical 进入临界区并校验互斥：计数超过 1 即违例。
func enterCritical(counter *atomic.Int64, result *stressResult) {
	if counter.Add(1) > 1 {
		result.violations.Add(1)
	}
	counter.Add(-1)
}

// dumpMetrics 输出一次指标快照。
func dumpMetrics(logger *slog.Logger, reader *sdkmetric.ManualReader) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		logger.Error("klockstress: metrics collect failed", slog.Any("error", err))
		return
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				logger.Info("metric", slog.String("name", m.Name), slog.Int64("sum", total))
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					logger.Info("metric", slog.String("name", m.Name), slog.Int64("value", dp.Value))
				}
			case metricdata.Histogram[float64]:
				var count uint64
				var sum float64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				logger.Info("metric", slog.String("name", m.Name),
					slog.Uint64("count", count), slog.Float64("sum_seconds", sum))
			}
		}
	}
}
