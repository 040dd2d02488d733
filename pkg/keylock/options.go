package keylock

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
)

const (
	defaultShardCount = 32
	maxShardCount     = 1 << 16 // 65536
)

// Option 定义注册表可选配置。
type Option func(*options)

type options struct {
	fair          bool
	maxKeys       int
	shardCount    int
	shardMask     uint64 // validate() 计算，供 getShard 使用
	logger        *slog.Logger
	meterProvider metric.MeterProvider
}

func defaultOptions() options {
	return options{
		shardCount: defaultShardCount,
	}
}

// WithFair 设置公平模式。
// 公平模式下同一 key 的等待者严格按 FIFO 顺序获得锁（释放时直接交接给
// 队首等待者），吞吐低于默认的非公平模式。默认 false。
func WithFair(fair bool) Option {
	return func(o *options) {
		o.fair = fair
	}
}

// WithMaxKeys 设置最大 key 数量。
// 达到上限时，新 key 的 Acquire/TryAcquire 返回 [ErrMaxKeysExceeded]；
// 已有 key 的获取（含可重入）不受影响。n <= 0 表示不限制（默认）。
func WithMaxKeys(n int) Option {
	// 在闭包外归一化，避免闭包写捕获变量导致并发复用时的数据竞争。
	if n < 0 {
		n = 0
	}
	return func(o *options) {
		o.maxKeys = n
	}
}

// WithShardCount 设置分片数量。
// 更多分片减少争用，但增加内存占用和 cache 开销。
// n 必须为正整数且为 2 的幂，上限 65536，否则 New 返回错误。默认 32。
// 建议设置为 2×GOMAXPROCS 左右；过多分片在 CPU 核数较少时无额外收益。
func WithShardCount(n int) Option {
	return func(o *options) {
		o.shardCount = n
	}
}

// WithLogger 设置日志记录器。
// 记录关闭、异常释放等低频事件；nil 表示不记录（默认）。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMeterProvider 设置 OpenTelemetry MeterProvider。
// 用于收集获取/释放计数、获取耗时和活跃 key 数指标。
// 如果不设置，不会收集指标。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

func (o *options) validate() error {
	sc := o.shardCount
	if sc <= 0 || sc > maxShardCount || sc&(sc-1) != 0 {
		return fmt.Errorf("%w: must be a positive power of 2 (max %d), got %d",
			ErrInvalidShardCount, maxShardCount, sc)
	}
	// sc ∈ [1, maxShardCount] 且为 2 的幂，int→uint64 转换安全。
	o.shardMask = uint64(sc - 1)
	return nil
}
