package keylock

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// meterName OTel Meter scope 名称
	meterName = "keylock"
	// instrumentationVersion 仪表版本
	instrumentationVersion = "0.1.0"
)

// 设计决策: 指标不携带 key 标签。key 由调用方任意生成，作为标签会造成
// 高基数问题；需要按 key 观测时应在调用方以受控维度自行打点。
const (
	// metricNameAcquireTotal 获取锁次数计数器
	metricNameAcquireTotal = "keylock.acquire.total"
	// metricNameReleaseTotal 释放锁次数计数器
	metricNameReleaseTotal = "keylock.release.total"
	// metricNameAcquireDuration 获取锁耗时直方图
	metricNameAcquireDuration = "keylock.acquire.duration"
	// metricNameKeysActive 活跃 key 数量观测仪
	metricNameKeysActive = "keylock.keys.active"
)

// 指标属性名称
const (
	attrAcquired   = "keylock.acquired"
	attrReentrant  = "keylock.reentrant"
	attrBlocking   = "keylock.blocking"
	attrFailReason = "keylock.fail_reason"
	attrHeld       = "keylock.held"
)

// durationBuckets 耗时直方图的桶边界。
// 无争用获取是纳秒级内存操作，桶从 1µs 起步以覆盖争用等待。
var durationBuckets = []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 0.5, 1.0, 5.0}

// metrics 注册表指标收集器。
// nil 接收者安全：未配置 MeterProvider 时所有记录方法为空操作。
type metrics struct {
	meter           metric.Meter
	acquireTotal    metric.Int64Counter
	releaseTotal    metric.Int64Counter
	acquireDuration metric.Float64Histogram
}

// newMetrics 创建指标收集器。
// meterProvider 为 nil 时返回 (nil, nil)，不收集指标。
func newMetrics(meterProvider metric.MeterProvider) (*metrics, error) {
	if meterProvider == nil {
		return nil, nil
	}

	m := &metrics{}
	m.meter = meterProvider.Meter(meterName,
		metric.WithInstrumentationVersion(instrumentationVersion),
	)

	var err error
	if m.acquireTotal, err = m.meter.Int64Counter(metricNameAcquireTotal,
		metric.WithDescription("锁获取次数"), metric.WithUnit("{acquire}")); err != nil {
		return nil, err
	}
	if m.releaseTotal, err = m.meter.Int64Counter(metricNameReleaseTotal,
		metric.WithDescription("锁释放次数"), metric.WithUnit("{release}")); err != nil {
		return nil, err
	}
	if m.acquireDuration, err = m.meter.Float64Histogram(metricNameAcquireDuration,
		metric.WithDescription("锁获取耗时"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, err
	}
	return m, nil
}

// observeKeys 注册活跃 key 数量观测仪，回调读取注册表的瞬时快照。
func (m *metrics) observeKeys(r *registry) error {
	gauge, err := m.meter.Int64ObservableGauge(metricNameKeysActive,
		metric.WithDescription("当前活跃的 key 数量"), metric.WithUnit("{key}"))
	if err != nil {
		return err
	}
	_, err = m.meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(gauge, int64(r.Len()))
			return nil
		}, gauge)
	return err
}

// recordAcquire 记录一次阻塞式获取的结果。
// 使用 context.WithoutCancel 确保即使 ctx 被取消，指标仍能记录。
func (m *metrics) recordAcquire(ctx context.Context, acquired, reentrant bool, failReason string, d time.Duration) {
	if m == nil {
		return
	}
	metricsCtx := context.WithoutCancel(ctx)

	attrs := []attribute.KeyValue{
		attribute.Bool(attrAcquired, acquired),
		attribute.Bool(attrReentrant, reentrant),
		attribute.Bool(attrBlocking, true),
	}
	if !acquired {
		attrs = append(attrs, attribute.String(attrFailReason, failReason))
	}

	m.acquireTotal.Add(metricsCtx, 1, metric.WithAttributes(attrs...))
	m.acquireDuration.Record(metricsCtx, d.Seconds(), metric.WithAttributes(attrs...))
}

// recordTryAcquire 记录一次非阻塞获取的结果。
//
// 设计决策: TryAcquire 不记录 duration histogram。非阻塞获取是单次
// 内存操作，耗时极短且稳定，不需要分位数分布分析。
func (m *metrics) recordTryAcquire(acquired, reentrant bool) {
	if m == nil {
		return
	}
	m.acquireTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Bool(attrAcquired, acquired),
		attribute.Bool(attrReentrant, reentrant),
		attribute.Bool(attrBlocking, false),
	))
}

// recordRelease 记录一次释放。held 为 false 表示未持有（ErrNotHeld）。
func (m *metrics) recordRelease(held bool) {
	if m == nil {
		return
	}
	m.releaseTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Bool(attrHeld, held),
	))
}
