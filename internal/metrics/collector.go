// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 问答链路指标收集器
type Collector struct {
	// 阶段耗时: embedding / retrieval / generation
	stageDuration *prometheus.HistogramVec

	// 查询结果计数，按状态区分: found / degraded / empty / error
	queriesTotal *prometheus.CounterVec

	// token 用量计数，按类别区分: prompt / completion
	tokensTotal *prometheus.CounterVec

	// 单次查询命中的上下文文档数
	contextDocs prometheus.Histogram

	// 缓存命中与未命中，按缓存命名空间区分
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

// NewCollector 创建并注册指标收集器。reg 为 nil 时使用默认注册表。
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Query pipeline stage duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		queriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of processed queries",
			},
			[]string{"status"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Total number of tokens consumed",
			},
			[]string{"kind"},
		),
		contextDocs: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "context_documents",
				Help:      "Number of context documents per query",
				Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),
	}
}

// ObserveStage 记录某一阶段的耗时
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// QueryCompleted 记录一次查询结束，status 为 found / degraded / empty / error
func (c *Collector) QueryCompleted(status string) {
	c.queriesTotal.WithLabelValues(status).Inc()
}

// AddTokens 累计 token 用量，kind 为 prompt / completion
func (c *Collector) AddTokens(kind string, n int) {
	if n > 0 {
		c.tokensTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveContextDocs 记录单次查询的上下文文档数
func (c *Collector) ObserveContextDocs(n int) {
	c.contextDocs.Observe(float64(n))
}

// CacheHit 记录缓存命中
func (c *Collector) CacheHit(cache string) {
	c.cacheHits.WithLabelValues(cache).Inc()
}

// CacheMiss 记录缓存未命中
func (c *Collector) CacheMiss(cache string) {
	c.cacheMisses.WithLabelValues(cache).Inc()
}
