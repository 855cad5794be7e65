package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 向量存储指标
var (
	// ChunksUpserted 写入后端的分块总数
	ChunksUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_chunks_upserted_total",
			Help: "写入向量后端的分块总数",
		},
		[]string{"backend", "collection"},
	)

	// SearchDuration 相似度检索耗时（秒，含 query embedding）
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragcore_search_duration_seconds",
			Help:    "相似度检索耗时分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// BackendErrors 后端调用失败次数，按错误分类
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_backend_errors_total",
			Help: "向量后端调用失败次数",
		},
		[]string{"backend", "op", "kind"},
	)

	// CacheLookups 检索缓存命中/未命中
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_search_cache_lookups_total",
			Help: "检索缓存查询次数",
		},
		[]string{"result"}, // hit | miss
	)
)

// 入库与生成指标
var (
	// IndexingRuns 入库运行总数，按终态统计
	IndexingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_indexing_runs_total",
			Help: "入库运行总数",
		},
		[]string{"operation", "status"},
	)

	// IndexingDuration 入库运行耗时（秒）
	IndexingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragcore_indexing_duration_seconds",
			Help:    "入库运行耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"operation"},
	)

	// GenerationDuration 问答生成耗时（秒）
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragcore_generation_duration_seconds",
			Help:    "问答生成耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode", "status"},
	)

	// ToolCalls agent 模式下 knowledge_search 调用次数
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_tool_calls_total",
			Help: "agent 模式工具调用次数",
		},
		[]string{"tool"},
	)
)

// Handler 返回 Prometheus 抓取端点
func Handler() http.Handler {
	return promhttp.Handler()
}
