package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 进程内指标（私有 Registry，运行结束可选导出为 textfile）：
// - tilext_op_total{comp,stage,result}
// - tilext_error_total{comp,code}
// - tilext_op_duration_ms{comp,stage}
var (
	registry = prometheus.NewRegistry()

	opTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tilext",
			Name:      "op_total",
			Help:      "Operations by component, stage and result",
		},
		[]string{"comp", "stage", "result"},
	)

	errorTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tilext",
			Name:      "error_total",
			Help:      "Errors by component and classified code",
		},
		[]string{"comp", "code"},
	)

	opDuration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tilext",
			Name:      "op_duration_ms",
			Help:      "Operation duration in milliseconds",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"comp", "stage"},
	)
)

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// Registry 返回进程内指标注册表。
func Registry() *prometheus.Registry { return registry }

// WriteMetrics 以 Prometheus 文本格式原子写出全部指标（node_exporter textfile 兼容）。
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, registry)
}

// RecordError 统一记录一次组件失败：op_total{result=error} 与 error_total{code}。
func RecordError(comp string, err error) Code {
	code := Classify(err)
	IncOp(comp, "error", "error")
	if code != CodeUnknown {
		IncError(comp, string(code))
	}
	return code
}
