// Package metrics 收集ping接口与注册中心操作的Prometheus指标
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作结果标签
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics 服务指标，使用独立的Registry，避免污染全局默认Registry
type Metrics struct {
	registry *prometheus.Registry

	PingRequests      *prometheus.CounterVec   // ping请求数（按路由、状态码）
	RegistryOps       *prometheus.CounterVec   // 注册中心操作数（按操作、结果）
	RegistryDuration  *prometheus.HistogramVec // 注册中心操作耗时
	DiscoveredRecords prometheus.Gauge         // 最近一次查询到的服务记录数
}

// New 创建指标并注册到新的Registry
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ping_requests_total",
				Help:      "ping请求总数",
			},
			[]string{"route", "code"},
		),
		RegistryOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_operations_total",
				Help:      "注册中心操作总数",
			},
			[]string{"op", "result"}, // op: connect/publish/unpublish/list/get
		),
		RegistryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "registry_operation_duration_seconds",
				Help:      "注册中心操作耗时",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		DiscoveredRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "discovered_records",
				Help:      "最近一次查询到的服务记录数",
			},
		),
	}

	m.registry.MustRegister(
		m.PingRequests,
		m.RegistryOps,
		m.RegistryDuration,
		m.DiscoveredRecords,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveRegistryOp 记录一次注册中心操作
func (m *Metrics) ObserveRegistryOp(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.RegistryOps.WithLabelValues(op, result).Inc()
	m.RegistryDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObservePing 记录一次ping请求
func (m *Metrics) ObservePing(route string, code int) {
	if m == nil {
		return
	}
	m.PingRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// SetDiscovered 更新查询到的服务记录数
func (m *Metrics) SetDiscovered(n int) {
	if m == nil {
		return
	}
	m.DiscoveredRecords.Set(float64(n))
}

// Registry 返回底层Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回/metrics的HTTP处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
