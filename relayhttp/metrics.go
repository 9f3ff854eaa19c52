package relayhttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LubyRuffy/gptrelay/backend"
)

const metricsNamespace = "gptrelay"

// Metrics 记录中继端点的 Prometheus 指标：
//   - gptrelay_requests_total{code}: 按响应状态码统计的请求数
//   - gptrelay_upstream_errors_total{status}: 上游非 2xx 响应数
//   - gptrelay_upstream_latency_seconds: 上游返回响应头的耗时
//   - gptrelay_frames_total: 写给客户端的内容帧数
//   - gptrelay_malformed_events_total: 被丢弃的无法解析的上游事件数
//   - gptrelay_streams_total{result}: 流结束方式（done/eof/error）
//
// nil *Metrics 的所有方法都是空操作。
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	upstreamErrors  *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	frames          prometheus.Counter
	malformed       prometheus.Counter
	streams         *prometheus.CounterVec
}

// NewMetrics 创建并注册指标。registry 为 nil 时新建一个独立的 Registry。
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Total number of relay requests by response status code",
		}, []string{"code"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_errors_total",
			Help:      "Total number of non-2xx upstream responses by status code",
		}, []string{"status"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_latency_seconds",
			Help:      "Time until the upstream returned response headers",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_total",
			Help:      "Total number of content frames written to clients",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "malformed_events_total",
			Help:      "Total number of dropped upstream events that could not be parsed",
		}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "streams_total",
			Help:      "Total number of relayed streams by how they ended",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.upstreamErrors, m.upstreamLatency, m.frames, m.malformed, m.streams} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler 返回 Prometheus exposition 端点。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func (m *Metrics) observeRequest(code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) observeUpstream(latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.upstreamLatency.Observe(latency.Seconds())
	if upErr, ok := asUpstreamError(err); ok {
		m.upstreamErrors.WithLabelValues(strconv.Itoa(upErr.Status)).Inc()
	}
}

func (m *Metrics) observeStream(stats backend.TranscodeStats, err error) {
	if m == nil {
		return
	}
	m.frames.Add(float64(stats.Frames))
	m.malformed.Add(float64(stats.Malformed))
	switch {
	case err != nil:
		m.streams.WithLabelValues("error").Inc()
	case stats.Done:
		m.streams.WithLabelValues("done").Inc()
	default:
		m.streams.WithLabelValues("eof").Inc()
	}
}
