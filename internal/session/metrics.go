// metrics.go — 流式会话的 Prometheus 指标。
package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_core",
		Subsystem: "session",
		Name:      "streams_active",
		Help:      "当前活跃流式会话数。",
	})

	metricEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat_core",
		Subsystem: "session",
		Name:      "stream_events_total",
		Help:      "收到的流式事件总数 (按合法事件计)。",
	})

	metricAbortsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_core",
		Subsystem: "session",
		Name:      "stream_aborts_total",
		Help:      "按原因统计的流中止次数。",
	}, []string{"reason"})
)
