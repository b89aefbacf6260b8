package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusObserver struct {
	workersGauge    prometheus.Gauge
	deliveryCounter *prometheus.CounterVec
	deliveryLatency prometheus.Histogram
	autoStopCounter prometheus.Counter
}

var (
	workersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postpilot_active_workers",
		Help: "Number of projects with a running delivery worker",
	})
	deliveryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_posts_delivered_total",
		Help: "Delivery attempts by result",
	}, []string{"result"})
	deliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "postpilot_delivery_duration_seconds",
		Help:    "Duration of one delivery attempt against the provider",
		Buckets: prometheus.DefBuckets,
	})
	autoStopCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postpilot_auto_stops_total",
		Help: "Projects stopped after their last pending post",
	})
)

// Observer implements both DeliveryObserver and WorkerObserver.
type Observer interface {
	DeliveryObserver
	WorkerObserver
}

func NewPrometheusObserver() Observer {
	return &prometheusObserver{
		workersGauge:    workersGauge,
		deliveryCounter: deliveryCounter,
		deliveryLatency: deliveryLatency,
		autoStopCounter: autoStopCounter,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) SetActiveWorkers(n int) {
	p.workersGauge.Set(float64(n))
}

func (p *prometheusObserver) RecordDelivery(result string, latency time.Duration) {
	p.deliveryCounter.WithLabelValues(result).Inc()
	if result != ResultSkipped {
		p.deliveryLatency.Observe(latency.Seconds())
	}
}

func (p *prometheusObserver) RecordAutoStop() {
	p.autoStopCounter.Inc()
}
