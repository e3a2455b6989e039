package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VenkatGGG/gpu-reserve/internal/scheduler"
)

type Metrics struct {
	registry *prometheus.Registry

	pending        prometheus.Gauge
	active         prometheus.Gauge
	memoryUsed     prometheus.Gauge
	memoryTotal    prometheus.Gauge
	utilization    prometheus.Gauge
	idleStreak     prometheus.Gauge
	lowStreak      prometheus.Gauge
	notifyInterval prometheus.Gauge
	cycles         prometheus.Counter
	notifications  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpureserve",
			Name:      "pending_reservations",
			Help:      "Reservations waiting in the queue, including the active one.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpureserve",
			Name:      "active_reservation",
			Help:      "1 when a reservation currently holds the GPU.",
		}),
		memoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpureserve",
			Name:      "gpu_memory_used_mib",
			Help:      "GPU memory in use at the last poll.",
		}),
		memoryTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpureserve",
			Name:      "gpu_memory_total_mib",
			Help:      "GPU memory capacity at the last poll.",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpureserve",
			Name:      "gpu_utilization_percent",
			Help:      "GPU core utilization at the last poll.",
		}),
		idleStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpureserve",
			Name:      "idle_streak",
			Help:      "Consecutive idle polls since the last idle notice.",
		}),
		lowStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpureserve",
			Name:      "low_efficiency_streak",
			Help:      "Consecutive low-efficiency polls since the last notice.",
		}),
		notifyInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpureserve",
			Name:      "notify_interval_seconds",
			Help:      "Current minimum spacing between holder notices.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpureserve",
			Name:      "cycles_total",
			Help:      "Scheduler cycles completed.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpureserve",
			Name:      "notifications_total",
			Help:      "Mails delivered, by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.pending, m.active,
		m.memoryUsed, m.memoryTotal, m.utilization,
		m.idleStreak, m.lowStreak, m.notifyInterval,
		m.cycles, m.notifications,
	)
	return m
}

func (m *Metrics) Observe(status scheduler.Status) {
	m.cycles.Inc()
	m.pending.Set(float64(len(status.Pending)))
	if status.Active != nil {
		m.active.Set(1)
	} else {
		m.active.Set(0)
	}
	if status.Sampled {
		m.memoryUsed.Set(float64(status.Sample.UsedMiB))
		m.memoryTotal.Set(float64(status.Sample.TotalMiB))
		m.utilization.Set(float64(status.Sample.UtilizationPercent))
	}
	m.idleStreak.Set(float64(status.IdleCount))
	m.lowStreak.Set(float64(status.LowEfficiencyCount))
	m.notifyInterval.Set(status.NotifyInterval.Seconds())
	for _, kind := range status.Delivered {
		m.notifications.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
