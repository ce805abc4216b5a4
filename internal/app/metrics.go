package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the scan loop's Prometheus collectors. Each Metrics owns its
// registry so tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	ScanCycles      prometheus.Counter
	MarketScans     *prometheus.CounterVec
	ScanDuration    prometheus.Histogram
	WalletsAnalyzed *prometheus.CounterVec
	Suspects        *prometheus.CounterVec
	Alerts          *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	LastScan        prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ScanCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "insiderwatch_scan_cycles_total",
			Help: "Completed scan cycles.",
		}),
		MarketScans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insiderwatch_market_scans_total",
			Help: "Market scans by result.",
		}, []string{"result"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "insiderwatch_market_scan_seconds",
			Help:    "Wall time of one market scan.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		WalletsAnalyzed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insiderwatch_wallets_total",
			Help: "Candidate wallets by outcome.",
		}, []string{"outcome"}),
		Suspects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insiderwatch_suspects_total",
			Help: "Ranked suspects by severity.",
		}, []string{"severity"}),
		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insiderwatch_alerts_total",
			Help: "Alert dedup outcomes.",
		}, []string{"outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insiderwatch_notifications_total",
			Help: "Notification attempts by result.",
		}, []string{"result"}),
		LastScan: f.NewGauge(prometheus.GaugeOpts{
			Name: "insiderwatch_last_scan_timestamp_seconds",
			Help: "Unix time the last scan cycle finished.",
		}),
	}
}
