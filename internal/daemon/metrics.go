package daemon

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/config"
)

// logCounterHook counts emitted log lines by severity.
type logCounterHook struct {
	counter *prometheus.CounterVec
}

func newLogCounterHook(namespace string) *logCounterHook {
	return &logCounterHook{
		counter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "log", Name: "lines_total",
			Help: "number of log lines emitted, sliced by severity",
		}, []string{"severity"}),
	}
}

func (h *logCounterHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *logCounterHook) Fire(entry *logrus.Entry) error {
	h.counter.WithLabelValues(entry.Level.String()).Inc()
	return nil
}

func (d *Daemon) registerMetrics() {
	logHook := newLogCounterHook(prometheusNamespace)
	d.logger.Logger.AddHook(logHook)
	d.metricsRegistry.MustRegister(logHook.counter)

	buildInfoGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: prometheusNamespace, Subsystem: "build", Name: "info"},
		[]string{"version", "goversion", "commit", "branch", "build_timestamp"},
	)
	buildInfoGauge.With(prometheus.Labels{
		"version":         config.Version,
		"commit":          config.CommitHash,
		"branch":          config.Branch,
		"build_timestamp": config.BuildTimestamp,
		"goversion":       runtime.Version(),
	}).Inc()

	d.metricsRegistry.MustRegister(collectors.NewGoCollector())
	d.metricsRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	d.metricsRegistry.MustRegister(buildInfoGauge)
}

func (d *Daemon) MetricsRegistry() *prometheus.Registry {
	return d.metricsRegistry
}

func (d *Daemon) MetricsNamespace() string {
	return prometheusNamespace
}
