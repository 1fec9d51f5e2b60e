package metrics

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"regtest/internal/domain"
	"regtest/internal/execution"
)

// Collector captures metrics for harness runs. It is an execution.Observer
// and is safe for concurrent use by workers.
type Collector struct {
	execution.BaseObserver

	registry       *prometheus.Registry
	testsTotal     *prometheus.CounterVec
	actionsTotal   *prometheus.CounterVec
	testDuration   *prometheus.HistogramVec
	actionDuration *prometheus.HistogramVec
	running        prometheus.Gauge
	runDuration    prometheus.Gauge
	runInfo        *prometheus.GaugeVec
	errorsTotal    prometheus.Counter
}

var _ execution.Observer = (*Collector)(nil)

// NewCollector initializes a new metrics registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		testsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "regtest_tests_total", Help: "Total number of finished tests"},
			[]string{"status"},
		),
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "regtest_actions_total", Help: "Total number of executed actions"},
			[]string{"action", "status"},
		),
		testDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regtest_test_duration_seconds",
				Help:    "Test duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regtest_action_duration_seconds",
				Help:    "Action duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action", "status"},
		),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regtest_running_tests",
			Help: "Tests currently executing",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regtest_run_duration_seconds",
			Help: "Wall time of the last finished batch",
		}),
		runInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "regtest_run_info", Help: "Run metadata for traceability"},
			[]string{"run_id"},
		),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regtest_harness_errors_total",
			Help: "Harness faults reported during the run",
		}),
	}
	registry.MustRegister(c.testsTotal, c.actionsTotal, c.testDuration, c.actionDuration,
		c.running, c.runDuration, c.runInfo, c.errorsTotal)
	return c
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) StartingRun(runID string, _ int) {
	c.runInfo.Reset()
	c.runInfo.WithLabelValues(runID).Set(1)
}

func (c *Collector) StartingTest(domain.TestDescription, int) {
	c.running.Inc()
}

// FinishedTest records a test outcome. Tests no worker picked up have no
// worker ID; they are counted but do not touch the running gauge.
func (c *Collector) FinishedTest(res *domain.TestResult) {
	status := res.Status.Kind.String()
	c.testsTotal.WithLabelValues(status).Inc()
	if res.WorkerID == 0 {
		return
	}
	c.running.Dec()
	c.testDuration.WithLabelValues(status).Observe(res.Elapsed().Seconds())
	for _, s := range res.Sections {
		st := s.Status.Kind.String()
		c.actionsTotal.WithLabelValues(s.Action, st).Inc()
		c.actionDuration.WithLabelValues(s.Action, st).Observe(s.Elapsed.Seconds())
	}
}

func (c *Collector) FinishedRun(_ domain.Stats, elapsed time.Duration) {
	c.runDuration.Set(elapsed.Seconds())
}

func (c *Collector) Error(string, error) {
	c.errorsTotal.Inc()
}

// Write writes all metrics to a Prometheus text file.
func (c *Collector) Write(path string) error {
	metricFamilies, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range metricFamilies {
		if err := enc.Encode(family); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
