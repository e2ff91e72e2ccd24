package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/workflow"
)

// =============================================================================
// Collector
// =============================================================================

// Collector records workflow and run-store measurements on its own registry.
// It implements workflow.Observer.
type Collector struct {
	registry *prometheus.Registry

	// workflow
	stepExecutionsTotal *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec
	batchesTotal        *prometheus.CounterVec
	batchWidth          *prometheus.HistogramVec
	batchFailedBranches *prometheus.CounterVec
	batchDuration       *prometheus.HistogramVec
	repairAttempts      *prometheus.CounterVec
	repairViolations    *prometheus.HistogramVec
	runsTotal           *prometheus.CounterVec
	runDuration         *prometheus.HistogramVec

	// run store
	storeOpsTotal   *prometheus.CounterVec
	storeOpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

var _ workflow.Observer = (*Collector)(nil)

// NewCollector registers every metric under namespace on a fresh registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.stepExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_executions_total",
			Help:      "Total number of step invocations",
		},
		[]string{"step", "status"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step invocation duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"step"},
	)

	c.batchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of parallel batches, by outcome",
		},
		[]string{"converge", "status"},
	)

	c.batchWidth = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_width",
			Help:      "Number of branches per parallel batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"converge"},
	)

	c.batchFailedBranches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_failed_branches_total",
			Help:      "Total number of failed branches",
		},
		[]string{"converge"},
	)

	c.batchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Parallel batch duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"converge"},
	)

	c.repairAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_attempts_total",
			Help:      "Total number of guard repair rounds",
		},
		[]string{"guard"},
	)

	c.repairViolations = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repair_violations",
			Help:      "Violations found per repair round",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		},
		[]string{"guard"},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of runs, by final status",
		},
		[]string{"graph", "status"},
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"graph"},
	)

	c.storeOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of run-store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	c.storeOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Run-store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// =============================================================================
// workflow.Observer
// =============================================================================

func (c *Collector) StepFinished(step string, duration time.Duration, err error) {
	c.stepExecutionsTotal.WithLabelValues(step, outcome(err)).Inc()
	c.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

func (c *Collector) BatchFinished(converge string, width, failed int, duration time.Duration) {
	status := "success"
	switch {
	case failed > 0 && failed >= width:
		status = "failed"
	case failed > 0:
		status = "partial"
	}
	c.batchesTotal.WithLabelValues(converge, status).Inc()
	c.batchWidth.WithLabelValues(converge).Observe(float64(width))
	c.batchFailedBranches.WithLabelValues(converge).Add(float64(failed))
	c.batchDuration.WithLabelValues(converge).Observe(duration.Seconds())
}

func (c *Collector) RepairAttempted(guard string, violations int) {
	c.repairAttempts.WithLabelValues(guard).Inc()
	c.repairViolations.WithLabelValues(guard).Observe(float64(violations))
}

func (c *Collector) RunFinished(graph string, status workflow.ExecutionStatus, duration time.Duration) {
	c.runsTotal.WithLabelValues(graph, string(status)).Inc()
	c.runDuration.WithLabelValues(graph).Observe(duration.Seconds())
}

// =============================================================================
// Run store
// =============================================================================

// RecordStoreOp records one run-store call.
func (c *Collector) RecordStoreOp(backend, operation string, duration time.Duration, err error) {
	c.storeOpsTotal.WithLabelValues(backend, operation, outcome(err)).Inc()
	c.storeOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// =============================================================================
// Export
// =============================================================================

// WriteTextfile writes the registry in the text exposition format, for the
// node_exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	c.logger.Debug("metrics written", zap.String("path", path))
	return nil
}

// Push sends the registry to a Pushgateway under job, replacing the
// previous group for that job.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return errors.New("pushgateway url is empty")
	}
	if err := push.New(url, job).Gatherer(c.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	c.logger.Debug("metrics pushed", zap.String("url", url), zap.String("job", job))
	return nil
}

// Export writes the textfile and pushes, whichever is configured. Both are
// attempted; their errors are joined.
func (c *Collector) Export(ctx context.Context, textfilePath, pushURL, job string) error {
	var errs []error
	if textfilePath != "" {
		errs = append(errs, c.WriteTextfile(textfilePath))
	}
	if pushURL != "" {
		errs = append(errs, c.Push(ctx, pushURL, job))
	}
	return errors.Join(errs...)
}

// outcome maps an error to a status label.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}
