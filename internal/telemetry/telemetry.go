// Package telemetry records batch-run metrics in a per-run Prometheus
// registry and exports them for the node-exporter textfile collector.
package telemetry

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

const namespace = "loanrisk"

// Recorder owns the metric series of one pipeline run.
type Recorder struct {
	registry *prometheus.Registry

	stageDuration  *prometheus.GaugeVec
	rows           *prometheus.GaugeVec
	evaluation     *prometheus.GaugeVec
	candidateScore *prometheus.GaugeVec
	rowsSkipped    prometheus.Counter
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
		}, []string{"stage"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows",
			Help:      "Number of rows per data subset.",
		}, []string{"subset"}),
		evaluation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluation_score",
			Help:      "Held-out evaluation metrics per model.",
		}, []string{"model", "metric"}),
		candidateScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "search_candidate_score",
			Help:      "Mean cross-validated score of each grid search candidate.",
		}, []string{"candidate"}),
		rowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Malformed input rows skipped by the loader.",
		}),
	}
	r.registry.MustRegister(r.stageDuration, r.rows, r.evaluation, r.candidateScore, r.rowsSkipped)
	return r
}

// Registry exposes the underlying registry, e.g. for promhttp.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the run's metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveStage records how long stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// Stage starts timing stage; call the returned func when it finishes.
func (r *Recorder) Stage(stage string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		r.ObserveStage(stage, d)
		return d
	}
}

// SetRows records the size of a subset (loaded, train, test, explained).
func (r *Recorder) SetRows(subset string, n int) {
	r.rows.WithLabelValues(subset).Set(float64(n))
}

// AddSkipped counts malformed rows dropped while loading.
func (r *Recorder) AddSkipped(n int) {
	if n > 0 {
		r.rowsSkipped.Add(float64(n))
	}
}

// SetEvaluation records one held-out metric of one model.
func (r *Recorder) SetEvaluation(model, metric string, value float64) {
	r.evaluation.WithLabelValues(model, metric).Set(value)
}

// SetCandidateScore records the mean CV score of grid candidate i.
func (r *Recorder) SetCandidateScore(candidate int, score float64) {
	r.candidateScore.WithLabelValues(strconv.Itoa(candidate)).Set(score)
}

// WriteTextfile writes every series to path in the text exposition format.
// The file is written to a temporary name and renamed so the collector
// never reads a partial file.
func (r *Recorder) WriteTextfile(path string) (err error) {
	families, err := r.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "telemetry: gather")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "telemetry: create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "telemetry: create temp file in %s", dir)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	for _, mf := range families {
		if _, err = expfmt.MetricFamilyToText(tmp, mf); err != nil {
			_ = tmp.Close()
			return errors.Wrap(err, "telemetry: encode")
		}
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "telemetry: close")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "telemetry: rename to %s", path)
	}
	return nil
}
