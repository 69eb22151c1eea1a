// Package metrics exposes pipeline activity as Prometheus metrics that can
// be written to a node-exporter textfile.
package metrics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Veraticus/lookalike/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lookalike"

// Prometheus holds the pipeline metrics on a private registry.
type Prometheus struct {
	registry       *prometheus.Registry
	BatchLoss      prometheus.Gauge
	BatchDuration  prometheus.Histogram
	Batches        prometheus.Counter
	Samples        prometheus.Counter
	Skipped        prometheus.Counter
	EpochLoss      *prometheus.GaugeVec
	EpochAccuracy  *prometheus.GaugeVec
	Predictions    *prometheus.CounterVec
	EvalAccuracy   prometheus.Gauge
	CurrentEpoch   prometheus.Gauge
	ValidationLoss *prometheus.GaugeVec
}

// NewPrometheusMetrics creates and registers every metric.
func NewPrometheusMetrics() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		BatchLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "batch_loss",
			Help:      "Cross-entropy loss of the most recent training batch.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "batch_duration_seconds",
			Help:      "Time spent loading and fitting one training batch.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "batches_total",
			Help:      "Training batches processed.",
		}),
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "samples_total",
			Help:      "Training samples processed.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "skipped_samples_total",
			Help:      "Images skipped because they could not be decoded.",
		}),
		CurrentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "epoch",
			Help:      "Last completed training epoch.",
		}),
		EpochLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "epoch_loss",
			Help:      "Mean batch loss of each epoch.",
		}, []string{"epoch"}),
		EpochAccuracy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "epoch_accuracy",
			Help:      "Training accuracy of each epoch.",
		}, []string{"epoch"}),
		ValidationLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "validation_loss",
			Help:      "Validation loss after each epoch.",
		}, []string{"epoch"}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predict",
			Name:      "predictions_total",
			Help:      "Predictions made, by predicted label.",
		}, []string{"label"}),
		EvalAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evaluate",
			Name:      "accuracy",
			Help:      "Accuracy of the most recent evaluation.",
		}),
	}

	p.registry.MustRegister(
		p.BatchLoss,
		p.BatchDuration,
		p.Batches,
		p.Samples,
		p.Skipped,
		p.CurrentEpoch,
		p.EpochLoss,
		p.EpochAccuracy,
		p.ValidationLoss,
		p.Predictions,
		p.EvalAccuracy,
	)
	return p
}

// Registry returns the registry holding the metrics.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// OnBatch records one training batch.
func (p *Prometheus) OnBatch(_ context.Context, progress model.BatchProgress) {
	p.BatchLoss.Set(progress.Loss)
	p.BatchDuration.Observe(progress.Duration.Seconds())
	p.Batches.Inc()
}

// OnEpoch records one completed epoch.
func (p *Prometheus) OnEpoch(_ context.Context, m model.EpochMetrics) {
	epoch := strconv.Itoa(m.Epoch)
	p.CurrentEpoch.Set(float64(m.Epoch))
	p.Samples.Add(float64(m.Samples))
	p.EpochLoss.WithLabelValues(epoch).Set(m.Loss)
	p.EpochAccuracy.WithLabelValues(epoch).Set(m.Accuracy)
	if m.HasValidation {
		p.ValidationLoss.WithLabelValues(epoch).Set(m.ValLoss)
	}
}

// OnSkip records an undecodable image. Its signature matches the image
// source's skip hook.
func (p *Prometheus) OnSkip(_ int, _ string, _ error) {
	p.Skipped.Inc()
}

// OnPrediction records a single-image prediction.
func (p *Prometheus) OnPrediction(result model.PredictionResult) {
	p.Predictions.WithLabelValues(result.Label).Inc()
}

// OnEvaluation records the accuracy of an evaluation pass.
func (p *Prometheus) OnEvaluation(report *model.ClassificationReport) {
	p.EvalAccuracy.Set(report.Accuracy)
}

// WriteTextfile writes every metric to path in the Prometheus text format.
func (p *Prometheus) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
