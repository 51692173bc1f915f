// Package metrics exposes training progress as Prometheus collectors
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Trainer groups the collectors updated by the training driver
type Trainer struct {
	batches       *prometheus.CounterVec
	updates       *prometheus.CounterVec
	epochLoss     *prometheus.GaugeVec
	accuracy      *prometheus.GaugeVec
	epochDuration *prometheus.HistogramVec
	memory        prometheus.Gauge
}

// NewTrainer builds the collectors and registers them on reg
func NewTrainer(reg prometheus.Registerer) (*Trainer, error) {
	m := &Trainer{
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transx_batches_total",
				Help: "Total number of mini-batches processed",
			},
			[]string{"model"},
		),
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transx_updates_total",
				Help: "Total number of gradient steps taken (pairs with positive hinge loss)",
			},
			[]string{"model"},
		),
		epochLoss: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "transx_epoch_loss",
				Help: "Summed hinge loss of the last completed epoch",
			},
			[]string{"model"},
		),
		accuracy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "transx_validation_accuracy",
				Help: "Fraction of validation triples scored below the margin",
			},
			[]string{"model"},
		),
		epochDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transx_epoch_duration_seconds",
				Help:    "Wall time of one training epoch",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		memory: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "transx_process_memory_bytes",
				Help: "Resident memory of the training process in bytes",
			},
		),
	}
	for _, c := range []prometheus.Collector{m.batches, m.updates, m.epochLoss, m.accuracy, m.epochDuration, m.memory} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveBatch counts one processed batch and the steps it took
func (m *Trainer) ObserveBatch(model string, updates int) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(model).Inc()
	m.updates.WithLabelValues(model).Add(float64(updates))
}

// ObserveEpoch records the loss and wall time of a finished epoch
func (m *Trainer) ObserveEpoch(model string, loss float64, d time.Duration) {
	if m == nil {
		return
	}
	m.epochLoss.WithLabelValues(model).Set(loss)
	m.epochDuration.WithLabelValues(model).Observe(d.Seconds())
}

// SetAccuracy records the latest validation accuracy
func (m *Trainer) SetAccuracy(model string, acc float64) {
	if m == nil {
		return
	}
	m.accuracy.WithLabelValues(model).Set(acc)
}

// SetMemory records the process resident set size
func (m *Trainer) SetMemory(bytes uint64) {
	if m == nil {
		return
	}
	m.memory.Set(float64(bytes))
}
