package trainer

import (
	"fmt"
	"io"
	"time"
)

// EpochReport summarizes one finished epoch
type EpochReport struct {
	Model    string
	Epoch    int // 1-based
	Epochs   int
	Batches  int
	Updates  int
	Loss     float64
	Duration time.Duration

	// Accuracy is only meaningful when HasAccuracy is set
	Accuracy    float64
	HasAccuracy bool
}

// Reporter receives per-epoch progress
type Reporter interface {
	Epoch(r EpochReport)
}

// NopReporter discards every report
type NopReporter struct{}

// Epoch implements Reporter
func (NopReporter) Epoch(EpochReport) {}

// ConsoleReporter prints one tab-indented progress line per epoch
type ConsoleReporter struct {
	w io.Writer
}

// NewConsoleReporter writes progress lines to w
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{w: w}
}

// Epoch implements Reporter
func (c *ConsoleReporter) Epoch(r EpochReport) {
	fmt.Fprintf(c.w, "\tEpoch: %d/%d\tLoss: %.6f\tUpdates: %d", r.Epoch, r.Epochs, r.Loss, r.Updates)
	if r.HasAccuracy {
		fmt.Fprintf(c.w, "\tAccuracy: %.4f", r.Accuracy)
	}
	fmt.Fprintf(c.w, "\tTime: %.2fs\n", r.Duration.Seconds())
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(EpochReport)

// Epoch implements Reporter
func (f ReporterFunc) Epoch(r EpochReport) { f(r) }
