package trainer

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/sampling"
)

// Summary describes a finished run
type Summary struct {
	Epochs   int
	Losses   []float64 // summed positive hinge loss per epoch
	Updates  []int     // gradient steps per epoch
	Accuracy []float64 // per epoch, empty without a dev set
	Duration time.Duration
}

// Learn trains m on data: for each epoch it draws floor(n/batch) batches
// without replacement, corrupts every batch member once, steps on each pair
// whose hinge loss margin + S(pos) - S(neg) is strictly positive and commits
// at batch end. With a dev set it reports accuracy after every epoch. The
// final tables go to every sink.
func Learn(ctx *Context, m Model, data *Dataset, hyper Hyperparameters, sinks ...Sink) (*Summary, error) {
	if ctx == nil {
		ctx = NewContext(1)
	}
	ctx.normalize()

	if err := hyper.Validate(len(data.Train), data.NumEntities); err != nil {
		return nil, err
	}
	if err := m.Init(ctx, data, hyper); err != nil {
		return nil, fmt.Errorf("init %s: %w", m.Name(), err)
	}

	logger := ctx.Logger.With(zap.String("model", m.Name()))
	corruptor := ctx.Corruptor
	if corruptor == nil {
		corruptor = sampling.NewCorruptor(hyper.Policy, data.Train, data.NumEntities, data.NumRelations)
	}
	batcher := sampling.NewBatcher(len(data.Train))
	numBatches := sampling.BatchCount(len(data.Train), hyper.BatchSize)

	logger.Info("training started",
		zap.Int("triples", len(data.Train)),
		zap.Int("entities", data.NumEntities),
		zap.Int("relations", data.NumRelations),
		zap.Int("epochs", hyper.Epochs),
		zap.Int("batches_per_epoch", numBatches))

	summary := &Summary{Epochs: hyper.Epochs}
	start := time.Now()
	for epoch := 0; epoch < hyper.Epochs; epoch++ {
		epochStart := time.Now()
		epochLoss := 0.0
		epochUpdates := 0

		for b := 0; b < numBatches; b++ {
			indices := batcher.Sample(hyper.BatchSize, ctx.Rand)
			pairs := sampling.CorruptBatch(corruptor, data.Train, indices, ctx.Rand)
			loss, updates := step(m, pairs, hyper)
			m.Commit()

			epochLoss += loss
			epochUpdates += updates
			ctx.Metrics.ObserveBatch(m.Name(), updates)
		}

		report := EpochReport{
			Model:    m.Name(),
			Epoch:    epoch + 1,
			Epochs:   hyper.Epochs,
			Batches:  numBatches,
			Updates:  epochUpdates,
			Loss:     epochLoss,
			Duration: time.Since(epochStart),
		}
		if data.Dev != nil {
			if acc, ok := Accuracy(m, data.Dev, hyper.Margin); ok {
				report.Accuracy, report.HasAccuracy = acc, true
				summary.Accuracy = append(summary.Accuracy, acc)
				ctx.Metrics.SetAccuracy(m.Name(), acc)
			}
		}
		summary.Losses = append(summary.Losses, epochLoss)
		summary.Updates = append(summary.Updates, epochUpdates)
		ctx.Metrics.ObserveEpoch(m.Name(), epochLoss, report.Duration)
		ctx.Reporter.Epoch(report)

		logger.Debug("epoch finished",
			zap.Int("epoch", epoch+1),
			zap.Float64("loss", epochLoss),
			zap.Int("updates", epochUpdates))
	}
	summary.Duration = time.Since(start)

	if len(sinks) > 0 {
		export := m.Export(data.Vocabulary)
		for _, s := range sinks {
			if err := s.Persist(export); err != nil {
				return summary, fmt.Errorf("persist %s: %w", m.Name(), err)
			}
		}
	}
	logger.Info("training finished", zap.Duration("elapsed", summary.Duration))
	return summary, nil
}

// step scores every pair against the committed snapshot and updates the
// staged state for the ones violating the margin
func step(m Model, pairs []sampling.Pair, hyper Hyperparameters) (loss float64, updates int) {
	for _, p := range pairs {
		pos, neg := m.PairScores(p)
		if l := hyper.Margin + pos - neg; l > 0 {
			m.Update(p, hyper.LearningRate)
			loss += l
			updates++
		}
	}
	return loss, updates
}

// Accuracy returns the fraction of triples whose score is below margin.
// ok is false for an empty set.
func Accuracy(s Scorer, triples []knowledge.Triple, margin float64) (acc float64, ok bool) {
	if len(triples) == 0 {
		return 0, false
	}
	hits := 0
	for _, t := range triples {
		if s.Score(t) < margin {
			hits++
		}
	}
	return float64(hits) / float64(len(triples)), true
}

// Predict scores a triple given by names
func Predict(kg *knowledge.KnowledgeGraph, s Scorer, head, relation, tail string) (float64, error) {
	t, err := kg.Lookup(head, relation, tail)
	if err != nil {
		return 0, err
	}
	return s.Score(t), nil
}
