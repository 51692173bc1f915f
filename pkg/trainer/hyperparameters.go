package trainer

import (
	"errors"
	"fmt"

	"github.com/cnclabs/transx/pkg/sampling"
	"github.com/cnclabs/transx/pkg/vecmath"
)

var (
	// ErrInvalidHyperparameters wraps every Validate failure
	ErrInvalidHyperparameters = errors.New("invalid hyperparameters")
	// ErrEmptyTrainingSet is returned when there is nothing to train on
	ErrEmptyTrainingSet = errors.New("empty training set")
)

// Hyperparameters shared by every trainer. Variant specific settings
// (relation dimension, sparsity floor, penalty weights, cluster budget) live
// in each model's Options.
type Hyperparameters struct {
	Dim          int             // entity embedding dimension k
	Margin       float64         // hinge margin
	LearningRate float64         // SGD step size
	BatchSize    int             // triples per mini-batch
	Epochs       int             // training rounds
	Norm         vecmath.Metric  // L1 or L2 score
	Policy       sampling.Policy // negative sampling policy
}

// DefaultHyperparameters mirrors the command line defaults
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		Dim:          50,
		Margin:       1.0,
		LearningRate: 0.01,
		BatchSize:    128,
		Epochs:       100,
		Norm:         vecmath.L2,
		Policy:       sampling.PolicyUniform,
	}
}

// Validate rejects configurations the trainers cannot run with
func (h Hyperparameters) Validate(numTriples, numEntities int) error {
	if numTriples == 0 {
		return ErrEmptyTrainingSet
	}
	switch {
	case h.Dim <= 0:
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidHyperparameters, h.Dim)
	case h.Margin <= 0:
		return fmt.Errorf("%w: margin must be positive, got %g", ErrInvalidHyperparameters, h.Margin)
	case h.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidHyperparameters, h.LearningRate)
	case h.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidHyperparameters, h.Epochs)
	case h.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidHyperparameters, h.BatchSize)
	case h.BatchSize > numTriples:
		return fmt.Errorf("%w: batch size %d exceeds the %d training triples", ErrInvalidHyperparameters, h.BatchSize, numTriples)
	case !h.Norm.Valid():
		return fmt.Errorf("%w: norm must be 1 (L1) or 2 (L2), got %d", ErrInvalidHyperparameters, int(h.Norm))
	case h.Policy != sampling.PolicyUniform && h.Policy != sampling.PolicyBernoulli:
		return fmt.Errorf("%w: unknown sampling policy %q", ErrInvalidHyperparameters, h.Policy)
	case numEntities < 2:
		return fmt.Errorf("%w: negative sampling needs at least 2 entities, got %d", ErrInvalidHyperparameters, numEntities)
	}
	return nil
}
