package trainer

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/cnclabs/transx/pkg/metrics"
	"github.com/cnclabs/transx/pkg/sampling"
)

// Context carries everything a training run would otherwise take from
// globals: the random stream, the logger, the progress sink and optional
// metrics. A run is reproducible given the seed of Rand.
type Context struct {
	Rand     *rand.Rand
	Logger   *zap.Logger
	Reporter Reporter
	Metrics  *metrics.Trainer

	// Corruptor overrides the sampler built from Hyperparameters.Policy
	Corruptor sampling.Corruptor
}

// NewContext returns a silent context seeded with seed
func NewContext(seed int64) *Context {
	return &Context{
		Rand:     rand.New(rand.NewSource(seed)),
		Logger:   zap.NewNop(),
		Reporter: NopReporter{},
	}
}

func (c *Context) normalize() {
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(1))
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Reporter == nil {
		c.Reporter = NopReporter{}
	}
}
