package cli

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cnclabs/transx/internal/models/transe"
	"github.com/cnclabs/transx/pkg/config"
	"github.com/cnclabs/transx/pkg/store"
	"github.com/cnclabs/transx/pkg/trainer"
)

// Pretrain returns the TransE tables a matrix model starts from: read from
// the given files, or trained in-process for b.Epochs. It returns nil when
// neither is configured.
func (r *Run) Pretrain(b config.Bootstrap) (*trainer.Pretrained, error) {
	switch {
	case b.Entity != "" || b.Relation != "":
		if b.Entity == "" || b.Relation == "" {
			return nil, fmt.Errorf("%w: -transe_entity and -transe_relation go together", ErrUsage)
		}
		pre, err := store.LoadPretrained(b.Entity, b.Relation, r.Graph)
		if err != nil {
			return nil, fmt.Errorf("load TransE tables: %w", err)
		}
		fmt.Fprintf(r.out, "TransE tables loaded from <%s> and <%s>\n\n", b.Entity, b.Relation)
		return pre, nil

	case b.Epochs > 0:
		fmt.Fprintf(r.out, "Pre-training TransE for %d epochs:\n", b.Epochs)
		hyper := r.Hyper
		hyper.Epochs = b.Epochs
		te := transe.New()
		start := time.Now()
		_, err := trainer.Learn(r.Ctx, te, r.Data, hyper)
		r.trainTime += time.Since(start)
		if err != nil {
			return nil, fmt.Errorf("pre-train TransE: %w", err)
		}
		r.Logger.Info("TransE pre-training done", zap.Int("epochs", b.Epochs))
		fmt.Fprintln(r.out)
		return te.Tables(), nil
	}
	return nil, nil
}

// BootstrapFlags are the TransE seeding options of the matrix models
type BootstrapFlags struct {
	Entity   string
	Relation string
	Epochs   int
}

// RegisterBootstrap defines -transe_entity, -transe_relation and -transe_epochs
func RegisterBootstrap(f *Flags) *BootstrapFlags {
	b := &BootstrapFlags{}
	f.fs.StringVar(&b.Entity, "transe_entity", "", "TransE entity embeddings to start from")
	f.fs.StringVar(&b.Relation, "transe_relation", "", "TransE relation embeddings to start from")
	f.fs.IntVar(&b.Epochs, "transe_epochs", 0, "Train TransE for this many epochs first when no files are given")
	return b
}

// Apply lays the explicitly set bootstrap flags over c
func (b *BootstrapFlags) Apply(f *Flags, c *config.Bootstrap) {
	if f.Overrides("transe_entity") && b.Entity != "" {
		c.Entity = b.Entity
	}
	if f.Overrides("transe_relation") && b.Relation != "" {
		c.Relation = b.Relation
	}
	if f.Overrides("transe_epochs") {
		c.Epochs = b.Epochs
	}
}
