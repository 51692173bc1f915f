package trainer

import (
	"fmt"

	"github.com/cnclabs/transx/pkg/embedding"
	"github.com/cnclabs/transx/pkg/vecmath"
)

// Pretrained hands the final tables of one run to the initializer of the next
type Pretrained struct {
	Entities  *embedding.Table
	Relations *embedding.Table
}

// Check verifies the tables match the dataset and the entity dimension
func (p *Pretrained) Check(data *Dataset, dim int) error {
	if p.Entities == nil || p.Relations == nil {
		return fmt.Errorf("pretrained tables are incomplete")
	}
	if p.Entities.Rows() != data.NumEntities || p.Relations.Rows() != data.NumRelations {
		return fmt.Errorf("pretrained tables cover %d entities / %d relations, dataset has %d / %d",
			p.Entities.Rows(), p.Relations.Rows(), data.NumEntities, data.NumRelations)
	}
	if p.Entities.Dim() != dim {
		return fmt.Errorf("pretrained entity dimension %d does not match %d", p.Entities.Dim(), dim)
	}
	return nil
}

// FreshUnitTable fills a rows x dim table with random unit vectors
func FreshUnitTable(ctx *Context, rows, dim int) *embedding.Table {
	t := embedding.NewTable(rows, dim)
	for i := 0; i < rows; i++ {
		t.Set(i, vecmath.InitUnitVector(ctx.Rand, dim))
	}
	return t
}
