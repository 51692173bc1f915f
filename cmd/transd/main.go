package main

import (
	"flag"
	"fmt"

	"github.com/cnclabs/transx/internal/cli"
	"github.com/cnclabs/transx/internal/models/transd"
	"github.com/cnclabs/transx/pkg/trainer"
)

func main() {
	f := cli.Register(flag.CommandLine)
	relDim := flag.Int("relation_dimensions", 0, "Dimension m of the relation space (0 = same as -dimensions)")

	flag.Usage = func() {
		fmt.Println("[TransX]")
		fmt.Println("\tGolang knowledge graph embeddings - TransD")
		fmt.Println()
		fmt.Println("TransD (Dynamic Mapping Matrices):")
		fmt.Println("\t✓ Every entity and relation carries a projection vector")
		fmt.Println("\t✓ e⊥ = (e_p·e) r_p + I e maps entities into relation space")
		fmt.Println("\t✓ No per-relation matrix to store, unlike TransR")
		fmt.Println()
		fmt.Println("Key parameters:")
		fmt.Println("\t- relation_dimensions: m, may differ from the entity dimension n")
		fmt.Println()
		fmt.Println("Options Description:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("./transd -train kg.txt -save_dir out -dimensions 50 -relation_dimensions 100")
		fmt.Println()
		fmt.Println("Outputs (in -save_dir):")
		fmt.Println("\ttransd_entity.txt, transd_entity_projection.txt")
		fmt.Println("\ttransd_relation.txt, transd_relation_projection.txt")
	}
	flag.Parse()

	cli.Main("TransD - Dynamic Mapping Matrices", f, func(run *cli.Run) (trainer.Model, error) {
		if f.Overrides("relation_dimensions") {
			run.File.TransD.RelationDimensions = *relDim
		}
		opts := transd.Options{RelationDim: run.File.TransD.RelationDimensions}
		m := opts.RelationDim
		if m == 0 {
			m = run.Hyper.Dim
		}
		run.Settings([2]string{"relation dim", fmt.Sprintf("%d", m)})
		return transd.New(opts), nil
	})
}
