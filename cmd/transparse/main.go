package main

import (
	"flag"
	"fmt"

	"github.com/cnclabs/transx/internal/cli"
	"github.com/cnclabs/transx/internal/models/transparse"
	"github.com/cnclabs/transx/pkg/config"
	"github.com/cnclabs/transx/pkg/trainer"
)

func main() {
	f := cli.Register(flag.CommandLine)
	boot := cli.RegisterBootstrap(f)
	separate := flag.Bool("separate", false, "Learn distinct head and tail matrices per relation")
	theta := flag.Float64("theta", config.Default().TranSparse.Theta, "Sparse degree of the most used relation, in [0, 1]")

	flag.Usage = func() {
		fmt.Println("[TransX]")
		fmt.Println("\tGolang knowledge graph embeddings - TranSparse")
		fmt.Println()
		fmt.Println("TranSparse (Adaptive Sparse Transfer Matrices):")
		fmt.Println("\t✓ M_h h + r ≈ M_t t with n x n sparse matrices")
		fmt.Println("\t✓ Non-zero budget per relation: round(theta_r * n^2), diagonal always kept")
		fmt.Println("\t✓ Sparsity pattern fixed at start, kept for the whole run")
		fmt.Println()
		fmt.Println("Variants:")
		fmt.Println("\t- share (default): one matrix per relation, density from triple count")
		fmt.Println("\t- separate (-separate): head / tail matrices, density from distinct heads / tails")
		fmt.Println()
		fmt.Println("Key parameters:")
		fmt.Println("\t- theta: degree of the most used relation; theta_r = 1 - (1 - theta) * usage_r / max usage")
		fmt.Println("\t  • 1 = every matrix is dense, 0 = the most used relation is diagonal only")
		fmt.Println()
		fmt.Println("Options Description:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("./transparse -train kg.txt -save_dir out -theta 0.3 -transe_epochs 100")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("\t# Separate head/tail matrices seeded from TransE files")
		fmt.Println("\t./transparse -train kg.txt -save_dir out -separate \\")
		fmt.Println("\t         -transe_entity ent.txt -transe_relation rel.txt")
	}
	flag.Parse()

	cli.Main("TranSparse - Adaptive Sparse Transfer Matrices", f, func(run *cli.Run) (trainer.Model, error) {
		c := &run.File.TranSparse
		boot.Apply(f, &c.Bootstrap)
		if f.Overrides("separate") {
			c.Separate = *separate
		}
		if f.Overrides("theta") {
			c.Theta = *theta
		}

		pre, err := run.Pretrain(c.Bootstrap)
		if err != nil {
			return nil, err
		}
		variant := "share"
		if c.Separate {
			variant = "separate"
		}
		run.Settings(
			[2]string{"variant", variant},
			[2]string{"theta", fmt.Sprintf("%.4f", c.Theta)},
			[2]string{"from TransE", fmt.Sprintf("%t", pre != nil)})
		return transparse.New(transparse.Options{
			Separate:   c.Separate,
			Theta:      c.Theta,
			Pretrained: pre,
		}), nil
	})
}
