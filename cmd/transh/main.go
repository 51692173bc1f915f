package main

import (
	"flag"
	"fmt"

	"github.com/cnclabs/transx/internal/cli"
	"github.com/cnclabs/transx/internal/models/transh"
	"github.com/cnclabs/transx/pkg/config"
	"github.com/cnclabs/transx/pkg/trainer"
)

func main() {
	f := cli.Register(flag.CommandLine)
	c := flag.Float64("c", config.Default().TransH.C, "Weight of the soft orthogonality penalty between r and the hyperplane normal")

	flag.Usage = func() {
		fmt.Println("[TransX]")
		fmt.Println("\tGolang knowledge graph embeddings - TransH")
		fmt.Println()
		fmt.Println("TransH (Translating on Hyperplanes):")
		fmt.Println("\t✓ Each relation owns a hyperplane with unit normal n_r")
		fmt.Println("\t✓ h⊥ + r ≈ t⊥ with x⊥ = x - (n_r·x) n_r")
		fmt.Println("\t✓ Handles 1-to-N, N-to-1 and N-to-N relations better than TransE")
		fmt.Println()
		fmt.Println("Key parameters:")
		fmt.Println("\t- c: orthogonality penalty weight (default: 1.0)")
		fmt.Println("\t  • keeps r close to its hyperplane")
		fmt.Println("\t- policy: unif or bern (Bernoulli is the usual choice for TransH)")
		fmt.Println()
		fmt.Println("Options Description:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("./transh -train kg.txt -save_dir out -dimensions 50 -c 0.25 -policy bern")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("\t# Save to explicit files")
		fmt.Println("\t./transh -train kg.txt -save_entity ent.txt -save_relation rel.txt")
		fmt.Println("\t# (hyperplane normals go to <save_dir>/transh_normal.txt)")
	}
	flag.Parse()

	cli.Main("TransH - Translating on Hyperplanes", f, func(run *cli.Run) (trainer.Model, error) {
		if f.Overrides("c") {
			run.File.TransH.C = *c
		}
		opts := transh.Options{C: run.File.TransH.C}
		run.Settings([2]string{"penalty c", fmt.Sprintf("%.4f", opts.C)})
		return transh.New(opts), nil
	})
}
