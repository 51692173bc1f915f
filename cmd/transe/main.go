package main

import (
	"flag"
	"fmt"

	"github.com/cnclabs/transx/internal/cli"
	"github.com/cnclabs/transx/internal/models/transe"
	"github.com/cnclabs/transx/pkg/trainer"
)

func main() {
	f := cli.Register(flag.CommandLine)

	flag.Usage = func() {
		fmt.Println("[TransX]")
		fmt.Println("\tGolang knowledge graph embeddings - TransE")
		fmt.Println()
		fmt.Println("TransE (Translating Embeddings) for Knowledge Graphs:")
		fmt.Println("\t✓ Translation principle: h + r ≈ t")
		fmt.Println("\t✓ Simple and effective baseline for KG embedding")
		fmt.Println("\t✓ Seeds TransR, CTransR and TranSparse (-transe_entity / -transe_relation)")
		fmt.Println()
		fmt.Println("How it works:")
		fmt.Println("\t1. Entities and relations are embedded in the same space")
		fmt.Println("\t2. Relations are modeled as translations: h + r ≈ t")
		fmt.Println("\t3. Trained with margin-based ranking loss on corrupted triples")
		fmt.Println("\t4. Entity and relation embeddings stay L2-normalized")
		fmt.Println()
		fmt.Println("Input format (triples):")
		fmt.Println("\thead relation tail")
		fmt.Println("\tExample: Barack_Obama born_in Hawaii")
		fmt.Println()
		fmt.Println("Options Description:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("./transe -train kg.txt -save_entity entities.txt -save_relation relations.txt \\")
		fmt.Println("         -dimensions 50 -margin 1.0 -norm 2 -epochs 100 -batch_size 128 -alpha 0.01")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("\t# Quick training with defaults")
		fmt.Println("\t./transe -train kg.txt -save_entity ent.txt -save_relation rel.txt")
		fmt.Println()
		fmt.Println("\t# Track accuracy on held-out triples, Bernoulli negatives")
		fmt.Println("\t./transe -train kg.txt -dev dev.txt -policy bern -save_dir out")
		fmt.Println()
		fmt.Println("\t# L1 norm, run stored in a bbolt database, metrics on :9100")
		fmt.Println("\t./transe -train kg.txt -norm 1 -bolt runs.db -metrics_addr :9100")
		fmt.Println()
		fmt.Println("\t# Everything from a YAML file, overriding the epochs")
		fmt.Println("\t./transe -config run.yaml -epochs 500")
	}
	flag.Parse()

	cli.Main("TransE - Translating Embeddings for Knowledge Graphs", f, func(run *cli.Run) (trainer.Model, error) {
		run.Settings()
		return transe.New(), nil
	})
}
