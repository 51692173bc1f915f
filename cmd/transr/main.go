package main

import (
	"flag"
	"fmt"

	"github.com/cnclabs/transx/internal/cli"
	"github.com/cnclabs/transx/internal/models/transr"
	"github.com/cnclabs/transx/pkg/config"
	"github.com/cnclabs/transx/pkg/trainer"
)

func main() {
	d := config.Default().TransR
	f := cli.Register(flag.CommandLine)
	boot := cli.RegisterBootstrap(f)
	relDim := flag.Int("relation_dimensions", 0, "Dimension m of the relation space (0 = same as -dimensions)")
	cluster := flag.Bool("cluster", false, "Train CTransR: cluster each relation's head-tail offsets first")
	clusters := flag.Int("clusters", d.Clusters, "CTransR clusters per relation")
	clusterEpochs := flag.Int("cluster_epochs", d.ClusterEpochs, "CTransR k-means iteration budget")
	clusterAlpha := flag.Float64("cluster_alpha", d.ClusterAlpha, "CTransR weight of ||r_c - r||^2")

	flag.Usage = func() {
		fmt.Println("[TransX]")
		fmt.Println("\tGolang knowledge graph embeddings - TransR / CTransR")
		fmt.Println()
		fmt.Println("TransR (Relation-specific Spaces):")
		fmt.Println("\t✓ Each relation owns an m x n matrix M_r")
		fmt.Println("\t✓ M_r h + r ≈ M_r t")
		fmt.Println()
		fmt.Println("CTransR (-cluster):")
		fmt.Println("\t✓ k-means splits every relation by its h - t offsets")
		fmt.Println("\t✓ Each cluster learns its own r_c and M_c, pulled toward r by alpha")
		fmt.Println()
		fmt.Println("Initialization:")
		fmt.Println("\t- from TransE files: -transe_entity ent.txt -transe_relation rel.txt")
		fmt.Println("\t- from an in-process TransE run: -transe_epochs 100")
		fmt.Println("\t- otherwise random unit vectors")
		fmt.Println("\tCTransR clusters on the initial entity vectors, so a TransE start is recommended")
		fmt.Println()
		fmt.Println("Options Description:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("./transr -train kg.txt -save_dir out -transe_entity ent.txt -transe_relation rel.txt")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("\t# CTransR with 4 clusters per relation, TransE trained first")
		fmt.Println("\t./transr -train kg.txt -save_dir out -cluster -clusters 4 -transe_epochs 100")
	}
	flag.Parse()

	cli.Main("TransR - Relation-specific Projection Matrices", f, func(run *cli.Run) (trainer.Model, error) {
		c := &run.File.TransR
		boot.Apply(f, &c.Bootstrap)
		if f.Overrides("relation_dimensions") {
			c.RelationDimensions = *relDim
		}
		if f.Overrides("cluster") {
			c.Cluster = *cluster
		}
		if f.Overrides("clusters") {
			c.Clusters = *clusters
		}
		if f.Overrides("cluster_epochs") {
			c.ClusterEpochs = *clusterEpochs
		}
		if f.Overrides("cluster_alpha") {
			c.ClusterAlpha = *clusterAlpha
		}

		pre, err := run.Pretrain(c.Bootstrap)
		if err != nil {
			return nil, err
		}
		opts := transr.Options{
			Variant:       transr.Relation,
			RelationDim:   c.RelationDimensions,
			Pretrained:    pre,
			Alpha:         c.ClusterAlpha,
			Clusters:      c.Clusters,
			ClusterEpochs: c.ClusterEpochs,
		}
		m := opts.RelationDim
		if m == 0 {
			m = run.Hyper.Dim
		}
		settings := [][2]string{
			{"relation dim", fmt.Sprintf("%d", m)},
			{"from TransE", fmt.Sprintf("%t", pre != nil)},
		}
		if c.Cluster {
			opts.Variant = transr.ClusterRelation
			settings = append(settings,
				[2]string{"clusters", fmt.Sprintf("%d", c.Clusters)},
				[2]string{"k-means epochs", fmt.Sprintf("%d", c.ClusterEpochs)},
				[2]string{"cluster alpha", fmt.Sprintf("%.4f", c.ClusterAlpha)})
		}
		run.Settings(settings...)
		return transr.New(opts), nil
	})
}
