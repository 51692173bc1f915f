// Package config loads training runs from YAML.
//
// One document holds the input and output locations, the shared training
// hyperparameters and a section per model variant:
//
//	train: kg.txt
//	dev: dev.txt
//	save_dir: out
//	training:
//	  dimensions: 100
//	  margin: 1.0
//	  norm: 1
//	  policy: bern
//	transr:
//	  cluster: true
//	  clusters: 4
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cnclabs/transx/pkg/sampling"
	"github.com/cnclabs/transx/pkg/trainer"
	"github.com/cnclabs/transx/pkg/vecmath"
)

// File is one YAML run description
type File struct {
	Train       string `yaml:"train"`
	Dev         string `yaml:"dev"`
	SaveDir     string `yaml:"save_dir"`
	Bolt        string `yaml:"bolt"`
	Seed        int64  `yaml:"seed"`
	MetricsAddr string `yaml:"metrics_addr"`

	Training   Training   `yaml:"training"`
	TransH     TransH     `yaml:"transh"`
	TransD     TransD     `yaml:"transd"`
	TransR     TransR     `yaml:"transr"`
	TranSparse TranSparse `yaml:"transparse"`
}

// Training holds the hyperparameters shared by every variant
type Training struct {
	Dimensions int     `yaml:"dimensions"`
	Margin     float64 `yaml:"margin"`
	Norm       int     `yaml:"norm"`
	Epochs     int     `yaml:"epochs"`
	BatchSize  int     `yaml:"batch_size"`
	Alpha      float64 `yaml:"alpha"` // learning rate
	Policy     string  `yaml:"policy"`
}

// TransH settings
type TransH struct {
	C float64 `yaml:"c"` // orthogonality penalty weight
}

// TransD settings
type TransD struct {
	RelationDimensions int `yaml:"relation_dimensions"`
}

// Bootstrap points at TransE text files used to seed a run
type Bootstrap struct {
	Entity   string `yaml:"transe_entity"`
	Relation string `yaml:"transe_relation"`
	// Epochs trains TransE in-process first when no files are given; 0 disables
	Epochs int `yaml:"transe_epochs"`
}

// TransR settings, shared with CTransR
type TransR struct {
	Bootstrap          `yaml:",inline"`
	RelationDimensions int     `yaml:"relation_dimensions"`
	Cluster            bool    `yaml:"cluster"`
	Clusters           int     `yaml:"clusters"`
	ClusterEpochs      int     `yaml:"cluster_epochs"`
	ClusterAlpha       float64 `yaml:"cluster_alpha"`
}

// TranSparse settings
type TranSparse struct {
	Bootstrap `yaml:",inline"`
	Separate  bool    `yaml:"separate"`
	Theta     float64 `yaml:"theta"`
}

// Default returns the settings every command starts from
func Default() *File {
	h := trainer.DefaultHyperparameters()
	return &File{
		Seed: 1,
		Training: Training{
			Dimensions: h.Dim,
			Margin:     h.Margin,
			Norm:       int(h.Norm),
			Epochs:     h.Epochs,
			BatchSize:  h.BatchSize,
			Alpha:      h.LearningRate,
			Policy:     string(h.Policy),
		},
		TransH: TransH{C: 1.0},
		TransR: TransR{
			Clusters:      4,
			ClusterEpochs: 20,
			ClusterAlpha:  0.1,
		},
		TranSparse: TranSparse{Theta: 0.3},
	}
}

// Load reads path over Default(); keys missing from the file keep their default
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes one YAML document over Default(). Unknown keys are errors.
func Parse(r io.Reader) (*File, error) {
	f := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return f, nil
}

// Hyperparameters converts the training section
func (f *File) Hyperparameters() (trainer.Hyperparameters, error) {
	t := f.Training
	metric := vecmath.Metric(t.Norm)
	if !metric.Valid() {
		return trainer.Hyperparameters{}, fmt.Errorf("%w: norm must be 1 (L1) or 2 (L2), got %d",
			trainer.ErrInvalidHyperparameters, t.Norm)
	}
	policy := sampling.Policy(t.Policy)
	if policy != sampling.PolicyUniform && policy != sampling.PolicyBernoulli {
		return trainer.Hyperparameters{}, fmt.Errorf("%w: unknown sampling policy %q",
			trainer.ErrInvalidHyperparameters, t.Policy)
	}
	return trainer.Hyperparameters{
		Dim:          t.Dimensions,
		Margin:       t.Margin,
		LearningRate: t.Alpha,
		BatchSize:    t.BatchSize,
		Epochs:       t.Epochs,
		Norm:         metric,
		Policy:       policy,
	}, nil
}
