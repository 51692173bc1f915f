// Package cli holds the plumbing shared by the training commands: the common
// flag set, YAML config merging, logger and metrics setup, data loading, sink
// construction and the banner / timing blocks printed around a run.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cnclabs/transx/pkg/config"
	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/store"
	"github.com/cnclabs/transx/pkg/trainer"
)

// ErrUsage marks a command line that is missing required input
var ErrUsage = errors.New("usage")

// Flags are the options every command accepts
type Flags struct {
	fs *flag.FlagSet

	Config       string
	Train        string
	Dev          string
	SaveDir      string
	SaveEntity   string
	SaveRelation string
	Bolt         string
	Dimensions   int
	Margin       float64
	Norm         int
	Epochs       int
	BatchSize    int
	Alpha        float64
	Policy       string
	Seed         int64
	MetricsAddr  string
	Verbose      bool
}

// Register defines the shared flags on fs with defaults from config.Default
func Register(fs *flag.FlagSet) *Flags {
	d := config.Default()
	f := &Flags{fs: fs}
	fs.StringVar(&f.Config, "config", "", "YAML run description; flags given explicitly override it")
	fs.StringVar(&f.Train, "train", "", "Train on knowledge graph triples")
	fs.StringVar(&f.Dev, "dev", "", "Held-out triples for per-epoch accuracy")
	fs.StringVar(&f.SaveDir, "save_dir", "", "Directory receiving every table as <model>_<table>.txt (default: beside -save_entity / -save_relation)")
	fs.StringVar(&f.SaveEntity, "save_entity", "", "Save entity embeddings")
	fs.StringVar(&f.SaveRelation, "save_relation", "", "Save relation embeddings")
	fs.StringVar(&f.Bolt, "bolt", "", "Also store the run in this bbolt database")
	fs.IntVar(&f.Dimensions, "dimensions", d.Training.Dimensions, "Dimension of entity embeddings")
	fs.Float64Var(&f.Margin, "margin", d.Training.Margin, "Margin for ranking loss")
	fs.IntVar(&f.Norm, "norm", d.Training.Norm, "Norm type: 1 for L1 (Manhattan), 2 for L2 (Euclidean)")
	fs.IntVar(&f.Epochs, "epochs", d.Training.Epochs, "Number of training epochs")
	fs.IntVar(&f.BatchSize, "batch_size", d.Training.BatchSize, "Batch size for training")
	fs.Float64Var(&f.Alpha, "alpha", d.Training.Alpha, "Learning rate")
	fs.StringVar(&f.Policy, "policy", d.Training.Policy, "Negative sampling: unif or bern")
	fs.Int64Var(&f.Seed, "seed", d.Seed, "Random seed")
	fs.StringVar(&f.MetricsAddr, "metrics_addr", "", "Serve Prometheus /metrics on this address while training")
	fs.BoolVar(&f.Verbose, "verbose", false, "Development logging at debug level")
	return f
}

// Visited returns the names of the flags set on the command line
func Visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return set
}

// Overrides reports whether flag name applies on top of the config file
func (f *Flags) Overrides(name string) bool {
	return f.Config == "" || Visited(f.fs)[name]
}

// FlagSet returns the flag set the shared flags were registered on
func (f *Flags) FlagSet() *flag.FlagSet { return f.fs }

// Resolve loads -config when given and lays the explicitly set shared flags
// over it. Without -config every flag applies.
func (f *Flags) Resolve() (*config.File, error) {
	file := config.Default()
	if f.Config != "" {
		var err error
		if file, err = config.Load(f.Config); err != nil {
			return nil, err
		}
	}
	apply := f.Overrides

	if apply("train") && f.Train != "" {
		file.Train = f.Train
	}
	if apply("dev") && f.Dev != "" {
		file.Dev = f.Dev
	}
	if apply("save_dir") && f.SaveDir != "" {
		file.SaveDir = f.SaveDir
	}
	if apply("bolt") && f.Bolt != "" {
		file.Bolt = f.Bolt
	}
	if apply("metrics_addr") && f.MetricsAddr != "" {
		file.MetricsAddr = f.MetricsAddr
	}
	if apply("seed") {
		file.Seed = f.Seed
	}
	if apply("dimensions") {
		file.Training.Dimensions = f.Dimensions
	}
	if apply("margin") {
		file.Training.Margin = f.Margin
	}
	if apply("norm") {
		file.Training.Norm = f.Norm
	}
	if apply("epochs") {
		file.Training.Epochs = f.Epochs
	}
	if apply("batch_size") {
		file.Training.BatchSize = f.BatchSize
	}
	if apply("alpha") {
		file.Training.Alpha = f.Alpha
	}
	if apply("policy") {
		file.Training.Policy = f.Policy
	}

	if file.Train == "" {
		return nil, fmt.Errorf("%w: -train (or train: in -config) is required", ErrUsage)
	}
	if file.SaveDir == "" && file.Bolt == "" && (f.SaveEntity == "" || f.SaveRelation == "") {
		return nil, fmt.Errorf("%w: give -save_entity and -save_relation, -save_dir or -bolt", ErrUsage)
	}
	return file, nil
}

// Run is one prepared training run
type Run struct {
	Name   string
	File   *config.File
	Hyper  trainer.Hyperparameters
	Logger *zap.Logger
	Graph  *knowledge.KnowledgeGraph
	Data   *trainer.Dataset
	Ctx    *trainer.Context
	Sinks  []trainer.Sink

	out     io.Writer
	closers []func() error

	start     time.Time
	loadTime  time.Duration
	trainTime time.Duration
}

// Setup resolves the flags, builds the logger, metrics and sinks, and loads
// the training (and optional dev) triples
func Setup(name string, f *Flags) (*Run, error) {
	file, err := f.Resolve()
	if err != nil {
		return nil, err
	}
	hyper, err := file.Hyperparameters()
	if err != nil {
		return nil, err
	}
	logger, err := NewLogger(f.Verbose)
	if err != nil {
		return nil, err
	}

	r := &Run{
		Name:   name,
		File:   file,
		Hyper:  hyper,
		Logger: logger,
		out:    os.Stdout,
		start:  time.Now(),
	}
	r.closers = append(r.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	r.Ctx = trainer.NewContext(file.Seed)
	r.Ctx.Logger = logger
	r.Ctx.Reporter = trainer.NewConsoleReporter(r.out)

	if file.MetricsAddr != "" {
		srv, err := ServeMetrics(file.MetricsAddr, logger)
		if err != nil {
			return nil, err
		}
		r.Ctx.Metrics = srv.Trainer
		r.closers = append(r.closers, srv.Close)
	}

	if err := r.load(); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.sinks(f); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Run) load() error {
	fmt.Fprintln(r.out, "Loading knowledge graph...")
	r.Graph = knowledge.NewKnowledgeGraph().WithLogger(r.Logger)
	if err := r.Graph.LoadTriples(r.File.Train); err != nil {
		return fmt.Errorf("load triples: %w", err)
	}

	var dev []knowledge.Triple
	if r.File.Dev != "" {
		var err error
		if dev, err = r.Graph.LoadDevTriples(r.File.Dev); err != nil {
			return fmt.Errorf("load dev triples: %w", err)
		}
	}
	r.Data = trainer.FromGraph(r.Graph, dev)
	r.loadTime = time.Since(r.start)

	fmt.Fprintf(r.out, "\t# entities:\t\t%d\n", r.Graph.NumEntities())
	fmt.Fprintf(r.out, "\t# relations:\t\t%d\n", r.Graph.NumRelations())
	fmt.Fprintf(r.out, "\t# triples:\t\t%d\n", r.Graph.NumTriples())
	if dev != nil {
		fmt.Fprintf(r.out, "\t# dev triples:\t\t%d\n", len(dev))
	}
	fmt.Fprintf(r.out, "Knowledge graph loaded in %.2f seconds\n\n", r.loadTime.Seconds())
	return nil
}

func (r *Run) sinks(f *Flags) error {
	if r.File.SaveDir != "" || f.SaveEntity != "" || f.SaveRelation != "" {
		text := store.NewTextSink(r.File.SaveDir, r.Logger)
		if f.SaveEntity != "" {
			text.Files["entity"] = f.SaveEntity
		}
		if f.SaveRelation != "" {
			text.Files["relation"] = f.SaveRelation
		}
		r.Sinks = append(r.Sinks, text)
	}

	if r.File.Bolt != "" {
		bolt, err := store.OpenBolt(r.File.Bolt, r.Logger)
		if err != nil {
			return err
		}
		r.Sinks = append(r.Sinks, bolt)
		r.closers = append(r.closers, bolt.Close)
	}
	return nil
}

// Settings prints the "Model Setting" block; extra rows follow the shared ones
func (r *Run) Settings(extra ...[2]string) {
	fmt.Fprintln(r.out, "Model Setting:")
	fmt.Fprintf(r.out, "\tdimension:\t\t%d\n", r.Hyper.Dim)
	fmt.Fprintf(r.out, "\tmargin:\t\t\t%.2f\n", r.Hyper.Margin)
	fmt.Fprintf(r.out, "\tnorm:\t\t\t%s\n", r.Hyper.Norm)
	fmt.Fprintf(r.out, "\tpolicy:\t\t\t%s\n", r.Hyper.Policy)
	for _, kv := range extra {
		fmt.Fprintf(r.out, "\t%s:\t\t%s\n", kv[0], kv[1])
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Learning Parameters:")
	fmt.Fprintf(r.out, "\tepochs:\t\t\t%d\n", r.Hyper.Epochs)
	fmt.Fprintf(r.out, "\tbatch_size:\t\t%d\n", r.Hyper.BatchSize)
	fmt.Fprintf(r.out, "\talpha:\t\t\t%.6f\n", r.Hyper.LearningRate)
	fmt.Fprintf(r.out, "\tseed:\t\t\t%d\n", r.File.Seed)
	fmt.Fprintln(r.out)
}

// Train runs m to completion and hands the export to every sink
func (r *Run) Train(m trainer.Model) (*trainer.Summary, error) {
	fmt.Fprintln(r.out, "Start Training:")
	start := time.Now()
	summary, err := trainer.Learn(r.Ctx, m, r.Data, r.Hyper, r.Sinks...)
	r.trainTime += time.Since(start)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(r.out, "\nTraining Complete!")
	return summary, nil
}

// Close releases sinks, the metrics server and the logger
func (r *Run) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Summary prints the "Timing Summary" block
func (r *Run) Summary() {
	total := time.Since(r.start)
	fmt.Fprintln(r.out)
	Rule(r.out)
	fmt.Fprintln(r.out, "  Timing Summary")
	Rule(r.out)
	fmt.Fprintf(r.out, "Loading time:     %.2f seconds\n", r.loadTime.Seconds())
	fmt.Fprintf(r.out, "Training time:    %.2f seconds\n", r.trainTime.Seconds())
	fmt.Fprintf(r.out, "Total time:       %.2f seconds\n", total.Seconds())
	if u, err := ReadUsage(); err == nil {
		fmt.Fprintf(r.out, "Memory (RSS):     %.1f MiB (system %.1f%% used)\n",
			float64(u.RSS)/(1<<20), u.SystemPercent)
		r.Ctx.Metrics.SetMemory(u.RSS)
	} else {
		r.Logger.Debug("resource usage unavailable", zap.Error(err))
	}
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "✓ %s training complete!\n", r.Name)
}

// Rule prints the banner separator line
func Rule(w io.Writer) {
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
}

// Banner prints the title block shown before loading
func Banner(w io.Writer, title string) {
	Rule(w)
	fmt.Fprintf(w, "  %s\n", title)
	Rule(w)
	fmt.Fprintln(w)
}

// Main drives one command: it checks the flags, prints the banner, loads the
// data, asks build for the model, trains it and prints the timing summary
func Main(title string, f *Flags, build func(*Run) (trainer.Model, error)) {
	if _, err := f.Resolve(); err != nil {
		Fail(f.fs, err)
	}
	Banner(os.Stdout, title)

	run, err := Setup(title, f)
	if err != nil {
		Fail(f.fs, err)
	}
	m, err := build(run)
	if err == nil {
		run.Name = m.Name()
		_, err = run.Train(m)
	}
	if err != nil {
		run.Close()
		Fail(f.fs, err)
	}
	run.Summary()
	if err := run.Close(); err != nil {
		Fail(f.fs, err)
	}
}

// Fail prints err and exits; usage errors also print the flag help
func Fail(fs *flag.FlagSet, err error) {
	if errors.Is(err, ErrUsage) {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		fs.Usage()
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
