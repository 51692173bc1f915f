// Package store persists trained models.
//
// TextSink writes the plain-text embedding format the command line tools
// have always produced (a "<count> <dim>" header followed by one
// "name v1 ... vd" line per key). BoltSink keeps every run in a single bbolt
// database keyed by a run id.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cnclabs/transx/pkg/embedding"
	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/trainer"
)

// ErrNotFound is returned when a run, table or key is missing
var ErrNotFound = errors.New("not found")

// TextSink writes every table of an export to its own text file
type TextSink struct {
	// Dir receives "<model>_<table>.txt" for tables without an explicit path.
	// When empty, those tables go beside the explicit entity (or relation) file.
	Dir string
	// Files maps a table name (e.g. "entity") to an explicit output path
	Files map[string]string

	logger *zap.Logger
}

// NewTextSink creates a sink writing into dir
func NewTextSink(dir string, logger *zap.Logger) *TextSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextSink{Dir: dir, Files: make(map[string]string), logger: logger}
}

// Path returns the file a table of model is written to
func (s *TextSink) Path(model, table string) string {
	if p, ok := s.Files[table]; ok && p != "" {
		return p
	}
	name := strings.ToLower(model) + "_" + table + ".txt"
	return filepath.Join(s.fallbackDir(), name)
}

func (s *TextSink) fallbackDir() string {
	if s.Dir != "" {
		return s.Dir
	}
	for _, table := range []string{"entity", "relation"} {
		if p := s.Files[table]; p != "" {
			return filepath.Dir(p)
		}
	}
	return ""
}

// Persist implements trainer.Sink. Tables are written concurrently.
func (s *TextSink) Persist(e *trainer.Export) error {
	if s.Dir != "" {
		if err := os.MkdirAll(s.Dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", s.Dir, err)
		}
	}

	if s.Dir == "" {
		s.warnImplicit(e)
	}

	var g errgroup.Group
	for _, t := range e.Vectors {
		t := t
		path := s.Path(e.Model, t.Name)
		g.Go(func() error {
			return writeFile(path, func(w io.Writer) error { return WriteVectors(w, t) })
		})
	}
	for _, t := range e.Matrices {
		t := t
		path := s.Path(e.Model, t.Name)
		g.Go(func() error {
			return writeFile(path, func(w io.Writer) error { return WriteMatrices(w, t) })
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, t := range e.Vectors {
		s.logger.Info("table saved",
			zap.String("model", e.Model),
			zap.String("table", t.Name),
			zap.String("path", s.Path(e.Model, t.Name)))
	}
	for _, t := range e.Matrices {
		s.logger.Info("table saved",
			zap.String("model", e.Model),
			zap.String("table", t.Name),
			zap.String("path", s.Path(e.Model, t.Name)))
	}
	return nil
}

// warnImplicit reports tables that no explicit path or directory was given for
func (s *TextSink) warnImplicit(e *trainer.Export) {
	names := make([]string, 0, len(e.Vectors)+len(e.Matrices))
	for _, t := range e.Vectors {
		names = append(names, t.Name)
	}
	for _, t := range e.Matrices {
		names = append(names, t.Name)
	}
	for _, name := range names {
		if s.Files[name] != "" {
			continue
		}
		s.logger.Warn("no output path for table, saving beside the explicit files",
			zap.String("model", e.Model),
			zap.String("table", name),
			zap.String("path", s.Path(e.Model, name)))
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// WriteVectors writes "<count> <dim>" then one "name v1 ... vd" line per key
func WriteVectors(w io.Writer, t trainer.VectorTable) error {
	dim := 0
	if len(t.Vectors) > 0 {
		dim = len(t.Vectors[0])
	}
	if _, err := fmt.Fprintf(w, "%d %d\n", len(t.Keys), dim); err != nil {
		return err
	}
	for i, key := range t.Keys {
		if err := writeLine(w, key, t.Vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

// WriteMatrices writes "<count> <rows> <cols>" then one line per key holding
// the matrix in row-major order
func WriteMatrices(w io.Writer, t trainer.MatrixTable) error {
	if _, err := fmt.Fprintf(w, "%d %d %d\n", len(t.Keys), t.Rows, t.Cols); err != nil {
		return err
	}
	flat := make([]float64, 0, t.Rows*t.Cols)
	for i, key := range t.Keys {
		flat = flat[:0]
		for _, row := range t.Matrices[i] {
			flat = append(flat, row...)
		}
		if err := writeLine(w, key, flat); err != nil {
			return err
		}
	}
	return nil
}

func writeLine(w io.Writer, key string, v []float64) error {
	if _, err := io.WriteString(w, key); err != nil {
		return err
	}
	for _, x := range v {
		if _, err := fmt.Fprintf(w, " %.6f", x); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// ReadText reads a vector table written by WriteVectors
func ReadText(path string) ([]string, *embedding.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	keys, table, err := ReadVectors(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return keys, table, nil
}

// ReadVectors parses the "<count> <dim>" text format
func ReadVectors(r io.Reader) ([]string, *embedding.Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("missing header")
	}
	var count, dim int
	if _, err := fmt.Sscanf(scanner.Text(), "%d %d", &count, &dim); err != nil {
		return nil, nil, fmt.Errorf("bad header %q: %w", scanner.Text(), err)
	}

	keys := make([]string, 0, count)
	table := embedding.NewTable(count, dim)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(keys) == count {
			return nil, nil, fmt.Errorf("more than %d rows", count)
		}
		if len(fields) != dim+1 {
			return nil, nil, fmt.Errorf("row %q has %d values, want %d", fields[0], len(fields)-1, dim)
		}
		v := make([]float64, dim)
		for d, s := range fields[1:] {
			x, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("row %q: %w", fields[0], err)
			}
			v[d] = x
		}
		table.Set(len(keys), v)
		keys = append(keys, fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if len(keys) != count {
		return nil, nil, fmt.Errorf("header announces %d rows, found %d", count, len(keys))
	}
	return keys, table, nil
}

// Reorder returns a table whose row i is the row keyed by names[i]
func Reorder(keys []string, t *embedding.Table, names []string) (*embedding.Table, error) {
	index := make(map[string]int, len(keys))
	for i, k := range keys {
		index[k] = i
	}
	out := embedding.NewTable(len(names), t.Dim())
	for i, name := range names {
		row, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		out.Set(i, t.Row(row))
	}
	return out, nil
}

// LoadPretrained reads TransE entity and relation files and aligns them with
// the vocabulary of kg
func LoadPretrained(entityPath, relationPath string, kg *knowledge.KnowledgeGraph) (*trainer.Pretrained, error) {
	keys, entities, err := ReadText(entityPath)
	if err != nil {
		return nil, err
	}
	if entities, err = Reorder(keys, entities, kg.EntityKeys); err != nil {
		return nil, fmt.Errorf("entity table %s: %w", entityPath, err)
	}

	keys, relations, err := ReadText(relationPath)
	if err != nil {
		return nil, err
	}
	if relations, err = Reorder(keys, relations, kg.RelationKeys); err != nil {
		return nil, fmt.Errorf("relation table %s: %w", relationPath, err)
	}
	return &trainer.Pretrained{Entities: entities, Relations: relations}, nil
}
