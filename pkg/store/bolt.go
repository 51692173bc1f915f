package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/cnclabs/transx/pkg/trainer"
)

var (
	runsBucket = []byte("runs")
	metaBucket = []byte("_meta")

	keyModel   = []byte("model")
	keyCreated = []byte("created")
)

// ErrEmptyKey is returned when an exported row has an empty name
var ErrEmptyKey = errors.New("empty key")

// shapePrefix prefixes the _meta key holding a matrix table's "rows cols"
const shapePrefix = "shape/"

// BoltSink persists every run into one bbolt database. Layout:
//
//	runs/<run id>/_meta                  model, created, shape/<table>
//	runs/<run id>/<table>/<key>          little-endian float64 row (row-major for matrices)
//
// shape/<table> holds "rows cols" for every matrix table.
type BoltSink struct {
	db     *bolt.DB
	logger *zap.Logger

	// LastRun is the id of the most recent Persist call
	LastRun string
}

// OpenBolt opens (or creates) the database at path
func OpenBolt(path string, logger *zap.Logger) (*BoltSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &BoltSink{db: db, logger: logger}, nil
}

// Close releases the database file
func (s *BoltSink) Close() error {
	return s.db.Close()
}

// Persist implements trainer.Sink; each call stores a new run
func (s *BoltSink) Persist(e *trainer.Export) error {
	run := uuid.NewString()
	err := s.db.Update(func(tx *bolt.Tx) error {
		runs, err := tx.CreateBucketIfNotExists(runsBucket)
		if err != nil {
			return err
		}
		b, err := runs.CreateBucket([]byte(run))
		if err != nil {
			return err
		}

		meta, err := b.CreateBucket(metaBucket)
		if err != nil {
			return err
		}
		if err := meta.Put(keyModel, []byte(e.Model)); err != nil {
			return err
		}
		if err := meta.Put(keyCreated, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
			return err
		}

		for _, t := range e.Vectors {
			tb, err := createTable(b, t.Name)
			if err != nil {
				return err
			}
			for i, key := range t.Keys {
				if err := putRow(tb, t.Name, key, t.Vectors[i]); err != nil {
					return err
				}
			}
		}
		for _, t := range e.Matrices {
			tb, err := createTable(b, t.Name)
			if err != nil {
				return err
			}
			shape := strconv.Itoa(t.Rows) + " " + strconv.Itoa(t.Cols)
			if err := meta.Put([]byte(shapePrefix+t.Name), []byte(shape)); err != nil {
				return err
			}
			flat := make([]float64, 0, t.Rows*t.Cols)
			for i, key := range t.Keys {
				flat = flat[:0]
				for _, row := range t.Matrices[i] {
					flat = append(flat, row...)
				}
				if err := putRow(tb, t.Name, key, flat); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist run: %w", err)
	}

	s.LastRun = run
	s.logger.Info("run saved", zap.String("model", e.Model), zap.String("run", run))
	return nil
}

// Runs lists the stored run ids with their model names
func (s *BoltSink) Runs() (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		runs := tx.Bucket(runsBucket)
		if runs == nil {
			return nil
		}
		return runs.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			meta := runs.Bucket(k).Bucket(metaBucket)
			if meta == nil {
				return nil
			}
			out[string(k)] = string(meta.Get(keyModel))
			return nil
		})
	})
	return out, err
}

// Vector reads one row of a stored table. Matrix rows come back flattened
// in row-major order.
func (s *BoltSink) Vector(run, table, key string) ([]float64, error) {
	var out []float64
	err := s.db.View(func(tx *bolt.Tx) error {
		tb, err := tableBucket(tx, run, table)
		if err != nil {
			return err
		}
		raw := tb.Get([]byte(key))
		if raw == nil {
			return fmt.Errorf("%w: key %q in %s/%s", ErrNotFound, key, run, table)
		}
		out, err = decodeRow(raw)
		return err
	})
	return out, err
}

// Table reads every row of a stored vector table keyed by name
func (s *BoltSink) Table(run, table string) (map[string][]float64, error) {
	out := make(map[string][]float64)
	err := s.db.View(func(tx *bolt.Tx) error {
		tb, err := tableBucket(tx, run, table)
		if err != nil {
			return err
		}
		return tb.ForEach(func(k, v []byte) error {
			row, err := decodeRow(v)
			if err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			out[string(k)] = row
			return nil
		})
	})
	return out, err
}

// Shape returns the rows and columns of a stored matrix table
func (s *BoltSink) Shape(run, table string) (rows, cols int, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		if _, err := tableBucket(tx, run, table); err != nil {
			return err
		}
		raw := tx.Bucket(runsBucket).Bucket([]byte(run)).Bucket(metaBucket).Get([]byte(shapePrefix + table))
		if raw == nil {
			return fmt.Errorf("%w: shape of %s in run %s", ErrNotFound, table, run)
		}
		fields := strings.Fields(string(raw))
		if len(fields) != 2 {
			return fmt.Errorf("malformed shape %q", raw)
		}
		if rows, err = strconv.Atoi(fields[0]); err != nil {
			return fmt.Errorf("malformed shape %q: %w", raw, err)
		}
		if cols, err = strconv.Atoi(fields[1]); err != nil {
			return fmt.Errorf("malformed shape %q: %w", raw, err)
		}
		return nil
	})
	return rows, cols, err
}

func createTable(run *bolt.Bucket, name string) (*bolt.Bucket, error) {
	if name == "" || name == string(metaBucket) {
		return nil, fmt.Errorf("table name %q is reserved", name)
	}
	tb, err := run.CreateBucket([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	return tb, nil
}

func putRow(tb *bolt.Bucket, table, key string, row []float64) error {
	if key == "" {
		return fmt.Errorf("%w in table %s", ErrEmptyKey, table)
	}
	return tb.Put([]byte(key), encodeRow(row))
}

func tableBucket(tx *bolt.Tx, run, table string) (*bolt.Bucket, error) {
	runs := tx.Bucket(runsBucket)
	if runs == nil {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, run)
	}
	b := runs.Bucket([]byte(run))
	if b == nil {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, run)
	}
	tb := b.Bucket([]byte(table))
	if tb == nil {
		return nil, fmt.Errorf("%w: table %s in run %s", ErrNotFound, table, run)
	}
	return tb, nil
}

func encodeRow(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return buf
}

func decodeRow(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("row of %d bytes is not a float64 vector", len(buf))
	}
	v := make([]float64, len(buf)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return v, nil
}
