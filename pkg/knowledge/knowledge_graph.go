package knowledge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// ErrUnknownEntity is returned when a name is not part of the vocabulary
var ErrUnknownEntity = errors.New("unknown entity")

// ErrUnknownRelation is returned when a relation name is not part of the vocabulary
var ErrUnknownRelation = errors.New("unknown relation")

// Triple represents a knowledge graph triple (head, relation, tail) of dense ids
type Triple struct {
	Head     int
	Relation int
	Tail     int
}

// KnowledgeGraph represents a knowledge graph with entities and relations
type KnowledgeGraph struct {
	// Entity and relation mappings
	EntityHash   map[string]int
	RelationHash map[string]int
	EntityKeys   []string
	RelationKeys []string

	// Triples
	Triples []Triple

	logger *zap.Logger
}

// NewKnowledgeGraph creates a new knowledge graph instance
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		EntityHash:   make(map[string]int),
		RelationHash: make(map[string]int),
		EntityKeys:   make([]string, 0),
		RelationKeys: make([]string, 0),
		Triples:      make([]Triple, 0),
		logger:       zap.NewNop(),
	}
}

// WithLogger sets the logger used while loading
func (kg *KnowledgeGraph) WithLogger(logger *zap.Logger) *KnowledgeGraph {
	if logger != nil {
		kg.logger = logger
	}
	return kg
}

// NumEntities returns the size of the entity vocabulary
func (kg *KnowledgeGraph) NumEntities() int { return len(kg.EntityKeys) }

// NumRelations returns the size of the relation vocabulary
func (kg *KnowledgeGraph) NumRelations() int { return len(kg.RelationKeys) }

// NumTriples returns the number of training triples
func (kg *KnowledgeGraph) NumTriples() int { return len(kg.Triples) }

// LoadTriples loads knowledge graph triples from a file
// Format: head relation tail, tab separated (names may contain spaces) or whitespace separated
// Example: "Barack_Obama born_in Hawaii"
func (kg *KnowledgeGraph) LoadTriples(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	if err := kg.Load(file); err != nil {
		return fmt.Errorf("load %s: %w", filename, err)
	}
	return nil
}

// Load reads triples from r, growing the vocabularies as new names appear
func (kg *KnowledgeGraph) Load(r io.Reader) error {
	skipped := 0
	err := scanTriples(r, func(head, relation, tail string) {
		kg.Triples = append(kg.Triples, Triple{
			Head:     kg.getOrCreateEntity(head),
			Relation: kg.getOrCreateRelation(relation),
			Tail:     kg.getOrCreateEntity(tail),
		})
	}, &skipped)
	if err != nil {
		return fmt.Errorf("error reading triples: %w", err)
	}

	kg.logger.Info("knowledge graph loaded",
		zap.Int("entities", kg.NumEntities()),
		zap.Int("relations", kg.NumRelations()),
		zap.Int("triples", kg.NumTriples()),
		zap.Int("skipped_lines", skipped))
	return nil
}

// LoadDevTriples loads held-out triples through the existing vocabulary.
// Triples naming an unknown entity or relation are skipped and counted.
func (kg *KnowledgeGraph) LoadDevTriples(filename string) ([]Triple, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()
	return kg.ReadDevTriples(file)
}

// ReadDevTriples is LoadDevTriples over an io.Reader
func (kg *KnowledgeGraph) ReadDevTriples(r io.Reader) ([]Triple, error) {
	var (
		triples []Triple
		unknown int
		skipped int
	)
	err := scanTriples(r, func(head, relation, tail string) {
		t, err := kg.Lookup(head, relation, tail)
		if err != nil {
			unknown++
			return
		}
		triples = append(triples, t)
	}, &skipped)
	if err != nil {
		return nil, fmt.Errorf("error reading dev triples: %w", err)
	}
	kg.logger.Info("dev triples loaded",
		zap.Int("triples", len(triples)),
		zap.Int("unknown", unknown),
		zap.Int("skipped_lines", skipped))
	return triples, nil
}

// Lookup maps a named triple to ids
func (kg *KnowledgeGraph) Lookup(head, relation, tail string) (Triple, error) {
	h, ok := kg.EntityHash[head]
	if !ok {
		return Triple{}, fmt.Errorf("%w: %s", ErrUnknownEntity, head)
	}
	r, ok := kg.RelationHash[relation]
	if !ok {
		return Triple{}, fmt.Errorf("%w: %s", ErrUnknownRelation, relation)
	}
	t, ok := kg.EntityHash[tail]
	if !ok {
		return Triple{}, fmt.Errorf("%w: %s", ErrUnknownEntity, tail)
	}
	return Triple{Head: h, Relation: r, Tail: t}, nil
}

// AddTriple appends a named triple, creating ids as needed
func (kg *KnowledgeGraph) AddTriple(head, relation, tail string) Triple {
	t := Triple{
		Head:     kg.getOrCreateEntity(head),
		Relation: kg.getOrCreateRelation(relation),
		Tail:     kg.getOrCreateEntity(tail),
	}
	kg.Triples = append(kg.Triples, t)
	return t
}

func scanTriples(r io.Reader, emit func(head, relation, tail string), skipped *int) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		var parts []string
		if strings.Contains(line, "\t") {
			parts = strings.Split(line, "\t")
		} else {
			parts = strings.Fields(line)
		}
		if len(parts) < 3 {
			if strings.TrimSpace(line) != "" {
				*skipped++
			}
			continue
		}
		emit(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]))
	}
	return scanner.Err()
}

// getOrCreateEntity gets or creates an entity ID
func (kg *KnowledgeGraph) getOrCreateEntity(name string) int {
	if id, exists := kg.EntityHash[name]; exists {
		return id
	}

	id := len(kg.EntityKeys)
	kg.EntityHash[name] = id
	kg.EntityKeys = append(kg.EntityKeys, name)
	return id
}

// getOrCreateRelation gets or creates a relation ID
func (kg *KnowledgeGraph) getOrCreateRelation(name string) int {
	if id, exists := kg.RelationHash[name]; exists {
		return id
	}

	id := len(kg.RelationKeys)
	kg.RelationHash[name] = id
	kg.RelationKeys = append(kg.RelationKeys, name)
	return id
}

// GetEntityName returns the name of an entity by ID
func (kg *KnowledgeGraph) GetEntityName(id int) string {
	if id < 0 || id >= len(kg.EntityKeys) {
		return ""
	}
	return kg.EntityKeys[id]
}

// GetRelationName returns the name of a relation by ID
func (kg *KnowledgeGraph) GetRelationName(id int) string {
	if id < 0 || id >= len(kg.RelationKeys) {
		return ""
	}
	return kg.RelationKeys[id]
}

// GetTriple returns the triple at the given index
func (kg *KnowledgeGraph) GetTriple(idx int) Triple {
	if idx < 0 || idx >= len(kg.Triples) {
		return Triple{}
	}
	return kg.Triples[idx]
}
