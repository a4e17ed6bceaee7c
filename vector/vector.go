package vector

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidConfig      = errors.New("invalid collection config")
	ErrUnavailable        = errors.New("vector store unavailable")
)

type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverChromem  Driver = "chromem"
	DriverPGVector Driver = "pgvector"
	DriverQdrant   Driver = "qdrant"
)

// Config selects and connects a Store backend.
type Config struct {
	Driver Driver `yaml:"driver"`

	// chromem
	Persistent bool   `yaml:"persistent"`
	Path       string `yaml:"path"`

	// pgvector
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxIdleConns int    `yaml:"maxIdleConns"`

	// qdrant
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"apiKey"`
	UseTLS bool   `yaml:"useTLS"`
}

// CollectionInfo is fixed at creation time and never changes afterwards.
type CollectionInfo struct {
	Name      string   `json:"name" yaml:"name"`
	Dimension int      `json:"dimension" yaml:"dimension"`
	Distance  Distance `json:"distance" yaml:"distance"`
}

func (info CollectionInfo) Validate() error {
	if info.Name == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidConfig)
	}

	if info.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, info.Dimension)
	}

	if _, err := ParseDistance(string(info.Distance)); err != nil {
		return err
	}

	return nil
}

type Payload struct {
	GroupID  string `json:"group_id"`
	PersonID string `json:"person_id"`
}

type Point struct {
	ID        string    `json:"id"`
	Embedding []float32 `json:"embedding,omitempty"`
	Payload   Payload   `json:"payload"`
}

// Filter is a payload-equality predicate. Empty fields match everything.
type Filter struct {
	GroupID  string
	PersonID string
	FaceIDs  []string
}

func (f Filter) Match(id string, payload Payload) bool {
	if f.GroupID != "" && payload.GroupID != f.GroupID {
		return false
	}

	if f.PersonID != "" && payload.PersonID != f.PersonID {
		return false
	}

	if len(f.FaceIDs) > 0 && !slices.Contains(f.FaceIDs, id) {
		return false
	}

	return true
}

// Candidate is a query hit. Higher Score means more similar, whatever the metric.
type Candidate struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

// Store owns named collections of face vectors. Implementations must be safe
// for concurrent use.
type Store interface {
	CreateCollection(ctx context.Context, info CollectionInfo) error
	Collection(ctx context.Context, name string) (CollectionInfo, error)
	Collections(ctx context.Context) ([]string, error)
	DropCollection(ctx context.Context, name string) error

	// Upsert replaces points with the same id. A batch is stored entirely or not at all.
	Upsert(ctx context.Context, collection string, points ...Point) error

	// Query returns up to k candidates ordered by descending score.
	Query(ctx context.Context, collection string, embedding []float32, filter Filter, k int) ([]Candidate, error)

	DeleteByID(ctx context.Context, collection string, id string) (bool, error)
	Delete(ctx context.Context, collection string, filter Filter) (int, error)
	List(ctx context.Context, collection string, filter Filter) ([]Point, error)

	Close() error
}

// CheckDimension rejects embeddings that disagree with the collection.
func CheckDimension(info CollectionInfo, embedding []float32) error {
	if len(embedding) != info.Dimension {
		return fmt.Errorf("%w: collection %s expects %d, got %d",
			ErrDimensionMismatch, info.Name, info.Dimension, len(embedding))
	}

	return nil
}
