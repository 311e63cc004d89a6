package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStorage wraps persistence failures (I/O, quota, constraint violations).
	ErrStorage = errors.New("knowledge storage failure")
	// ErrEmbedding wraps failures of the embedding backend.
	ErrEmbedding = errors.New("embedding failure")
	// ErrDimensionMismatch is returned when a vector does not match the store's dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrDocumentNotFound is returned when a document id does not exist.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrEmptyQuery is returned by Search for a blank query.
	ErrEmptyQuery = errors.New("empty query")
)

// Document is a source text ingested into the knowledge base.
// Documents are immutable after creation.
type Document struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content,omitempty"`
	DateAdded  time.Time `json:"date_added"`
	ChunkCount int       `json:"chunk_count"`
}

// Chunk is an overlapping slice of a document together with its embedding.
type Chunk struct {
	ID        int64     `json:"id"`
	DocID     int64     `json:"doc_id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	Index     int       `json:"index"`
}

// ScoredChunk is a chunk ranked against a query vector.
type ScoredChunk struct {
	Chunk    Chunk   `json:"chunk"`
	DocTitle string  `json:"doc_title,omitempty"`
	Score    float64 `json:"score"`
}

// IngestResult summarizes one AddDocument run.
type IngestResult struct {
	RunID    string        `json:"run_id"`
	DocID    int64         `json:"doc_id"`
	Chunks   int           `json:"chunks"`
	Stored   int           `json:"stored"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Partial reports whether some chunks could not be embedded or stored.
func (r *IngestResult) Partial() bool {
	return r.Failed > 0
}

// StoreStats holds aggregate counts for the knowledge store.
type StoreStats struct {
	Documents    int `json:"documents"`
	Chunks       int `json:"chunks"`
	EmbeddingDim int `json:"embedding_dim"`
}

// KnowledgeStore persists documents and their embedded chunks.
type KnowledgeStore interface {
	// AddDocument stores a document row and returns its id.
	AddDocument(ctx context.Context, title, content string) (int64, error)

	// AddChunk stores one chunk. The owning document must already exist.
	AddChunk(ctx context.Context, chunk Chunk) error

	// GetDocuments returns document metadata (without content), oldest first.
	GetDocuments(ctx context.Context) ([]Document, error)

	// GetDocument returns a single document including its content.
	GetDocument(ctx context.Context, id int64) (*Document, error)

	// AllChunks performs a full scan of every stored chunk.
	AllChunks(ctx context.Context) ([]Chunk, error)

	// ChunksByDocument returns the chunks of one document in index order.
	ChunksByDocument(ctx context.Context, docID int64) ([]Chunk, error)

	// DeleteDocument removes a document and all its chunks.
	DeleteDocument(ctx context.Context, id int64) error

	Stats(ctx context.Context) (StoreStats, error)

	Close() error
}
