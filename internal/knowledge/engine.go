// Package knowledge provides the RAG (Retrieval-Augmented Generation) engine:
// chunking, sequential ingestion with per-chunk failure tolerance, and
// cosine-similarity search over the stored chunks.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"egocoach/internal/domain"
	"egocoach/internal/metrics"

	"github.com/google/uuid"
)

// DefaultSearchLimit is the number of results returned when k <= 0.
const DefaultSearchLimit = 3

// NoOverlap disables chunk overlap in EngineConfig; a zero Overlap selects
// DefaultChunkOverlap.
const NoOverlap = -1

// ProgressFunc receives the ingestion progress in percent (1..100).
type ProgressFunc func(percent int)

// Engine manages the knowledge base: adding documents, chunking, and searching.
type Engine struct {
	store    domain.KnowledgeStore
	embedder domain.Embedder
	index    VectorIndex
	chunker  Chunker
	logger   *slog.Logger
}

type EngineConfig struct {
	Store     domain.KnowledgeStore
	Embedder  domain.Embedder
	Index     VectorIndex // default: LinearIndex
	ChunkSize int         // runes per chunk (default: 500)
	Overlap   int         // overlapping runes between chunks (default: 50, NoOverlap for none)
	Logger    *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	switch {
	case cfg.Overlap == 0:
		cfg.Overlap = DefaultChunkOverlap
	case cfg.Overlap < 0:
		cfg.Overlap = 0
	}
	if cfg.Index == nil {
		cfg.Index = NewLinearIndex(cfg.Logger)
	}
	return &Engine{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		index:    cfg.Index,
		chunker:  NewChunker(cfg.ChunkSize, cfg.Overlap),
		logger:   cfg.Logger,
	}
}

// AddDocument stores the document row, then chunks the content and embeds
// and stores each chunk strictly in order. A failed embedding is logged,
// counted and skipped; a storage failure aborts ingestion. ctx is checked
// before every embedding call. onProgress may be nil.
func (e *Engine) AddDocument(ctx context.Context, title, content string, onProgress ProgressFunc) (*domain.IngestResult, error) {
	started := time.Now()
	if onProgress == nil {
		onProgress = func(int) {}
	}

	metrics.IngestionsActive.Inc()
	defer metrics.IngestionsActive.Dec()

	docID, err := e.store.AddDocument(ctx, title, content)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	metrics.DocumentsIngested.Inc()

	chunks := e.chunker.Split(content)
	res := &domain.IngestResult{
		RunID:  uuid.NewString(),
		DocID:  docID,
		Chunks: len(chunks),
	}
	log := e.logger.With("run_id", res.RunID, "doc_id", docID)
	log.Info("ingesting document", "title", title, "chunks", len(chunks), "size", len(content))

	if len(chunks) == 0 {
		onProgress(100)
		res.Duration = time.Since(started)
		return res, nil
	}

	for i, text := range chunks {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(started)
			log.Warn("ingestion cancelled", "chunk", i, "stored", res.Stored)
			return res, fmt.Errorf("ingestion cancelled at chunk %d: %w", i, err)
		}

		embedStart := time.Now()
		vec, err := e.embedder.Embed(ctx, text)
		metrics.EmbeddingLatency.ObserveSince(embedStart)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				res.Duration = time.Since(started)
				return res, fmt.Errorf("ingestion cancelled at chunk %d: %w", i, ctx.Err())
			}
			res.Failed++
			metrics.EmbeddingFailures.Inc()
			log.Warn("chunk embedding failed, skipping", "chunk", i, "err", err)
		default:
			err := e.store.AddChunk(ctx, domain.Chunk{
				DocID:     docID,
				Text:      text,
				Embedding: vec,
				Index:     i,
			})
			if errors.Is(err, domain.ErrDimensionMismatch) {
				res.Failed++
				log.Warn("chunk rejected by store, skipping", "chunk", i, "dim", len(vec), "err", err)
				break
			}
			if err != nil {
				res.Duration = time.Since(started)
				log.Error("storage failure, aborting ingestion", "chunk", i, "err", err)
				return res, fmt.Errorf("store chunk %d: %w", i, err)
			}
			res.Stored++
			metrics.ChunksStored.Inc()
		}

		onProgress(progressPercent(i+1, len(chunks)))
	}

	res.Duration = time.Since(started)
	log.Info("document ingested",
		"stored", res.Stored, "failed", res.Failed, "duration", res.Duration)
	return res, nil
}

// progressPercent rounds done/total to a percentage, never reporting 0
// once at least one chunk has been attempted.
func progressPercent(done, total int) int {
	p := int(math.Round(100 * float64(done) / float64(total)))
	if p < 1 {
		p = 1
	}
	if p > 100 {
		p = 100
	}
	return p
}

// Search embeds the query and returns the k most similar chunks (default 3).
// A concurrent AddDocument may be partially visible.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultSearchLimit
	}
	started := time.Now()
	defer metrics.SearchLatency.ObserveSince(started)

	qv, err := e.embedder.Embed(ctx, query)
	if err != nil {
		metrics.SearchFailures.Inc()
		return nil, fmt.Errorf("embed query: %w: %w", domain.ErrEmbedding, err)
	}

	chunks, err := e.store.AllChunks(ctx)
	if err != nil {
		metrics.SearchFailures.Inc()
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	results := e.index.Rank(qv, chunks, k)
	if len(results) > 0 {
		e.attachTitles(ctx, results)
	}
	metrics.SearchesTotal.Inc()

	e.logger.Debug("knowledge search", "k", k, "scanned", len(chunks), "results", len(results))
	return results, nil
}

func (e *Engine) attachTitles(ctx context.Context, results []domain.ScoredChunk) {
	docs, err := e.store.GetDocuments(ctx)
	if err != nil {
		e.logger.Warn("cannot resolve document titles", "err", err)
		return
	}
	titles := make(map[int64]string, len(docs))
	for _, d := range docs {
		titles[d.ID] = d.Title
	}
	for i := range results {
		results[i].DocTitle = titles[results[i].Chunk.DocID]
	}
}

// GetDocuments returns all documents in the knowledge base.
func (e *Engine) GetDocuments(ctx context.Context) ([]domain.Document, error) {
	return e.store.GetDocuments(ctx)
}

// DeleteDocument removes a document and its chunks.
func (e *Engine) DeleteDocument(ctx context.Context, id int64) error {
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	e.logger.Info("document deleted", "doc_id", id)
	return nil
}

// Stats returns document and chunk counts.
func (e *Engine) Stats(ctx context.Context) (domain.StoreStats, error) {
	return e.store.Stats(ctx)
}

// BuildContext generates a context string from search results for prompt injection.
func BuildContext(results []domain.ScoredChunk) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Relevant Knowledge\n\n")
	for i, r := range results {
		source := r.DocTitle
		if source == "" {
			source = fmt.Sprintf("document %d", r.Chunk.DocID)
		}
		fmt.Fprintf(&sb, "### Source: %s (chunk %d)\n", source, r.Chunk.Index)
		sb.WriteString(r.Chunk.Text)
		if i < len(results)-1 {
			sb.WriteString("\n\n---\n\n")
		}
	}
	return sb.String()
}
